package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/xeptore/hifidl/must"
)

var (
	ErrAllTargetsFailed = errors.New("all API targets failed")

	errUnexpectedPayload = errors.New("success response carries error-shaped payload")
	errHTTPStatus        = errors.New("response has error status code")
)

// ProxyHintError is returned when every attempt failed at the network level
// and a proxy would likely have helped.
type ProxyHintError struct {
	cause error
}

func (e *ProxyHintError) Error() string {
	return "all API mirrors are unreachable; a CORS/anonymization proxy is likely required, check the proxy configuration"
}

func (e *ProxyHintError) Unwrap() error {
	return e.cause
}

type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Result) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

func (r *Result) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if nil != err {
		return false
	}

	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

type Options struct {
	Timeout time.Duration
	Header  http.Header
}

const defaultAttemptDelay = 250 * time.Millisecond

type Executor struct {
	reg          *Registry
	proxyURL     string
	limiter      *rate.Limiter
	attemptDelay time.Duration
}

func NewExecutor(reg *Registry, proxyURL string, limiter *rate.Limiter) *Executor {
	return &Executor{
		reg:          reg,
		proxyURL:     proxyURL,
		limiter:      limiter,
		attemptDelay: defaultAttemptDelay,
	}
}

// Do replays the request against the mirror pool until a genuinely good
// response arrives, and fails only when every attempt is exhausted.
func (e *Executor) Do(ctx context.Context, logger zerolog.Logger, rawURL string, opts Options) (*Result, error) {
	reqURL, err := url.Parse(rawURL)
	if nil != err {
		logger.Error().Err(err).Str("url", rawURL).Msg("Failed to parse request URL")
		return nil, fmt.Errorf("parse request URL: %v", err)
	}

	origin, ok := e.reg.FindOrigin(reqURL)
	if !ok {
		// The URL does not address any configured mirror. There is nothing to
		// fail over to, so perform a single (possibly proxied) fetch.
		return e.fetch(ctx, logger, e.proxied(rawURL, true), opts)
	}

	targets := e.attemptTargets(reqURL, origin)
	must.Be(len(targets) > 0, "attempt target list is never empty for a known origin")

	var (
		numAttempts = max(3, len(e.reg.Targets()))

		lastUnexpected *Result
		lastHTTPErr    *Result
		lastNetErr     error
		attempt        int
		out            *Result
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.attemptDelay), uint64(numAttempts-1)), //nolint:gosec
		ctx,
	)
	retryErr := backoff.Retry(func() error {
		// Cycling may revisit a target when fewer than 3 mirrors are
		// configured; the extra redundancy is intentional.
		target := targets[attempt%len(targets)]
		attempt++

		logger := logger.With().Str("target", target.Name).Int("attempt", attempt).Logger()

		fetchURL := RewriteURL(reqURL, origin, target).String()
		res, err := e.fetch(ctx, logger, e.proxied(fetchURL, target.RequiresProxy), opts)
		if nil != err {
			logger.Warn().Err(err).Msg("Target fetch failed")
			lastNetErr = err

			return err
		}

		if res.OK() {
			if res.IsJSON() && IsErrorShaped(res.Body) {
				logger.Warn().Msg("Target returned success status with error-shaped payload")
				lastUnexpected = res

				return errUnexpectedPayload
			}

			out = res

			return nil
		}

		logger.Warn().Int("status_code", res.StatusCode).Msg("Target returned error status")
		lastHTTPErr = res

		return errHTTPStatus
	}, policy)
	if nil == retryErr {
		return out, nil
	}

	if err := ctx.Err(); nil != err {
		return nil, fmt.Errorf("request cancelled: %w", err)
	}

	if nil != lastUnexpected {
		return lastUnexpected, nil
	}

	if nil != lastHTTPErr {
		return lastHTTPErr, nil
	}

	if nil != lastNetErr {
		if e.proxyURL == "" && e.anyTargetRequiresProxy() {
			return nil, &ProxyHintError{cause: lastNetErr}
		}

		return nil, fmt.Errorf("all targets failed with network errors: %w", lastNetErr)
	}

	return nil, ErrAllTargetsFailed
}

// attemptTargets builds the ordered, de-duplicated attempt list: the primary
// target when the route is known to be unreliable on secondary mirrors, one
// weighted-random pick, then the remaining targets in registry order.
func (e *Executor) attemptTargets(reqURL *url.URL, origin Target) []Target {
	out := make([]Target, 0, len(e.reg.Targets())+2)

	appendUnique := func(t Target) {
		for _, existing := range out {
			if existing.Name == t.Name {
				return
			}
		}
		out = append(out, t)
	}

	if routePrefersPrimary(reqURL, origin) {
		appendUnique(e.reg.PrimaryTarget())
	}

	appendUnique(e.reg.SelectTarget())

	for _, t := range e.reg.Targets() {
		appendUnique(t)
	}

	return out
}

// routePrefersPrimary reports whether the route must first be tried against
// the primary target: album/artist/playlist detail routes, and search routes
// carrying artist/album/playlist parameters.
func routePrefersPrimary(reqURL *url.URL, origin Target) bool {
	rel := strings.Trim(RelativePath(reqURL, origin.BaseURL), "/")
	seg, _, _ := strings.Cut(rel, "/")

	switch strings.ToLower(seg) {
	case "album", "artist", "playlist":
		return true
	case "search":
		q := reqURL.Query()
		return q.Has("a") || q.Has("al") || q.Has("p")
	default:
		return false
	}
}

func (e *Executor) anyTargetRequiresProxy() bool {
	for _, t := range e.reg.Targets() {
		if t.RequiresProxy {
			return true
		}
	}

	return false
}

// proxied wraps the URL with the configured proxy when the target requires
// it: <proxy>?url=<url-encoded target>.
func (e *Executor) proxied(rawURL string, requiresProxy bool) string {
	if !requiresProxy || e.proxyURL == "" {
		return rawURL
	}

	return e.proxyURL + "?url=" + url.QueryEscape(rawURL)
}

func (e *Executor) fetch(ctx context.Context, logger zerolog.Logger, fetchURL string, opts Options) (res *Result, err error) {
	if err := e.limiter.Wait(ctx); nil != err {
		return nil, fmt.Errorf("wait for request rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to create API request")
		return nil, fmt.Errorf("create API request: %v", err)
	}

	req.Header.Set("Accept", "application/json")
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := http.Client{Timeout: opts.Timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("send API request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close API response body")
			err = errors.Join(err, fmt.Errorf("close API response body: %v", closeErr))
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read API response body")
		return nil, fmt.Errorf("read API response body: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBytes,
	}, nil
}
