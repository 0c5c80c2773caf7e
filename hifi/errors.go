package hifi

import (
	"errors"
)

var (
	// ErrRateLimited propagates verbatim to the caller; it is never silently
	// retried past this layer.
	ErrRateLimited = errors.New("the API rate limited the client, try again later")

	// ErrMalformedLookup means a successful track lookup was missing either
	// the track metadata or the stream info. Fatal, not retried.
	ErrMalformedLookup = errors.New("track lookup response is malformed")

	// ErrDashUnavailable is the benign no-manifest case; callers downgrade
	// quality silently instead of alarming the user.
	ErrDashUnavailable = errors.New("DASH manifest unavailable")
)

// TokenExpiredError is the retryable expired-token response (HTTP 401 with
// subStatus 11002). The mirror's user-facing message is preserved.
type TokenExpiredError struct {
	UserMessage string
}

func (e *TokenExpiredError) Error() string {
	if e.UserMessage != "" {
		return "access token expired: " + e.UserMessage
	}

	return "access token expired"
}
