// Package mirror routes logically-identical API requests across a weighted
// pool of third-party API mirrors, retrying across mirrors until one of them
// returns a genuinely good response.
package mirror

import (
	"errors"
	"math/rand/v2"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/xeptore/hifidl/config"
)

var ErrNoValidTargets = errors.New("no valid API targets configured")

type Target struct {
	Name          string
	BaseURL       *url.URL
	Weight        int
	RequiresProxy bool
}

type weightedTarget struct {
	Target
	cumulativeWeight float64
}

// RNG yields a value in [0, 1). Injected so selection is deterministic in
// tests; nil falls back to math/rand/v2.
type RNG func() float64

type Registry struct {
	targets  []Target
	weighted []weightedTarget
	total    float64
	rng      RNG
}

func NewRegistry(logger zerolog.Logger, mirrors []config.Mirror, rng RNG) (*Registry, error) {
	if rng == nil {
		rng = rand.Float64
	}

	targets := make([]Target, 0, len(mirrors))
	for _, m := range mirrors {
		if m.Weight <= 0 {
			logger.Warn().Str("mirror", m.Name).Int("weight", m.Weight).Msg("Skipping mirror with non-positive weight")
			continue
		}

		base, err := url.Parse(m.BaseURL)
		if nil != err || base.Scheme == "" || base.Host == "" {
			logger.Warn().Str("mirror", m.Name).Str("base_url", m.BaseURL).Msg("Skipping mirror with unparsable base URL")
			continue
		}

		targets = append(targets, Target{
			Name:          m.Name,
			BaseURL:       base,
			Weight:        m.Weight,
			RequiresProxy: m.RequiresProxy,
		})
	}

	if len(targets) == 0 {
		return nil, ErrNoValidTargets
	}

	var (
		weighted = make([]weightedTarget, 0, len(targets))
		total    float64
	)
	for _, t := range targets {
		total += float64(t.Weight)
		weighted = append(weighted, weightedTarget{Target: t, cumulativeWeight: total})
	}

	return &Registry{
		targets:  targets,
		weighted: weighted,
		total:    total,
		rng:      rng,
	}, nil
}

// SelectTarget picks a target at random, proportionally to its weight.
func (r *Registry) SelectTarget() Target {
	draw := r.rng() * r.total
	for _, w := range r.weighted {
		if w.cumulativeWeight > draw {
			return w.Target
		}
	}

	// Unreachable for draw < total; guard against rng implementations
	// returning exactly 1.
	return r.weighted[len(r.weighted)-1].Target
}

// PrimaryTarget returns the first configured valid target, independent of
// randomness. Metadata-heavy routes are forced toward it as secondary
// mirrors are known to be less reliable for them.
func (r *Registry) PrimaryTarget() Target {
	return r.targets[0]
}

func (r *Registry) Targets() []Target {
	return r.targets
}

// FindOrigin returns the target the URL logically addresses, matching on
// host and base path prefix.
func (r *Registry) FindOrigin(u *url.URL) (Target, bool) {
	for _, t := range r.targets {
		if t.BaseURL.Host == u.Host {
			return t, true
		}
	}

	return Target{}, false
}
