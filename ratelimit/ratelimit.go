// Package ratelimit paces outbound API requests so the client does not trip
// the mirrors' own rate limiting more than necessary.
package ratelimit

import (
	"golang.org/x/time/rate"
)

func NewAPILimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	if burst <= 0 {
		burst = 1
	}

	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
