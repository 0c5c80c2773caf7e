package ratelimit_test

import (
	"testing"

	"golang.org/x/time/rate"

	"github.com/xeptore/hifidl/ratelimit"
)

func TestNewAPILimiter(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewAPILimiter(8, 16)
	if got := l.Limit(); got != rate.Limit(8) {
		t.Errorf("expected limit 8, got %v", got)
	}
	if got := l.Burst(); got != 16 {
		t.Errorf("expected burst 16, got %d", got)
	}

	unlimited := ratelimit.NewAPILimiter(0, 0)
	if got := unlimited.Limit(); got != rate.Inf {
		t.Errorf("expected unlimited, got %v", got)
	}
}
