package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Throttle enforces a minimum interval between outbound calls. One Throttle
// is shared by every provider client in the process, so calls from concurrent
// runs are spaced out against the same clock.
type Throttle struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewThrottle creates a Throttle. A non-positive interval disables pacing.
func NewThrottle(minInterval time.Duration) *Throttle {
	if minInterval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		interval: minInterval,
	}
}

// Wait blocks until the next call may be issued or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return eris.Wrap(t.limiter.Wait(ctx), "throttle: wait")
}

// Interval returns the configured minimum spacing.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
