package util

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound broker calls. Kiwoom meters requests per app
// key, so one limiter is shared by every api-id a client sends.
type RateLimiter struct {
	lim *rate.Limiter
	log *slog.Logger
}

// NewRateLimiter allows perMinute calls per minute with a burst of one. A
// non-positive perMinute yields a limiter that never blocks.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{log: slog.Default().With("component", "ratelimit")}
	if perMinute > 0 {
		rl.lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
	return rl
}

// Wait blocks until apiID may be sent or ctx is done. A cancelled wait hands
// its slot back.
func (rl *RateLimiter) Wait(ctx context.Context, apiID string) error {
	if rl == nil || rl.lim == nil {
		return ctx.Err()
	}
	r := rl.lim.Reserve()
	d := r.Delay()
	if d == 0 {
		return nil
	}
	rl.log.Debug("throttled", "api_id", apiID, "wait", d.Round(time.Millisecond))
	if err := Sleep(ctx, d); err != nil {
		r.Cancel()
		return err
	}
	return nil
}
