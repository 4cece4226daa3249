package server

import (
	"sync"
	"time"
)

// rateLimiter admits up to burst frames at once and then one frame per
// interval/burst. It tracks the theoretical arrival time of the next frame
// (GCRA) instead of a token count, so a denied frame costs nothing.
type rateLimiter struct {
	mu        sync.Mutex
	emission  time.Duration
	tolerance time.Duration
	tat       time.Time
	now       func() time.Time
}

func newRateLimiter(burst int, interval time.Duration, now func() time.Time) *rateLimiter {
	burst = max(burst, 1)
	if interval <= 0 {
		interval = time.Second
	}
	if now == nil {
		now = time.Now
	}
	emission := max(interval/time.Duration(burst), time.Nanosecond)
	return &rateLimiter{
		emission:  emission,
		tolerance: emission * time.Duration(burst-1),
		tat:       now(),
		now:       now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	tat := rl.tat
	if tat.Before(now) {
		tat = now
	}
	if tat.Sub(now) > rl.tolerance {
		return false
	}
	rl.tat = tat.Add(rl.emission)
	return true
}
