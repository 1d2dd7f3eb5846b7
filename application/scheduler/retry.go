package scheduler

import (
	"time"

	"graphsync/pkg/clock"
)

// RetryPolicy is a bounded retry with a fixed backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Run calls attempt immediately and then after every backoff until it
// returns true or MaxAttempts is reached, in which case onFailure receives
// the number of attempts made. Later attempts run on timers registered
// under name; if the registry is stopped the retry is dropped silently.
func (p RetryPolicy) Run(timers *clock.Timers, name string, attempt func(n int) bool, onFailure func(attempts int)) {
	limit := p.MaxAttempts
	if limit < 1 {
		limit = 1
	}

	var try func(n int)
	try = func(n int) {
		if attempt(n) {
			return
		}
		if n >= limit {
			if onFailure != nil {
				onFailure(n)
			}
			return
		}
		timers.Schedule(name, p.Backoff, func() { try(n + 1) })
	}
	try(1)
}
