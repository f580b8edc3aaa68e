// Package backoff computes retry delays for failed job executions.
// Strategies are stateless and safe for concurrent use.
package backoff

import "time"

// Strategy computes the delay before re-dispatching a failed job.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Schedule is a fixed step ladder: attempt n waits Steps[n-1], and every
// attempt past the ladder waits Cap. The ladder must be non-decreasing so the
// cap bounds worst-case retry storms.
type Schedule struct {
	Steps []time.Duration
	Cap   time.Duration
}

// Delay returns the scheduled delay for the given attempt. Attempts at or
// below zero map to the first step.
func (s *Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.Steps) {
		return s.Cap
	}
	return s.Steps[attempt-1]
}

// Default returns the engine's retry schedule:
// 10s, 30s, 2m, 10m, 30m, then 60m for every further attempt.
func Default() *Schedule {
	return &Schedule{
		Steps: []time.Duration{
			10 * time.Second,
			30 * time.Second,
			2 * time.Minute,
			10 * time.Minute,
			30 * time.Minute,
		},
		Cap: 60 * time.Minute,
	}
}
