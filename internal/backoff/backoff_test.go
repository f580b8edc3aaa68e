package backoff_test

import (
	"testing"
	"time"

	"github.com/ankitraval/jobforge/internal/backoff"
	"github.com/stretchr/testify/assert"
)

func TestDefault_Schedule(t *testing.T) {
	s := backoff.Default()

	want := []time.Duration{
		10 * time.Second,
		30 * time.Second,
		2 * time.Minute,
		10 * time.Minute,
		30 * time.Minute,
	}
	for i, d := range want {
		assert.Equal(t, d, s.Delay(i+1), "attempt %d", i+1)
	}
}

func TestDefault_CapHeldBeyondLadder(t *testing.T) {
	s := backoff.Default()

	for attempt := 6; attempt <= 50; attempt++ {
		assert.Equal(t, 60*time.Minute, s.Delay(attempt), "attempt %d", attempt)
	}
}

func TestDefault_MonotonicallyNonDecreasing(t *testing.T) {
	s := backoff.Default()

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := s.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestDelay_AttemptBelowOne(t *testing.T) {
	s := backoff.Default()

	assert.Equal(t, s.Delay(1), s.Delay(0))
	assert.Equal(t, s.Delay(1), s.Delay(-3))
}
