// Copyright 2025 Certen Protocol

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryAt_GrowsExponentiallyAndRespectsCap(t *testing.T) {
	cfg := &Config{RetryBase: time.Second, RetryCap: 10 * time.Second, RetryJitter: 0}
	w := &Worker{cfg: cfg}

	now := time.Now()
	first := w.nextRetryAt(0).Sub(now)
	third := w.nextRetryAt(2).Sub(now)
	capped := w.nextRetryAt(10).Sub(now)

	assert.InDelta(t, time.Second, first, float64(200*time.Millisecond))
	assert.InDelta(t, 4*time.Second, third, float64(200*time.Millisecond))
	assert.LessOrEqual(t, capped, 10*time.Second+200*time.Millisecond)
}

func TestNextRetryAt_JitterStaysWithinFraction(t *testing.T) {
	cfg := &Config{RetryBase: 10 * time.Second, RetryCap: time.Minute, RetryJitter: 0.3}
	w := &Worker{cfg: cfg}

	now := time.Now()
	delay := w.nextRetryAt(0).Sub(now)

	lower := 10 * time.Second * 7 / 10
	upper := 10 * time.Second * 13 / 10
	assert.GreaterOrEqual(t, delay, lower-time.Second)
	assert.LessOrEqual(t, delay, upper+time.Second)
}
