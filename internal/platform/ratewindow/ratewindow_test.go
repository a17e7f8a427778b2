package ratewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinCeiling(t *testing.T) {
	w := New(time.Minute, 2)
	now := time.Now()

	assert.True(t, w.Allow(now))
	assert.True(t, w.Allow(now))
	assert.False(t, w.Allow(now))
}

func TestBoundarySampleCounts(t *testing.T) {
	w := New(time.Minute, 1)
	start := time.Now()

	assert.True(t, w.Allow(start))

	// A sample landing exactly one window later: the old sample sits exactly
	// on the cutoff and is not evicted, so the new one is rejected.
	assert.False(t, w.Allow(start.Add(time.Minute)))

	// Once every earlier sample has aged out the window admits again.
	assert.True(t, w.Allow(start.Add(2*time.Minute+time.Nanosecond)))
}

func TestCount(t *testing.T) {
	w := New(time.Minute, 10)
	start := time.Now()

	w.Allow(start)
	w.Allow(start.Add(30 * time.Second))

	assert.Equal(t, 2, w.Count(start.Add(30*time.Second)))
	assert.Equal(t, 1, w.Count(start.Add(70*time.Second)))
	assert.Equal(t, 0, w.Count(start.Add(2*time.Minute)))
}

func TestRejectedSampleStillRecorded(t *testing.T) {
	w := New(time.Minute, 1)
	now := time.Now()

	w.Allow(now)
	assert.False(t, w.Allow(now))
	assert.Equal(t, 2, w.Count(now), "rejected samples still occupy the window")
}
