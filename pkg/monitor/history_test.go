package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUHistory_RollingAverage(t *testing.T) {
	base := time.Now()
	h := newCPUHistory(3 * time.Minute)
	h.record(1, base, 10)
	h.record(1, base.Add(60*time.Second), 20)
	h.record(1, base.Add(120*time.Second), 30)

	now := base.Add(150 * time.Second)
	assert.InDelta(t, 20.0, h.rollingAverage(1, now), 1e-9)

	// A sample that has aged out of the window must not shift the mean.
	h.record(1, base.Add(-40*time.Second), 99)
	assert.InDelta(t, 20.0, h.rollingAverage(1, now), 1e-9)
}

func TestCPUHistory_ExcludesFutureSamples(t *testing.T) {
	now := time.Now()
	h := newCPUHistory(3 * time.Minute)
	h.record(1, now, 10)
	h.record(1, now.Add(10*time.Second), 90)

	assert.InDelta(t, 10.0, h.rollingAverage(1, now), 1e-9)
}

func TestCPUHistory_EmptyIsZero(t *testing.T) {
	h := newCPUHistory(3 * time.Minute)
	assert.Zero(t, h.rollingAverage(42, time.Now()))

	// Samples exist but all fall outside the window.
	old := time.Now().Add(-time.Hour)
	h.record(42, old, 50)
	assert.Zero(t, h.rollingAverage(42, time.Now()))
}

func TestCPUHistory_PruneDeletesEmptyPIDs(t *testing.T) {
	base := time.Now()
	h := newCPUHistory(3 * time.Minute)
	h.record(1, base.Add(-10*time.Minute), 50)
	h.record(2, base, 50)
	require.Equal(t, 2, h.tracked())

	h.prune(base)
	assert.Equal(t, 1, h.tracked())
	assert.Zero(t, h.rollingAverage(1, base))
	assert.InDelta(t, 50.0, h.rollingAverage(2, base), 1e-9)
}

func TestCPUHistory_Remove(t *testing.T) {
	h := newCPUHistory(3 * time.Minute)
	h.record(1, time.Now(), 50)
	h.remove(1)
	assert.Zero(t, h.tracked())
}

func TestStatsRing_BoundedOldestFirst(t *testing.T) {
	base := time.Now()
	r := newStatsRing(100)
	for i := 0; i < 150; i++ {
		r.push(HistoryPoint{
			At:         base.Add(time.Duration(i) * time.Second),
			CPUPercent: float64(i),
		})
	}

	got := r.snapshot()
	require.Len(t, got, 100)
	assert.Equal(t, 50.0, got[0].CPUPercent, "oldest surviving point first")
	assert.Equal(t, 149.0, got[99].CPUPercent)
}

func TestStatsRing_SnapshotIsACopy(t *testing.T) {
	r := newStatsRing(10)
	r.push(HistoryPoint{CPUPercent: 1})

	got := r.snapshot()
	got[0].CPUPercent = 99
	assert.Equal(t, 1.0, r.snapshot()[0].CPUPercent)
}
