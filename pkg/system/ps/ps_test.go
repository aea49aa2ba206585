package ps

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An unlikely PID: far above typical pid_max and never the test process.
const noSuchPID = int32(99999999)

func TestVerify(t *testing.T) {
	r := NewReader()
	require.NoError(t, r.Verify(), "baseline introspection should work for self")
}

func TestProcsAndPids_ContainSelf(t *testing.T) {
	r := NewReader()
	me := int32(os.Getpid())

	procs, err := r.Procs()
	require.NoError(t, err)
	assert.Contains(t, procs, me, "primary enumeration should include self")

	pids, err := r.Pids()
	require.NoError(t, err)
	assert.Contains(t, pids, me, "raw enumeration should include self")
}

func TestSnapshot_Self(t *testing.T) {
	r := NewReader()
	me := int32(os.Getpid())

	s, err := r.Snapshot(me)
	require.NoError(t, err)
	assert.NotEmpty(t, s.Name)
	assert.NotEmpty(t, s.Command)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
	assert.GreaterOrEqual(t, s.MemoryPercent, 0.0)
	assert.Greater(t, s.Threads, int32(0), "a running Go process has threads")
	assert.Greater(t, s.CreateTime, int64(0))
}

func TestSnapshot_NoSuchPid(t *testing.T) {
	r := NewReader()
	_, err := r.Snapshot(noSuchPID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVanished), "missing pid should map to ErrVanished, got %v", err)
}

func TestRefresh_SelfMeasuresSinceLastCall(t *testing.T) {
	r := NewReader()
	me := int32(os.Getpid())

	// First reading establishes the baseline.
	_, _, err := r.Refresh(me)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cpuPct, memPct, err := r.Refresh(me)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cpuPct, 0.0)
	assert.GreaterOrEqual(t, memPct, 0.0)
}

func TestRefresh_NoSuchPid(t *testing.T) {
	r := NewReader()
	_, _, err := r.Refresh(noSuchPID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVanished))
}

func TestSystem(t *testing.T) {
	r := NewReader()
	require.NoError(t, r.Verify())

	time.Sleep(20 * time.Millisecond)
	s, err := r.System()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.CPUPercent, 0.0)
	assert.Greater(t, s.MemoryPercent, 0.0)
	assert.Greater(t, uint64(s.MemTotal), uint64(0))
	assert.GreaterOrEqual(t, uint64(s.MemTotal), uint64(s.MemUsed))
	assert.Greater(t, s.CPUCount, 0)
}

func TestKill_NoSuchPid(t *testing.T) {
	r := NewReader()
	err := r.Kill(noSuchPID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVanished))
}

func TestPrune_DropsInactiveHandles(t *testing.T) {
	r := NewReader().(*reader)
	me := int32(os.Getpid())

	_, err := r.Snapshot(me)
	require.NoError(t, err)

	r.mu.Lock()
	_, had := r.handles[me]
	r.mu.Unlock()
	require.True(t, had)

	r.Prune(nil)

	r.mu.Lock()
	_, has := r.handles[me]
	r.mu.Unlock()
	assert.False(t, has, "prune with empty active set should drop all handles")
}

func TestClose_ResetsState(t *testing.T) {
	r := NewReader().(*reader)
	me := int32(os.Getpid())
	_, err := r.Snapshot(me)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r.mu.Lock()
	n := len(r.handles)
	r.mu.Unlock()
	assert.Zero(t, n)
}
