// Package monitor samples per-process and system-wide CPU/memory in a
// background loop and publishes ranked snapshots through a thread-safe API.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/procwatch/procwatch/pkg/system/ps"
)

// fullTickEvery is the maximum age of the published process list before
// the loop re-enumerates on its own, without an explicit request.
const fullTickEvery = 5 * time.Second

// shutdownGrace is how much longer than one tick interval Shutdown waits
// for the loop to exit before logging a shutdown failure.
const shutdownGrace = 5 * time.Second

// Monitor is the engine: one background loop samples the system and the
// process table, and the exported methods form the thread-safe snapshot
// and control boundary. All mutable state lives behind one mutex; OS calls
// always happen outside it and their results are merged back under it.
type Monitor struct {
	reader ps.Reader
	log    *slog.Logger

	// pending coalesces RequestUpdate calls into a single full refresh.
	pending atomic.Bool

	mu       sync.Mutex
	cfg      Config
	procs    []ProcessInfo
	sys      SystemStats
	ring     *statsRing
	cache    *infoCache
	cpuHist  *cpuHistory
	lastFull time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New verifies baseline OS introspection access, warms the sampling
// baselines, and starts the background loop. Verification failure is
// fatal: no Monitor is returned and nothing is left running.
func New(cfg *Config) (*Monitor, error) {
	return NewWithReader(cfg, ps.NewReader(), slog.Default())
}

// NewWithReader is New with an injected reader and logger.
func NewWithReader(cfg *Config, reader ps.Reader, log *slog.Logger) (*Monitor, error) {
	if log == nil {
		log = slog.Default()
	}
	m := newMonitor(cfg, reader, log)
	if err := reader.Verify(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}
	m.warmup()
	go m.loop()
	m.log.Info("monitor started",
		"threshold", m.cfg.Threshold,
		"interval", m.cfg.UpdateInterval)
	return m, nil
}

// newMonitor builds the engine without verifying access or starting the
// loop. Tests drive ticks on it directly.
func newMonitor(cfg *Config, reader ps.Reader, log *slog.Logger) *Monitor {
	merged := mergeConfig(cfg)
	return &Monitor{
		reader:  reader,
		log:     log,
		cfg:     merged,
		ring:    newStatsRing(merged.HistoryPoints),
		cache:   newInfoCache(merged.CacheTTL),
		cpuHist: newCPUHistory(merged.AvgWindow),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// warmup primes the system CPU baseline and touches the process table once
// so the first tick reports deltas instead of zeros.
func (m *Monitor) warmup() {
	if _, err := m.reader.System(); err != nil {
		m.log.Warn("warmup: system stats unavailable", "err", err)
	}
	pids, err := m.reader.Pids()
	if err != nil {
		m.log.Warn("warmup: process enumeration failed", "err", err)
		return
	}
	m.log.Info("warmup complete", "processes", len(pids))
}

func (m *Monitor) loop() {
	defer close(m.done)
	for {
		m.tick(time.Now())
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.interval()):
		}
	}
}

// tick is one scheduler iteration: system refresh and sweeps every time,
// process re-enumeration when a full tick is due. Errors are logged and
// absorbed; a misbehaving reader must not take the loop down.
func (m *Monitor) tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("tick panicked", "panic", r)
		}
	}()
	if err := m.refreshSystem(now); err != nil {
		m.log.Warn("system stats refresh failed", "err", err)
	}
	m.sweep(now)
	if m.fullTickDue(now) {
		m.refreshProcesses(now)
	}
}

// fullTickDue consumes a pending update request, or fires on elapsed time
// since the last full tick. Multiple requests between wakeups collapse
// into one.
func (m *Monitor) fullTickDue(now time.Time) bool {
	requested := m.pending.CompareAndSwap(true, false)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !requested && now.Sub(m.lastFull) < fullTickEvery {
		return false
	}
	m.lastFull = now
	return true
}

func (m *Monitor) refreshSystem(now time.Time) error {
	sys, err := m.reader.System() // OS call, outside the lock
	if err != nil {
		return err
	}
	stats := SystemStats{
		CPUPercent:    sys.CPUPercent,
		MemoryPercent: sys.MemoryPercent,
		CPUFreqMHz:    sys.CPUFreqMHz,
		CPUCount:      sys.CPUCount,
		CPUTimes: CPUTimes{
			User:   sys.UserPercent,
			System: sys.SystemPercent,
			Idle:   sys.IdlePercent,
		},
		Memory: MemoryStats{
			Total:     sys.MemTotal,
			Available: sys.MemAvailable,
			Used:      sys.MemUsed,
		},
	}

	m.mu.Lock()
	m.sys = stats
	m.ring.push(HistoryPoint{
		At:            now,
		CPUPercent:    stats.CPUPercent,
		MemoryPercent: stats.MemoryPercent,
	})
	m.mu.Unlock()
	return nil
}

func (m *Monitor) sweep(now time.Time) {
	m.mu.Lock()
	removed := m.cache.sweep(now)
	m.cpuHist.prune(now)
	m.mu.Unlock()
	if removed > 0 {
		m.log.Debug("cache sweep", "removed", removed)
	}
}

// refreshProcesses is the full tick: enumerate, read each candidate via
// the cheap or full path, re-rank by rolling average, publish wholesale.
func (m *Monitor) refreshProcesses(now time.Time) {
	pids := m.candidates()
	if len(pids) == 0 {
		m.log.Warn("enumeration yielded no processes, skipping full tick")
		return
	}

	// Classify cheap vs full per cache freshness, under the lock.
	m.mu.Lock()
	cached := make(map[int32]ProcessInfo, len(pids))
	for _, pid := range pids {
		if info, fresh := m.cache.get(pid, now); fresh {
			cached[pid] = info
		}
	}
	m.mu.Unlock()

	// OS reads, no engine lock held.
	type readResult struct {
		info    ProcessInfo
		cheap   bool
		partial bool
	}
	results := make([]readResult, 0, len(pids))
	var gone []int32
	for _, pid := range pids {
		if base, ok := cached[pid]; ok {
			cpuPct, memPct, err := m.reader.Refresh(pid)
			if err == nil {
				base.CPUPercent = cpuPct
				base.MemoryPercent = memPct
				results = append(results, readResult{info: base, cheap: true})
				continue
			}
			if errors.Is(err, ps.ErrVanished) {
				gone = append(gone, pid)
				continue
			}
			// Cheap refresh failed for another reason; fall through to a
			// full read below.
		}
		sample, err := m.reader.Snapshot(pid)
		if err != nil {
			if errors.Is(err, ps.ErrVanished) {
				gone = append(gone, pid)
			} else {
				m.log.Debug("process read failed", "pid", pid, "err", err)
			}
			continue
		}
		results = append(results, readResult{
			info: ProcessInfo{
				Name:          sample.Name,
				PID:           pid,
				CPUPercent:    sample.CPUPercent,
				MemoryPercent: sample.MemoryPercent,
				Username:      sample.Username,
				Command:       sample.Command,
				CreateTime:    sample.CreateTime,
				Threads:       sample.Threads,
			},
			partial: sample.Partial,
		})
	}

	// Merge, classify, rank and publish under the lock.
	m.mu.Lock()
	threshold := m.cfg.Threshold
	for _, pid := range gone {
		m.cache.invalidate(pid)
	}
	procs := make([]ProcessInfo, 0, len(results))
	active := make([]int32, 0, len(results))
	for _, r := range results {
		info := r.info
		m.cpuHist.record(info.PID, now, info.CPUPercent)
		info.AvgCPUPercent = m.cpuHist.rollingAverage(info.PID, now)
		info.Status = deriveStatus(info.AvgCPUPercent, threshold, r.partial)
		if r.cheap {
			m.cache.update(info.PID, info)
		} else {
			m.cache.put(info.PID, info, now)
		}
		procs = append(procs, info)
		active = append(active, info.PID)
	}
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].AvgCPUPercent > procs[j].AvgCPUPercent
	})
	m.procs = procs
	m.mu.Unlock()

	m.reader.Prune(active)
	m.log.Debug("full refresh published", "processes", len(procs))
}

// candidates picks the PIDs to introspect this full tick: the primary
// enumeration pre-ranked by last-known instantaneous CPU and capped at
// MaxProcs. An empty primary falls back to raw PIDs in OS-reported order,
// a degraded path that is deliberately left unranked.
func (m *Monitor) candidates() []int32 {
	pids, err := m.reader.Procs()
	if err != nil {
		m.log.Warn("primary enumeration failed", "err", err)
	}
	m.mu.Lock()
	maxProcs := m.cfg.MaxProcs
	m.mu.Unlock()

	if len(pids) == 0 {
		raw, rerr := m.reader.Pids()
		if rerr != nil {
			m.log.Error("raw pid fallback failed", "err", rerr)
			return nil
		}
		if len(raw) > maxProcs {
			raw = raw[:maxProcs]
		}
		return raw
	}

	m.mu.Lock()
	lastCPU := make(map[int32]float64, len(pids))
	for _, pid := range pids {
		if v, ok := m.cache.peekCPU(pid); ok {
			lastCPU[pid] = v
		}
	}
	m.mu.Unlock()

	sort.SliceStable(pids, func(i, j int) bool {
		return lastCPU[pids[i]] > lastCPU[pids[j]]
	})
	if len(pids) > maxProcs {
		pids = pids[:maxProcs]
	}
	return pids
}

func deriveStatus(avgCPU, threshold float64, partial bool) Status {
	if partial {
		return StatusUnknown
	}
	if avgCPU > threshold {
		return StatusHigh
	}
	return StatusNormal
}

// GetProcesses returns a copy of the last published full-tick result,
// ordered by rolling-average CPU descending.
func (m *Monitor) GetProcesses() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessInfo, len(m.procs))
	copy(out, m.procs)
	return out
}

// GetSystemStats returns a copy of the latest fast-tick system reading.
func (m *Monitor) GetSystemStats() SystemStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sys
}

// GetHistory returns a copy of the bounded trend history, oldest first.
func (m *Monitor) GetHistory() []HistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.snapshot()
}

// RequestUpdate asks the loop for a full refresh on its next wakeup.
// Repeated calls before the loop wakes collapse into one refresh.
func (m *Monitor) RequestUpdate() {
	m.pending.Store(true)
}

// KillProcess requests OS-level termination. On success the PID is evicted
// from the cache, the CPU history and the published list immediately, so a
// stale entry is never served. Returns false when the process no longer
// exists or termination was denied.
func (m *Monitor) KillProcess(pid int32) bool {
	if err := m.reader.Kill(pid); err != nil { // OS call, outside the lock
		m.log.Warn("terminate failed", "pid", pid, "err", err)
		return false
	}

	m.mu.Lock()
	m.cache.invalidate(pid)
	m.cpuHist.remove(pid)
	kept := make([]ProcessInfo, 0, len(m.procs))
	for _, p := range m.procs {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	m.procs = kept
	m.mu.Unlock()

	m.log.Info("process terminated", "pid", pid)
	return true
}

// SetThreshold changes the High/Normal boundary. Takes effect on the next
// tick; already-published entries keep their classification.
func (m *Monitor) SetThreshold(percent float64) {
	m.mu.Lock()
	m.cfg.Threshold = percent
	m.mu.Unlock()
	m.log.Info("threshold updated", "percent", percent)
}

// Threshold returns the current High/Normal boundary.
func (m *Monitor) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Threshold
}

// SetUpdateInterval changes the fast-tick cadence, floored at
// MinUpdateInterval. Observed when the loop next sleeps.
func (m *Monitor) SetUpdateInterval(d time.Duration) {
	if d < MinUpdateInterval {
		d = MinUpdateInterval
	}
	m.mu.Lock()
	m.cfg.UpdateInterval = d
	m.mu.Unlock()
	m.log.Info("update interval set", "interval", d)
}

// UpdateInterval returns the current fast-tick cadence.
func (m *Monitor) UpdateInterval() time.Duration {
	return m.interval()
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.UpdateInterval
}

// Shutdown stops the loop and waits, bounded, for it to exit. Idempotent.
// A loop that fails to stop within the grace period is logged as an error
// and not retried.
func (m *Monitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	select {
	case <-m.done:
	case <-time.After(m.interval() + shutdownGrace):
		m.log.Error("monitor loop did not stop within grace period")
		return
	}
	if err := m.reader.Close(); err != nil {
		m.log.Warn("reader close failed", "err", err)
	}
	m.log.Info("monitor stopped")
}
