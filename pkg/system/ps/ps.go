// Package ps wraps OS process introspection behind a uniform Reader
// capability: enumerate PIDs, read per-process metrics, read system-wide
// stats, and terminate processes. Partial or denied access degrades to
// sentinel field values instead of failing the caller; only Verify can
// report the subsystem as unusable.
package ps

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/procwatch/procwatch/pkg/types"
)

// UnknownField is the sentinel for string fields the OS refused to reveal.
const UnknownField = "N/A"

// Sample is one process's introspection result. Fields the OS denied hold
// sentinel values (UnknownField, 0) and Partial is set.
type Sample struct {
	Name          string
	CPUPercent    float64
	MemoryPercent float64
	Username      string
	Command       string
	CreateTime    int64 // unix seconds; 0 when unknown
	Threads       int32
	Partial       bool
}

// SysSample is one system-wide reading, taken wholesale per call.
type SysSample struct {
	CPUPercent    float64
	MemoryPercent float64
	CPUFreqMHz    float64
	CPUCount      int

	// CPU time shares over the window since the previous call.
	UserPercent   float64
	SystemPercent float64
	IdlePercent   float64

	MemTotal     types.Bytes
	MemAvailable types.Bytes
	MemUsed      types.Bytes
}

// Reader is the process-introspection capability consumed by the monitor
// engine. Implementations must treat a vanished PID (ErrVanished) as an
// expected, non-fatal condition.
type Reader interface {
	// Verify checks baseline introspection access. Failure means the whole
	// subsystem is unusable and wraps ErrUnavailable.
	Verify() error

	// Procs is the primary enumeration. It registers per-PID sampling state
	// so later CPU readings measure utilization since the previous call.
	Procs() ([]int32, error)

	// Pids lists raw PIDs in OS-reported order. Degraded fallback path for
	// when Procs yields nothing; carries no ranking information.
	Pids() ([]int32, error)

	// Snapshot reads the full per-process field set.
	Snapshot(pid int32) (Sample, error)

	// Refresh reads only CPU and memory percent. Cheap path for PIDs whose
	// full field set is still cached upstream.
	Refresh(pid int32) (cpuPct, memPct float64, err error)

	// System reads system-wide CPU/memory stats.
	System() (SysSample, error)

	// Kill requests termination, escalating TERM to KILL when the polite
	// signal is refused.
	Kill(pid int32) error

	// Prune drops per-PID sampling state for PIDs not in active.
	Prune(active []int32)

	Close() error
}

// reader implements Reader on gopsutil. It keeps one *process.Process
// handle per PID because gopsutil accumulates CPU-time deltas on the
// handle: Percent(0) only means "since last call" on the same instance.
type reader struct {
	mu        sync.Mutex
	handles   map[int32]*process.Process
	prevTimes cpu.TimesStat
	havePrev  bool
}

// NewReader constructs the production gopsutil-backed Reader.
func NewReader() Reader {
	return &reader{handles: make(map[int32]*process.Process)}
}

func (r *reader) Verify() error {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("%w: open self: %v", ErrUnavailable, err)
	}
	if _, err := self.Percent(0); err != nil {
		return fmt.Errorf("%w: read self cpu: %v", ErrUnavailable, err)
	}
	if _, err := self.MemoryPercent(); err != nil {
		return fmt.Errorf("%w: read self memory: %v", ErrUnavailable, err)
	}
	if _, err := cpu.Percent(0, false); err != nil {
		return fmt.Errorf("%w: read system cpu: %v", ErrUnavailable, err)
	}
	if _, err := mem.VirtualMemory(); err != nil {
		return fmt.Errorf("%w: read system memory: %v", ErrUnavailable, err)
	}
	// Seed the CPU-times baseline so the first System call reports deltas.
	if ts, err := cpu.Times(false); err == nil && len(ts) > 0 {
		r.mu.Lock()
		r.prevTimes, r.havePrev = ts[0], true
		r.mu.Unlock()
	}
	return nil
}

func (r *reader) Procs() ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	pids := make([]int32, 0, len(procs))
	r.mu.Lock()
	for _, p := range procs {
		if _, ok := r.handles[p.Pid]; !ok {
			r.handles[p.Pid] = p
		}
		pids = append(pids, p.Pid)
	}
	r.mu.Unlock()
	return pids, nil
}

func (r *reader) Pids() ([]int32, error) {
	pids, err := process.Pids()
	if err != nil {
		return nil, fmt.Errorf("enumerate pids: %w", err)
	}
	return pids, nil
}

func (r *reader) Snapshot(pid int32) (Sample, error) {
	h, err := r.handle(pid)
	if err != nil {
		return Sample{}, err
	}

	s := Sample{Username: UnknownField}

	name, err := h.Name()
	if err != nil {
		if vanished(err) {
			r.forget(pid)
			return Sample{}, fmt.Errorf("pid %d: %w", pid, ErrVanished)
		}
		name = UnknownField
		s.Partial = true
	}
	s.Name = name
	s.Command = name

	cpuPct, err := h.Percent(0)
	switch {
	case err == nil:
		s.CPUPercent = cpuPct
	case vanished(err):
		r.forget(pid)
		return Sample{}, fmt.Errorf("pid %d: %w", pid, ErrVanished)
	default:
		s.Partial = true
	}

	if memPct, err := h.MemoryPercent(); err == nil {
		s.MemoryPercent = float64(memPct)
	} else if vanished(err) {
		r.forget(pid)
		return Sample{}, fmt.Errorf("pid %d: %w", pid, ErrVanished)
	} else {
		s.Partial = true
	}

	// The remaining fields are best-effort: username, command line, create
	// time and thread count commonly require more privilege than the stat
	// fields above, so a refusal degrades the field rather than the read.
	if user, err := h.Username(); err == nil && user != "" {
		s.Username = user
	} else if err != nil {
		s.Partial = true
	}
	if cmd, err := h.Cmdline(); err == nil && cmd != "" {
		s.Command = cmd
	} else if exe, err := h.Exe(); err == nil && exe != "" {
		s.Command = exe
	}
	if created, err := h.CreateTime(); err == nil {
		s.CreateTime = created / 1000 // gopsutil reports milliseconds
	}
	if threads, err := h.NumThreads(); err == nil {
		s.Threads = threads
	}
	return s, nil
}

func (r *reader) Refresh(pid int32) (float64, float64, error) {
	h, err := r.handle(pid)
	if err != nil {
		return 0, 0, err
	}
	cpuPct, err := h.Percent(0)
	if err != nil {
		return 0, 0, r.readErr(pid, "cpu", err)
	}
	memPct, err := h.MemoryPercent()
	if err != nil {
		return 0, 0, r.readErr(pid, "memory", err)
	}
	return cpuPct, float64(memPct), nil
}

func (r *reader) System() (SysSample, error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return SysSample{}, fmt.Errorf("system cpu percent: %w", err)
	}
	if len(pcts) == 0 {
		return SysSample{}, errors.New("system cpu percent: empty reading")
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return SysSample{}, fmt.Errorf("virtual memory: %w", err)
	}

	s := SysSample{
		CPUPercent:    pcts[0],
		MemoryPercent: vm.UsedPercent,
		MemTotal:      types.ToBytes(vm.Total),
		MemAvailable:  types.ToBytes(vm.Available),
		MemUsed:       types.ToBytes(vm.Used),
	}

	// Frequency, logical count and the times breakdown are informational;
	// platforms that hide them degrade those fields to zero.
	if count, err := cpu.Counts(true); err == nil {
		s.CPUCount = count
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		s.CPUFreqMHz = infos[0].Mhz
	}
	if ts, err := cpu.Times(false); err == nil && len(ts) > 0 {
		s.UserPercent, s.SystemPercent, s.IdlePercent = r.timesDelta(ts[0])
	}
	return s, nil
}

// timesDelta converts cumulative CPU-time counters into user/system/idle
// percentage shares of the window since the previous call.
func (r *reader) timesDelta(cur cpu.TimesStat) (user, system, idle float64) {
	r.mu.Lock()
	prev, ok := r.prevTimes, r.havePrev
	r.prevTimes, r.havePrev = cur, true
	r.mu.Unlock()
	if !ok {
		return 0, 0, 0
	}
	total := cur.Total() - prev.Total()
	if total <= 0 {
		return 0, 0, 0
	}
	user = 100 * (cur.User - prev.User) / total
	system = 100 * (cur.System - prev.System) / total
	idle = 100 * (cur.Idle - prev.Idle) / total
	return user, system, idle
}

func (r *reader) Kill(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		if vanished(err) {
			return fmt.Errorf("pid %d: %w", pid, ErrVanished)
		}
		return fmt.Errorf("pid %d: open: %w", pid, err)
	}
	err = p.Terminate()
	if err != nil && denied(err) {
		// Polite TERM refused: escalate to a hard kill before giving up.
		err = p.Kill()
	}
	if err != nil {
		r.forget(pid)
		switch {
		case vanished(err):
			return fmt.Errorf("pid %d: %w", pid, ErrVanished)
		case denied(err):
			return fmt.Errorf("pid %d: terminate: %w", pid, ErrDenied)
		default:
			return fmt.Errorf("pid %d: terminate: %w", pid, err)
		}
	}
	r.forget(pid)
	return nil
}

func (r *reader) Prune(active []int32) {
	keep := make(map[int32]struct{}, len(active))
	for _, pid := range active {
		keep[pid] = struct{}{}
	}
	r.mu.Lock()
	for pid := range r.handles {
		if _, ok := keep[pid]; !ok {
			delete(r.handles, pid)
		}
	}
	r.mu.Unlock()
}

func (r *reader) Close() error {
	r.mu.Lock()
	r.handles = make(map[int32]*process.Process)
	r.havePrev = false
	r.mu.Unlock()
	return nil
}

func (r *reader) handle(pid int32) (*process.Process, error) {
	r.mu.Lock()
	h, ok := r.handles[pid]
	r.mu.Unlock()
	if ok {
		return h, nil
	}
	h, err := process.NewProcess(pid)
	if err != nil {
		if vanished(err) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrVanished)
		}
		return nil, fmt.Errorf("pid %d: open: %w", pid, err)
	}
	r.mu.Lock()
	r.handles[pid] = h
	r.mu.Unlock()
	return h, nil
}

func (r *reader) forget(pid int32) {
	r.mu.Lock()
	delete(r.handles, pid)
	r.mu.Unlock()
}

// readErr maps a per-field read failure, forgetting the handle when the
// process is gone so a reused PID starts from a fresh baseline.
func (r *reader) readErr(pid int32, field string, err error) error {
	if vanished(err) {
		r.forget(pid)
		return fmt.Errorf("pid %d: %w", pid, ErrVanished)
	}
	if denied(err) {
		return fmt.Errorf("pid %d: read %s: %w", pid, field, ErrDenied)
	}
	return fmt.Errorf("pid %d: read %s: %w", pid, field, err)
}

func vanished(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ESRCH)
}

func denied(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM)
}
