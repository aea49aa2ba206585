package monitor

import "time"

// cpuSample is one (timestamp, cpu%) observation for a PID.
type cpuSample struct {
	at  time.Time
	cpu float64
}

// cpuHistory keeps a per-PID trailing window of CPU samples and answers
// rolling-average queries over wall-clock time. Averaging over time rather
// than sample count tolerates the uneven cadence introduced by the cheap
// refresh path sampling more often than full reads.
type cpuHistory struct {
	window  time.Duration
	samples map[int32][]cpuSample
}

func newCPUHistory(window time.Duration) *cpuHistory {
	return &cpuHistory{window: window, samples: make(map[int32][]cpuSample)}
}

func (h *cpuHistory) record(pid int32, at time.Time, cpu float64) {
	h.samples[pid] = append(h.samples[pid], cpuSample{at: at, cpu: cpu})
}

// rollingAverage returns the arithmetic mean of pid's samples inside
// [now-window, now], or 0 when none fall inside. Future-dated samples are
// excluded.
func (h *cpuHistory) rollingAverage(pid int32, now time.Time) float64 {
	samples := h.samples[pid]
	if len(samples) == 0 {
		return 0
	}
	cutoff := now.Add(-h.window)
	var sum float64
	n := 0
	for _, s := range samples {
		if s.at.Before(cutoff) || s.at.After(now) {
			continue
		}
		sum += s.cpu
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// prune drops samples older than the window and deletes a PID entirely
// once its list empties. This is what bounds memory for exited processes.
func (h *cpuHistory) prune(now time.Time) {
	cutoff := now.Add(-h.window)
	for pid, samples := range h.samples {
		kept := samples[:0]
		for _, s := range samples {
			if !s.at.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(h.samples, pid)
			continue
		}
		h.samples[pid] = kept
	}
}

// remove forgets a PID outright, e.g. after a kill.
func (h *cpuHistory) remove(pid int32) {
	delete(h.samples, pid)
}

// tracked reports how many PIDs currently hold samples.
func (h *cpuHistory) tracked() int { return len(h.samples) }

// statsRing is the bounded FIFO of system-wide history points. Append-only
// from the monitor loop; consumers get copies.
type statsRing struct {
	capacity int
	points   []HistoryPoint
}

func newStatsRing(capacity int) *statsRing {
	return &statsRing{capacity: capacity, points: make([]HistoryPoint, 0, capacity)}
}

func (r *statsRing) push(p HistoryPoint) {
	r.points = append(r.points, p)
	if len(r.points) > r.capacity {
		r.points = r.points[len(r.points)-r.capacity:]
	}
}

// snapshot returns a copy, oldest first.
func (r *statsRing) snapshot() []HistoryPoint {
	out := make([]HistoryPoint, len(r.points))
	copy(out, r.points)
	return out
}
