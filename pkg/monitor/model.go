package monitor

import (
	"time"

	"github.com/procwatch/procwatch/pkg/types"
)

// Status classifies a process against the CPU threshold.
type Status string

const (
	// StatusNormal means the rolling-average CPU is at or below threshold.
	StatusNormal Status = "Normal"
	// StatusHigh means the rolling-average CPU exceeds the threshold.
	StatusHigh Status = "High"
	// StatusUnknown means introspection was partially denied, so there is
	// no trustworthy CPU figure to classify.
	StatusUnknown Status = "Unknown"
)

// ProcessInfo is one process's latest known state as published to readers.
// PID is the natural key: unique at a point in time, reused by the OS over
// time. Fields the OS refused hold sentinel values ("N/A", 0).
type ProcessInfo struct {
	Name          string  `json:"name"`
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Username      string  `json:"username"`
	Status        Status  `json:"status"`
	Command       string  `json:"command"`
	CreateTime    int64   `json:"create_time"` // unix seconds; 0 when unknown
	Threads       int32   `json:"threads"`

	// AvgCPUPercent is the mean CPU over the trailing window (3 minutes by
	// default); 0 when no samples fall inside the window.
	AvgCPUPercent float64 `json:"avg_cpu_percent"`
}

// CPUTimes is the share of CPU time per category over the last sampling
// window.
type CPUTimes struct {
	User   float64 `json:"user"`
	System float64 `json:"system"`
	Idle   float64 `json:"idle"`
}

// MemoryStats is the system memory breakdown.
type MemoryStats struct {
	Total     types.Bytes `json:"total"`
	Available types.Bytes `json:"available"`
	Used      types.Bytes `json:"used"`
}

// SystemStats is the system-wide reading refreshed on every fast tick.
// It is overwritten wholesale, never field by field.
type SystemStats struct {
	CPUPercent    float64     `json:"cpu_percent"`
	MemoryPercent float64     `json:"memory_percent"`
	CPUFreqMHz    float64     `json:"cpu_freq_mhz"`
	CPUCount      int         `json:"cpu_count"`
	CPUTimes      CPUTimes    `json:"cpu_times"`
	Memory        MemoryStats `json:"memory"`
}

// HistoryPoint is one system-wide sample kept in the bounded trend history.
type HistoryPoint struct {
	At            time.Time `json:"at"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
}
