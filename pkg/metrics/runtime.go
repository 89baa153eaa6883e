package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// RuntimeMonitor samples this process's resource usage. It captures the
// CPU time at creation so Snapshot can report average CPU utilization
// over the run rather than an instantaneous reading.
type RuntimeMonitor struct {
	proc         *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.RWMutex
}

// RuntimeSnapshot holds one resource usage sample.
type RuntimeSnapshot struct {
	CPUPercent     float64
	MemoryRSSBytes uint64
	GoroutineCount int
	Uptime         time.Duration
}

// NewRuntimeMonitor creates a monitor for the current process.
func NewRuntimeMonitor() *RuntimeMonitor {
	proc, _ := process.NewProcess(int32(os.Getpid()))

	m := &RuntimeMonitor{
		proc:      proc,
		startTime: time.Now(),
	}
	if proc != nil {
		if cpuTime, err := proc.Times(); err == nil {
			m.startCPUTime = cpuTime.Total()
		}
	}
	return m
}

// Snapshot returns current resource usage. Fields that cannot be read
// on this platform stay zero.
func (m *RuntimeMonitor) Snapshot() RuntimeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := RuntimeSnapshot{
		GoroutineCount: runtime.NumGoroutine(),
		Uptime:         time.Since(m.startTime),
	}

	if m.proc == nil {
		return snap
	}

	if cpuTime, err := m.proc.Times(); err == nil {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			snap.CPUPercent = ((cpuTime.Total() - m.startCPUTime) / elapsed) * 100
		}
	}

	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		snap.MemoryRSSBytes = memInfo.RSS
	}

	return snap
}
