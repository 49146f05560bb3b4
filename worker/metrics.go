package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/clipforge/clipforge/errors"
)

// Memory sizing for slot recommendations. A render slot holds one FFmpeg
// process with scale/overlay filters on 1080x1920 output.
const (
	memoryPerSlotGB = 1.5
	memoryBufferGB  = 1.0
	maxSafeSlots    = 16
)

// SystemMetrics is a point-in-time snapshot of pool and host resource usage.
type SystemMetrics struct {
	SlotsActive   int     `json:"slots_active"`
	SlotsTotal    int     `json:"slots_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
}

func memoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// safeSlotCount recommends a slot count for the available memory, leaving a
// buffer for the OS and the SQLite page cache.
func safeSlotCount(availableGB float64) int {
	if availableGB <= memoryBufferGB {
		return 1
	}
	recommended := int((availableGB - memoryBufferGB) / memoryPerSlotGB)
	if recommended < 1 {
		return 1
	}
	if recommended > maxSafeSlots {
		return maxSafeSlots
	}
	return recommended
}

// checkMemoryPressure returns a warning when the configured slot count
// exceeds what available memory supports, empty string when fine.
func (p *Pool) checkMemoryPressure() string {
	total, available, err := memoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := safeSlotCount(availableGB)

	if p.cfg.Slots > recommended {
		return fmt.Sprintf(
			"slot count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			p.cfg.Slots, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}

// Metrics returns the current system snapshot. Database errors read as
// zero counts rather than failing the caller.
func (p *Pool) Metrics() SystemMetrics {
	m := SystemMetrics{
		SlotsActive: p.Active(),
		SlotsTotal:  p.cfg.Slots,
	}

	if total, available, err := memoryStats(); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(total-available) / 1024 / 1024 / 1024
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}

	if stats, err := p.queue.GetStats(); err == nil {
		m.JobsQueued = stats.Queued
		m.JobsRunning = stats.Running
	}
	return m
}
