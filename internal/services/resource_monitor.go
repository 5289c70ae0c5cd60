package services

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceSnapshot captures process and host load at a point in time.
type ResourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"mem_percent"`
	MemUsedMB   float64   `json:"mem_used_mb"`
	Goroutines  int       `json:"goroutines"`
	HeapAllocMB float64   `json:"heap_alloc_mb"`
}

// ResourceMonitor samples host load around batch jobs. Optimization and
// experiment-check batches fan out per entity, so a loaded host shows up as
// slow batches; the snapshots make that visible in the logs.
type ResourceMonitor struct {
	logger *logrus.Logger
}

// NewResourceMonitor creates a resource monitor.
func NewResourceMonitor(logger *logrus.Logger) *ResourceMonitor {
	return &ResourceMonitor{logger: logger}
}

// Snapshot samples current CPU, memory and goroutine counts. Sampling
// failures degrade to zero values rather than failing the caller.
func (m *ResourceMonitor) Snapshot(ctx context.Context) ResourceSnapshot {
	snap := ResourceSnapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAllocMB = float64(ms.HeapAlloc) / (1024 * 1024)

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		m.logger.WithError(err).Debug("CPU sample failed")
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
		snap.MemUsedMB = float64(vm.Used) / (1024 * 1024)
	} else {
		m.logger.WithError(err).Debug("Memory sample failed")
	}

	return snap
}

// LogBatch wraps a batch job with before/after snapshots and duration.
func (m *ResourceMonitor) LogBatch(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	before := m.Snapshot(ctx)
	start := time.Now()

	err := fn(ctx)

	after := m.Snapshot(ctx)
	fields := logrus.Fields{
		"batch":         name,
		"duration_ms":   time.Since(start).Milliseconds(),
		"cpu_pct":       after.CPUPercent,
		"mem_pct":       after.MemPercent,
		"goroutines":    after.Goroutines,
		"heap_delta_mb": after.HeapAllocMB - before.HeapAllocMB,
	}
	if err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("Batch finished with error")
		return err
	}
	m.logger.WithFields(fields).Info("Batch finished")
	return nil
}
