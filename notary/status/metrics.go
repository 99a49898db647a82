package status

import (
	"context"

	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// MetricsCollector reads host resource usage.
type MetricsCollector struct{}

func NewMetricsCollector() *MetricsCollector { return &MetricsCollector{} }

// CPUPercent returns CPU usage since the previous call; the first call
// reports usage since boot.
func (m *MetricsCollector) CPUPercent(ctx context.Context) (float64, error) {
	percentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		logtrace.Warn(ctx, "failed to get cpu info", logtrace.Fields{logtrace.FieldError: err.Error()})
		return 0, err
	}
	if len(percentages) == 0 {
		return 0, nil
	}
	return percentages[0], nil
}

// MemoryInfo holds host memory stats.
type MemoryInfo struct {
	TotalBytes   uint64  `json:"total_bytes"`
	UsedBytes    uint64  `json:"used_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

func (m *MetricsCollector) Memory(ctx context.Context) (MemoryInfo, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logtrace.Warn(ctx, "failed to get memory info", logtrace.Fields{logtrace.FieldError: err.Error()})
		return MemoryInfo{}, err
	}
	return MemoryInfo{TotalBytes: vmem.Total, UsedBytes: vmem.Used, UsagePercent: vmem.UsedPercent}, nil
}

// StorageInfo holds disk usage of the volume holding a path.
type StorageInfo struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// Storage reports usage for path. The data directory volume is what fills
// up as blobs and ledger state accumulate.
func (m *MetricsCollector) Storage(ctx context.Context, path string) (StorageInfo, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		logtrace.Warn(ctx, "failed to get storage info", logtrace.Fields{logtrace.FieldError: err.Error(), "path": path})
		return StorageInfo{}, err
	}
	return StorageInfo{
		Path:           path,
		TotalBytes:     usage.Total,
		UsedBytes:      usage.Used,
		AvailableBytes: usage.Free,
		UsagePercent:   usage.UsedPercent,
	}, nil
}
