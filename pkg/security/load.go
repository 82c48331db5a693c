package security

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemLoad is the default LoadReader, backed by gopsutil. CPU is
// sampled over a short window since an instantaneous reading is noisy.
type SystemLoad struct {
	sampleWindow time.Duration
}

// NewSystemLoad returns a LoadReader that samples CPU over window
// (clamped to a 100ms minimum) each time it's asked.
func NewSystemLoad(window time.Duration) *SystemLoad {
	if window < 100*time.Millisecond {
		window = 100 * time.Millisecond
	}
	return &SystemLoad{sampleWindow: window}
}

func (s *SystemLoad) CPUPercent() float64 {
	percents, err := cpu.PercentWithContext(context.Background(), s.sampleWindow, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0] / 100
}

func (s *SystemLoad) MemPercent() float64 {
	stat, err := mem.VirtualMemoryWithContext(context.Background())
	if err != nil {
		return 0
	}
	return stat.UsedPercent / 100
}
