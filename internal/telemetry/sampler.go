package telemetry

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// Sample holds one point-in-time resource reading, preformatted for the wire.
type Sample struct {
	CPU    string
	Memory string
}

// Sampler reads resource usage for the agent's own process tree.
type Sampler interface {
	Sample() Sample
}

type processSampler struct {
	proc *process.Process
}

// NewProcessSampler builds a Sampler for the current process. Construction
// failure leaves a sampler that reports zeros rather than failing ticks.
func NewProcessSampler() Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return processSampler{}
	}
	return processSampler{proc: proc}
}

func (s processSampler) Sample() Sample {
	sample := Sample{CPU: "0.00", Memory: "0.00 MB"}
	if s.proc == nil {
		return sample
	}
	if pct, err := s.proc.CPUPercent(); err == nil {
		sample.CPU = fmt.Sprintf("%.2f", pct)
	}
	if info, err := s.proc.MemoryInfo(); err == nil && info != nil {
		sample.Memory = FormatMemory(info.RSS)
	}
	return sample
}

// FormatMemory renders a resident-set byte count as a scaled MB string.
func FormatMemory(bytes uint64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/(1024*1024))
}
