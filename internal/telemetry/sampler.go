package telemetry

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Sampler captures a point-in-time snapshot of process and accelerator
// resource usage. Sampled at every step event. A failed probe yields a nil
// value for that metric only; sampling never fails as a whole.
type Sampler interface {
	Sample() map[string]any
}

// AcceleratorMeter reports accelerator memory in GiB. Implementations return
// an error when the device cannot be queried.
type AcceleratorMeter interface {
	MemoryGiB() (allocated, reserved float64, err error)
}

// systemSampler reads process RSS via gopsutil and accelerator memory via an
// optional meter.
type systemSampler struct {
	meter AcceleratorMeter
}

// NewSystemSampler creates the default sampler. meter may be nil when no
// accelerator is present; the gpu fields are then emitted as explicit nulls
// so consumers can tell "device absent" from "key dropped".
func NewSystemSampler(meter AcceleratorMeter) Sampler {
	return &systemSampler{meter: meter}
}

func (s *systemSampler) Sample() map[string]any {
	m := make(map[string]any, 3)

	if rss, err := processRSSMiB(); err == nil {
		m["cpu_mem_rss_mb"] = rss
	} else {
		m["cpu_mem_rss_mb"] = nil
	}

	if s.meter != nil {
		if alloc, reserved, err := s.meter.MemoryGiB(); err == nil {
			m["gpu_mem_allocated"] = alloc
			m["gpu_mem_reserved"] = reserved
			return m
		}
	}
	m["gpu_mem_allocated"] = nil
	m["gpu_mem_reserved"] = nil
	return m
}

func processRSSMiB() (float64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("opening process: %w", err)
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0, fmt.Errorf("reading memory info: %w", err)
	}
	return float64(mi.RSS) / 1024 / 1024, nil
}

// nvidiaSMIMeter queries accelerator memory through the nvidia-smi binary.
// memory.used maps to allocated and memory.total to reserved, both converted
// from MiB to GiB.
type nvidiaSMIMeter struct {
	binary string
}

// DetectAccelerator probes for a usable accelerator meter. Returns nil when
// no supported device tooling is on PATH.
func DetectAccelerator() AcceleratorMeter {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil
	}
	return &nvidiaSMIMeter{binary: path}
}

func (m *nvidiaSMIMeter) MemoryGiB() (float64, float64, error) {
	out, err := exec.Command(m.binary,
		"--query-gpu=memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, 0, fmt.Errorf("querying nvidia-smi: %w", err)
	}

	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected nvidia-smi output %q", line)
	}

	usedMiB, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing memory.used: %w", err)
	}
	totalMiB, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing memory.total: %w", err)
	}
	return usedMiB / 1024, totalMiB / 1024, nil
}
