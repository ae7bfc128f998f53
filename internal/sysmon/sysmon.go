// Package sysmon detects container resource limits at startup and samples
// host/container CPU and memory on a schedule, so operators can correlate
// connection-table growth with available headroom.
package sysmon

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryLimit returns the container memory limit in bytes, read from the
// cgroup filesystem. Supports cgroup v2 (memory.max) and v1
// (memory.limit_in_bytes). Returns 0 (unlimited or non-containerized) when
// neither file is present.
func MemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
		return 0, nil
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}

// MaxEndpoints sizes a safe upper bound on concurrently open sender
// endpoints from the detected memory limit, given each endpoint's worst
// case reattempt footprint (both streams fully backed up to
// maxBytesInBuffer). Bounded to [minEndpoints, maxEndpointsCap] the same
// way a bare-metal or unlimited-container deployment is bounded to a
// conservative default rather than left unbounded.
func MaxEndpoints(memoryLimitBytes int64, maxBytesInBuffer int32) int {
	const (
		minEndpoints         = 16
		maxEndpointsCap      = 50000
		defaultEndpoints     = 4000
		runtimeOverheadBytes = 128 * 1024 * 1024
	)

	if memoryLimitBytes == 0 {
		return defaultEndpoints
	}

	bytesPerEndpoint := int64(maxBytesInBuffer)*2 + 4096 // both streams + struct overhead

	available := memoryLimitBytes - runtimeOverheadBytes
	if available < 0 {
		available = memoryLimitBytes / 2
	}

	max := int(available / bytesPerEndpoint)
	if max < minEndpoints {
		max = minEndpoints
	}
	if max > maxEndpointsCap {
		max = maxEndpointsCap
	}
	return max
}

// Sampler periodically logs CPU and memory usage via a cron schedule,
// giving operators a correlatable trail alongside the endpoint and buffer
// gauges in internal/metrics.
type Sampler struct {
	log zerolog.Logger
	cr  *cron.Cron
}

// NewSampler builds a sampler that logs at the given interval. Start
// begins sampling; Stop ends it.
func NewSampler(logger zerolog.Logger, interval time.Duration) *Sampler {
	cr := cron.New(cron.WithSeconds())
	s := &Sampler{log: logger, cr: cr}
	spec := "@every " + interval.String()
	_, _ = cr.AddFunc(spec, s.sampleOnce)
	return s
}

func (s *Sampler) sampleOnce() {
	percents, err := cpu.Percent(0, false)
	var cpuPct float64
	if err == nil && len(percents) > 0 {
		cpuPct = percents[0]
	}

	var usedBytes, totalBytes uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		usedBytes = vm.Used
		totalBytes = vm.Total
	}

	s.log.Info().
		Float64("cpu_percent", cpuPct).
		Uint64("mem_used_bytes", usedBytes).
		Uint64("mem_total_bytes", totalBytes).
		Msg("resource sample")
}

// Start begins the cron schedule. Non-blocking.
func (s *Sampler) Start() { s.cr.Start() }

// Stop ends the cron schedule, waiting for any in-flight sample to finish.
func (s *Sampler) Stop() { <-s.cr.Stop().Done() }
