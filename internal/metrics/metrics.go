// Package metrics tracks per-device command timings and cache
// effectiveness (spec §4.5), plus an on-demand host resource snapshot
// (spec §6 "Metric snapshots may be emitted on demand"). Grounded on
// the teacher's internal/driver/device/controller.go mutex-guarded
// stats struct for the per-device registry shape, and on
// cmd/monitor/main.go for the gopsutil host sampling.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// deviceStats accumulates one device's command counters. No
// persistence is kept across process restarts (spec §1 non-goals).
type deviceStats struct {
	mu sync.Mutex

	commandCount  uint64
	queueWaitSum  time.Duration
	roundTripSum  time.Duration
	totalSum      time.Duration
	perOpCount    map[string]uint64

	cacheHits   uint64
	cacheMisses uint64
	queueDepth  int
}

// Snapshot is a point-in-time read of one device's metrics.
type Snapshot struct {
	DeviceID        string
	CommandCount    uint64
	AvgQueueWait    time.Duration
	AvgRoundTrip    time.Duration
	AvgTotal        time.Duration
	PerOpCount      map[string]uint64
	CacheHits       uint64
	CacheMisses     uint64
	QueueDepth      int
}

// HostSnapshot is a sampled host resource reading, taken only when a
// caller asks for it (never polled in the background).
type HostSnapshot struct {
	CPUPercent    float64
	MemUsedBytes  uint64
	MemTotalBytes uint64
}

// Registry holds one deviceStats per device id, created lazily on
// first use so the caller never needs an explicit registration step.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*deviceStats
}

// NewRegistry constructs an empty metrics registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*deviceStats)}
}

func (r *Registry) stats(deviceID string) *deviceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.devices[deviceID]
	if !ok {
		s = &deviceStats{perOpCount: make(map[string]uint64)}
		r.devices[deviceID] = s
	}
	return s
}

// RecordCommand records one completed command's durations against
// deviceID. A nil Registry is a valid no-op target so tests and
// callers that don't care about metrics can omit one.
func (r *Registry) RecordCommand(deviceID, op string, queueWait, roundTrip, total time.Duration) {
	if r == nil {
		return
	}
	s := r.stats(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandCount++
	s.queueWaitSum += queueWait
	s.roundTripSum += roundTrip
	s.totalSum += total
	s.perOpCount[op]++
}

// RecordCacheHit increments deviceID's cache hit counter.
func (r *Registry) RecordCacheHit(deviceID string) {
	if r == nil {
		return
	}
	s := r.stats(deviceID)
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
}

// RecordCacheMiss increments deviceID's cache miss counter.
func (r *Registry) RecordCacheMiss(deviceID string) {
	if r == nil {
		return
	}
	s := r.stats(deviceID)
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
}

// SetQueueDepth records deviceID's current inbox length.
func (r *Registry) SetQueueDepth(deviceID string, depth int) {
	if r == nil {
		return
	}
	s := r.stats(deviceID)
	s.mu.Lock()
	s.queueDepth = depth
	s.mu.Unlock()
}

// Snapshot returns deviceID's current metrics, or a zero Snapshot if
// no commands have been recorded for it yet.
func (r *Registry) Snapshot(deviceID string) Snapshot {
	s := r.stats(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		DeviceID:     deviceID,
		CommandCount: s.commandCount,
		PerOpCount:   make(map[string]uint64, len(s.perOpCount)),
		CacheHits:    s.cacheHits,
		CacheMisses:  s.cacheMisses,
		QueueDepth:   s.queueDepth,
	}
	for op, n := range s.perOpCount {
		snap.PerOpCount[op] = n
	}
	if s.commandCount > 0 {
		snap.AvgQueueWait = s.queueWaitSum / time.Duration(s.commandCount)
		snap.AvgRoundTrip = s.roundTripSum / time.Duration(s.commandCount)
		snap.AvgTotal = s.totalSum / time.Duration(s.commandCount)
	}
	return snap
}

// SampleHost takes an on-demand host CPU/memory reading via gopsutil.
// Called only when a caller explicitly asks for a metric snapshot,
// never on a background timer (spec §1 non-goals: no persistent
// metrics polling).
func SampleHost(ctx context.Context) (HostSnapshot, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostSnapshot{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostSnapshot{}, err
	}

	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	return HostSnapshot{
		CPUPercent:    cpuPct,
		MemUsedBytes:  vm.Used,
		MemTotalBytes: vm.Total,
	}, nil
}
