package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-update-ota/ota-agent/client/internal/metrics"
)

const (
	DefaultInterval    = time.Second
	DefaultStoragePath = "/"
)

// Snapshot is one telemetry sample. It is never modified after being published.
type Snapshot struct {
	CPUPercent   uint8
	MemUsed      uint64
	MemTotal     uint64
	StorageUsed  uint64
	StorageTotal uint64
	TemperatureC float64
	Uptime       time.Duration
	Timestamp    time.Time
}

type cpuSample struct {
	idle  float64
	total float64
}

// Config of the telemetry sampler
type Config struct {
	Interval    time.Duration
	StoragePath string
	// Publish receives every snapshot on the sampling goroutine and must not block
	Publish func(Snapshot)
	Metrics *metrics.AgentMetrics
	Now     func() time.Time
}

// Sampler periodically reads the device counters, independent of any update operation
type Sampler struct {
	cfg    Config
	source Source

	mu     sync.RWMutex
	latest Snapshot

	// tickMu serializes ticks, the fields below belong to the tick in progress
	tickMu     sync.Mutex
	current    Snapshot
	lastCPU    *cpuSample
	uptimeBase time.Duration
	uptimeAt   time.Time
}

// NewSampler creates a new sampler reading from source
func NewSampler(cfg Config, source Source) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StoragePath == "" {
		cfg.StoragePath = DefaultStoragePath
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sampler{
		cfg:    cfg,
		source: source,
	}
}

// Run samples once immediately and then once per interval until ctx is done
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Sample(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Debugf("telemetry sampler stopped")
			return
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Latest returns the last published snapshot
func (s *Sampler) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Sample reads all counters once and publishes the resulting snapshot. Counters
// that can not be read keep the value of the previous snapshot.
func (s *Sampler) Sample(ctx context.Context) Snapshot {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.cfg.Now()
	s.sampleCPU(ctx)
	s.sampleMemory(ctx)
	s.sampleStorage(ctx)
	s.sampleTemperature(ctx)
	s.sampleUptime(ctx, now)
	s.current.Timestamp = now

	snapshot := s.current
	s.mu.Lock()
	s.latest = snapshot
	s.mu.Unlock()

	s.cfg.Metrics.DeviceSample(ctx, snapshot.CPUPercent, snapshot.MemUsed, snapshot.StorageUsed,
		snapshot.TemperatureC, snapshot.Uptime)
	if s.cfg.Publish != nil {
		s.cfg.Publish(snapshot)
	}
	return snapshot
}

func (s *Sampler) sampleCPU(ctx context.Context) {
	idle, total, err := s.source.CPUTimes(ctx)
	if err != nil {
		log.Debugf("skipping cpu sample: %v", err)
		return
	}

	sample := &cpuSample{idle: idle, total: total}
	prev := s.lastCPU
	s.lastCPU = sample
	if prev == nil {
		// the first sample has nothing to compare with
		s.current.CPUPercent = 0
		return
	}

	deltaTotal := sample.total - prev.total
	if deltaTotal <= 0 {
		return
	}
	deltaIdle := sample.idle - prev.idle
	percent := math.Round(100 * (1 - deltaIdle/deltaTotal))
	s.current.CPUPercent = uint8(clamp(percent, 0, 100))
}

func (s *Sampler) sampleMemory(ctx context.Context) {
	total, available, err := s.source.Memory(ctx)
	if err != nil {
		log.Debugf("skipping memory sample: %v", err)
		return
	}
	s.current.MemTotal = total
	s.current.MemUsed = saturatingSub(total, available)
}

func (s *Sampler) sampleStorage(ctx context.Context) {
	total, free, err := s.source.Storage(ctx, s.cfg.StoragePath)
	if err != nil {
		log.Debugf("skipping storage sample: %v", err)
		return
	}
	s.current.StorageTotal = total
	s.current.StorageUsed = saturatingSub(total, free)
}

func (s *Sampler) sampleTemperature(ctx context.Context) {
	celsius, err := s.source.Temperature(ctx)
	if err != nil {
		log.Tracef("skipping temperature sample: %v", err)
		return
	}
	s.current.TemperatureC = celsius
}

func (s *Sampler) sampleUptime(ctx context.Context, now time.Time) {
	if s.uptimeAt.IsZero() {
		uptime, err := s.source.Uptime(ctx)
		if err != nil {
			log.Debugf("skipping uptime sample: %v", err)
			return
		}
		s.uptimeBase = uptime
		s.uptimeAt = now
	}
	s.current.Uptime = s.uptimeBase + now.Sub(s.uptimeAt)
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
