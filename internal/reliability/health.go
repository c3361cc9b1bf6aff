// Package reliability runs the background health and maintenance
// checks that sit alongside the trading engine proper: periodic
// per-database integrity/WAL checks and a host resource snapshot,
// grounded on the teacher's internal/reliability maintenance job and
// internal/server system-status handler.
package reliability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rnrl/matchengine/internal/database"
)

// DatabaseChecker is the narrow dependency against *database.DB's
// health surface, so tests can substitute a fake.
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// ResourceSnapshot is one host-resource reading.
type ResourceSnapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskFreeGB    float64
	TakenAt       time.Time
}

// HealthMonitor polls every registered database's HealthCheck and
// WAL-checkpoints it on an interval, and samples host CPU/memory/disk
// via gopsutil, the same library the teacher's system status endpoint
// reports through. Unlike the teacher's maintenance job this never
// halts the process on low disk; it logs, since the matching engine
// has no equivalent of the teacher's single-operator deployment halt.
type HealthMonitor struct {
	databases map[string]DatabaseChecker
	dataDir   string
	interval  time.Duration
	log       zerolog.Logger

	mu       sync.RWMutex
	lastGood ResourceSnapshot

	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewHealthMonitor(databases map[string]DatabaseChecker, dataDir string, interval time.Duration, log zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		databases: databases,
		dataDir:   dataDir,
		interval:  interval,
		log:       log.With().Str("component", "reliability").Logger(),
		stop:      make(chan struct{}),
	}
}

// Start begins the periodic check loop in a background goroutine.
func (h *HealthMonitor) Start() {
	ticker := time.NewTicker(h.interval)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.runOnce(context.Background())
			}
		}
	}()
	h.log.Info().Dur("interval", h.interval).Msg("reliability monitor started")
}

// Stop ends the check loop and waits for it to drain.
func (h *HealthMonitor) Stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.stop)
	h.wg.Wait()
}

func (h *HealthMonitor) runOnce(ctx context.Context) {
	for name, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("database integrity check failed")
			continue
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			h.log.Warn().Err(err).Str("database", name).Msg("WAL checkpoint failed")
		}
	}

	snap, err := h.sampleResources()
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to sample host resources")
		return
	}
	h.mu.Lock()
	h.lastGood = snap
	h.mu.Unlock()

	if snap.DiskFreeGB < 5.0 {
		h.log.Error().Float64("disk_free_gb", snap.DiskFreeGB).Msg("low disk space")
	} else if snap.DiskFreeGB < 10.0 {
		h.log.Warn().Float64("disk_free_gb", snap.DiskFreeGB).Msg("disk space running low")
	}
}

func (h *HealthMonitor) sampleResources() (ResourceSnapshot, error) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return ResourceSnapshot{}, err
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		return ResourceSnapshot{}, err
	}
	diskStat, err := disk.Usage(h.dataDir)
	if err != nil {
		return ResourceSnapshot{}, err
	}
	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return ResourceSnapshot{
		CPUPercent:    cpuAvg,
		MemoryPercent: memStat.UsedPercent,
		DiskFreeGB:    float64(diskStat.Free) / 1e9,
		TakenAt:       time.Now().UTC(),
	}, nil
}

// Snapshot returns the most recently taken resource reading.
func (h *HealthMonitor) Snapshot() ResourceSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastGood
}

var _ DatabaseChecker = (*database.DB)(nil)
