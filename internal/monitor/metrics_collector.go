package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	// DefaultInterval is how often a status snapshot is collected
	DefaultInterval = 15 * time.Second

	cpuSampleWindow = time.Second
)

// StatusSource provides the worker status
type StatusSource interface {
	Status() model.MinerStatus
}

// StatusPublisher receives every collected snapshot
type StatusPublisher interface {
	PublishStatus(snapshot model.StatusSnapshot) error
}

// MetricsCollector periodically combines worker status with host resource
// usage, updates the Prometheus metrics and publishes the snapshot.
type MetricsCollector struct {
	logger    *zap.Logger
	source    StatusSource
	publisher StatusPublisher
	metrics   *Metrics
	interval  time.Duration
	cpuWindow time.Duration
	mu        sync.RWMutex
	last      model.StatusSnapshot
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMetricsCollector creates a new metrics collector. publisher and metrics
// may be nil.
func NewMetricsCollector(source StatusSource, publisher StatusPublisher, metrics *Metrics, interval time.Duration, logger *zap.Logger) *MetricsCollector {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &MetricsCollector{
		logger:    logger.Named("metrics-collector"),
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		interval:  interval,
		cpuWindow: cpuSampleWindow,
		stop:      make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *MetricsCollector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	go c.collectLoop(ctx)

	return nil
}

// Stop stops the metrics collector
func (c *MetricsCollector) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("Stopping metrics collector")
		close(c.stop)
	})
}

// collectLoop runs the metrics collection loop
func (c *MetricsCollector) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.Collect(ctx); err != nil {
				c.logger.Error("Failed to collect metrics", zap.Error(err))
			}
		}
	}
}

// Collect takes one snapshot, updates the metrics and publishes it.
// Host statistics that cannot be read are left at zero.
func (c *MetricsCollector) Collect(ctx context.Context) (model.StatusSnapshot, error) {
	status := c.source.Status()
	snapshot := model.StatusSnapshot{
		Miner: status,
		Host:  c.hostStats(ctx, status.PID),
	}

	c.mu.Lock()
	c.last = snapshot
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Observe(snapshot)
	}

	c.logger.Debug("Metrics collected",
		zap.Bool("running", snapshot.Miner.Running),
		zap.Float64("cpu_usage", snapshot.Host.CPUUsage),
		zap.Float64("memory_usage", snapshot.Host.MemoryUsage))

	if c.publisher != nil {
		if err := c.publisher.PublishStatus(snapshot); err != nil {
			return snapshot, fmt.Errorf("failed to publish status snapshot: %w", err)
		}
	}

	return snapshot, nil
}

func (c *MetricsCollector) hostStats(ctx context.Context, workerPID int) model.HostStats {
	stats := model.HostStats{CollectedAt: time.Now()}

	cpuPercent, err := cpu.PercentWithContext(ctx, c.cpuWindow, false)
	if err != nil || len(cpuPercent) == 0 {
		c.logger.Warn("Failed to get CPU usage", zap.Error(err))
	} else {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		c.logger.Warn("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	if workerPID > 0 {
		c.workerStats(ctx, int32(workerPID), &stats)
	}

	return stats
}

// workerStats adds the resource usage of the worker process
func (c *MetricsCollector) workerStats(ctx context.Context, pid int32, stats *model.HostStats) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		c.logger.Debug("Worker process not found", zap.Int32("pid", pid), zap.Error(err))
		return
	}

	if cpuPercent, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.WorkerCPU = cpuPercent
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
		stats.WorkerRSS = memInfo.RSS
	}
}

// Last returns the most recent snapshot
func (c *MetricsCollector) Last() model.StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
