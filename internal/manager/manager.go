// Package manager ties the worker supervisor, telemetry and watchdog together
// behind the start, stop and status operations used by external triggers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/config"
	"github.com/t77yq/scash-manager/internal/miner"
	"github.com/t77yq/scash-manager/internal/model"
	"github.com/t77yq/scash-manager/internal/scheduler"
	"github.com/t77yq/scash-manager/internal/storage"
	"github.com/t77yq/scash-manager/internal/telemetry"
)

const storageTimeout = 5 * time.Second

// ErrNotConfigured is returned by Start when the wallet or pool is missing
var ErrNotConfigured = errors.New("configuration incomplete: wallet and pool URL are required")

// Deps holds the optional collaborators of a Manager
type Deps struct {
	// History records every spawned worker instance. Nil disables run history.
	History storage.RunHistory

	// Sweeper overrides the residual process sweeper built from the config.
	Sweeper miner.Sweeper
}

// Manager owns the worker and everything observing it
type Manager struct {
	logger     *zap.Logger
	pipeline   *telemetry.Pipeline
	supervisor *miner.Supervisor
	watchdog   *scheduler.Watchdog
	history    storage.RunHistory
	now        func() time.Time

	mu   sync.RWMutex
	cfg  config.Config
	runs map[int]*model.RunRecord
}

// New creates a manager for cfg. The worker is not started.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Manager {
	m := &Manager{
		logger:  logger.Named("manager"),
		history: deps.History,
		now:     time.Now,
		cfg:     *cfg,
		runs:    make(map[int]*model.RunRecord),
	}

	m.pipeline = telemetry.NewPipeline(telemetry.Config{
		LogCapacity:      cfg.Telemetry.LogCapacity,
		HistoryInterval:  cfg.Telemetry.HistoryInterval,
		HistoryMaxPoints: cfg.Telemetry.HistoryMaxPoints,
	}, logger)

	sweeper := deps.Sweeper
	if sweeper == nil {
		sweeper = miner.NewProcessSweeper(cfg.Miner.SweepPatterns, logger)
	}

	m.supervisor = miner.NewSupervisor(cfg.Worker(), m.pipeline, logger, miner.Options{
		StopTimeout: cfg.Miner.StopTimeout,
		Sweeper:     sweeper,
		OnStart:     m.recordStart,
		OnExit:      m.recordExit,
	})

	m.watchdog = scheduler.NewWatchdog(m.supervisor, cfg.Watchdog.Interval, cfg.Watchdog.RestartDelay, logger)

	return m
}

// Pipeline returns the telemetry pipeline fed by the worker
func (m *Manager) Pipeline() *telemetry.Pipeline {
	return m.pipeline
}

// Start starts the worker. It refuses when the configuration is incomplete.
func (m *Manager) Start() error {
	m.mu.RLock()
	ready := m.cfg.Ready()
	m.mu.RUnlock()

	if !ready {
		m.pipeline.Ingest("Start refused: " + ErrNotConfigured.Error())
		return ErrNotConfigured
	}

	return m.supervisor.Start()
}

// Stop stops the worker. The watchdog will not restart it.
func (m *Manager) Stop() error {
	m.pipeline.Ingest("Stop requested")
	return m.supervisor.Stop()
}

// UpdateConfig applies a new worker configuration. A running worker is
// restarted with it.
func (m *Manager) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cfg = *cfg
	m.mu.Unlock()

	m.supervisor.UpdateConfig(cfg.Worker())
	m.pipeline.Ingest(fmt.Sprintf("Configuration updated: impl=%s, threads=%d", cfg.Miner.Impl, cfg.Miner.Threads))

	if !m.supervisor.IsRunning() {
		return nil
	}
	if err := m.supervisor.Stop(); err != nil {
		return fmt.Errorf("failed to stop worker: %w", err)
	}
	return m.Start()
}

// Sample feeds the latest parsed hash rate into the history
func (m *Manager) Sample(now time.Time) {
	sample, ok := m.pipeline.LatestSample()
	if !ok {
		return
	}
	m.pipeline.RecordSample(sample.Rate, now)
}

// Status returns a snapshot of the worker and its telemetry
func (m *Manager) Status() model.MinerStatus {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	status := model.MinerStatus{
		NeedsSetup:   !cfg.Ready(),
		Running:      m.supervisor.IsRunning(),
		State:        m.supervisor.State(),
		PID:          m.supervisor.PID(),
		Uptime:       m.supervisor.Uptime(),
		Wallet:       cfg.Wallet,
		Pool:         cfg.Miner.URL,
		Threads:      cfg.Miner.Threads,
		Executable:   cfg.Miner.BinPath,
		Algorithm:    cfg.Miner.Algorithm,
		Variant:      model.Variant(cfg.Miner.Impl),
		RestartCount: m.watchdog.RestartCount(),
		RestartDelay: m.watchdog.RestartDelay(),
		CollectedAt:  m.now(),
	}

	if sample, ok := m.pipeline.LatestSample(); ok {
		rate := sample.Rate
		status.Hashrate = sample.Raw
		status.HashrateHS = &rate
	}

	if stats, ok := m.pipeline.Stats(); ok {
		mean, ewma := stats.Mean, stats.EWMA
		status.HashrateAvgHS = &mean
		status.HashrateEWMAHS = &ewma
		status.HashrateAvg = HumanizeRate(mean)
		status.HashrateEWMA = HumanizeRate(ewma)
	}

	if sub, ok := m.pipeline.LastSubmission(); ok {
		status.LastSubmit = sub.TimeStr
	}

	if err := m.supervisor.LastError(); err != nil {
		status.LastError = err.Error()
	}

	return status
}

// History returns the hash rate history with per-point EWMA
func (m *Manager) History() model.HistoryStats {
	stats, _ := m.pipeline.Stats()
	return stats
}

// Logs returns the buffered log text
func (m *Manager) Logs() string {
	return m.pipeline.Text()
}

// Runs lists recorded worker runs, newest first
func (m *Manager) Runs(ctx context.Context, offset, limit int) ([]*model.RunRecord, error) {
	if m.history == nil {
		return nil, nil
	}
	return m.history.List(ctx, storage.RunFilter{}, offset, limit)
}

// Run starts the worker when autostart is configured, then runs the
// watchdog until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if cfg.Miner.Autostart {
		if !cfg.Ready() {
			m.logger.Info("Autostart skipped, configuration incomplete")
		} else if err := m.Start(); err != nil {
			m.logger.Error("Autostart failed", zap.Error(err))
		}
	}

	if cfg.Watchdog.Enabled {
		if err := m.watchdog.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watchdog: %w", err)
		}
	} else {
		m.logger.Info("Watchdog disabled")
	}

	<-ctx.Done()
	return nil
}

// Close stops the watchdog and the worker
func (m *Manager) Close() error {
	m.watchdog.Stop()
	return m.supervisor.Stop()
}

// recordStart stores a run record for a freshly spawned worker
func (m *Manager) recordStart(info model.RunInfo) {
	run := &model.RunRecord{
		ID:        uuid.New().String(),
		PID:       info.PID,
		Variant:   info.Variant,
		Command:   strings.Join(info.Command, " "),
		StartedAt: info.StartedAt,
	}

	m.mu.Lock()
	m.runs[info.PID] = run
	m.mu.Unlock()

	if m.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if err := m.history.Store(ctx, run); err != nil {
		m.logger.Error("Failed to store run",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}

// recordExit completes the run record of a reaped worker
func (m *Manager) recordExit(info model.ExitInfo) {
	m.mu.Lock()
	run, ok := m.runs[info.PID]
	delete(m.runs, info.PID)
	m.mu.Unlock()

	if !ok || m.history == nil {
		return
	}

	stoppedAt := info.StoppedAt
	exitCode := info.ExitCode
	run.StoppedAt = &stoppedAt
	run.ExitCode = &exitCode
	run.ManualStop = info.ManualStop
	run.Error = info.Error

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if err := m.history.Update(ctx, run); err != nil {
		m.logger.Error("Failed to update run",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}

// HumanizeRate formats a rate in H/s with two decimals
func HumanizeRate(rate float64) string {
	return fmt.Sprintf("%.2f H/s", rate)
}
