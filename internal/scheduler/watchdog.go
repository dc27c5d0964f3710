package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Supervised is the worker lifecycle the watchdog keeps alive
type Supervised interface {
	Start() error
	IsRunning() bool
	ShouldRestart() bool
}

// Watchdog polls a supervised worker and restarts it after an unexpected exit
type Watchdog struct {
	logger       *zap.Logger
	target       Supervised
	interval     time.Duration
	restartDelay time.Duration
	restarts     atomic.Int64
	started      atomic.Bool
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

// NewWatchdog creates a new watchdog
func NewWatchdog(target Supervised, interval, restartDelay time.Duration, logger *zap.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if restartDelay < 0 {
		restartDelay = DefaultRestartDelay
	}

	return &Watchdog{
		logger:       logger.Named("watchdog"),
		target:       target,
		interval:     interval,
		restartDelay: restartDelay,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start starts the watchdog loop. It returns immediately.
func (w *Watchdog) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}

	w.logger.Info("Starting watchdog",
		zap.Duration("interval", w.interval),
		zap.Duration("restart_delay", w.restartDelay))

	go w.run(ctx)
	return nil
}

// Stop stops the watchdog and waits for the loop to exit.
// A pending restart delay is abandoned without starting the worker.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping watchdog")
		close(w.stop)
	})
	if w.started.Load() {
		<-w.done
	}
}

// RestartCount returns the number of successful automatic restarts
func (w *Watchdog) RestartCount() int64 {
	return w.restarts.Load()
}

// RestartDelay returns the configured delay between exit detection and restart
func (w *Watchdog) RestartDelay() time.Duration {
	return w.restartDelay
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if !w.check(ctx) {
				return
			}
		}
	}
}

// check runs one poll. It returns false when the watchdog has been stopped.
func (w *Watchdog) check(ctx context.Context) bool {
	if w.target.IsRunning() {
		return true
	}
	if !w.target.ShouldRestart() {
		w.logger.Debug("Worker stopped manually, skipping restart")
		return true
	}

	w.logger.Warn("Worker not running, scheduling restart",
		zap.Duration("delay", w.restartDelay))

	timer := time.NewTimer(w.restartDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	case <-timer.C:
	}

	// State may have changed while waiting.
	select {
	case <-w.stop:
		return false
	default:
	}
	if w.target.IsRunning() || !w.target.ShouldRestart() {
		w.logger.Info("Restart no longer needed")
		return true
	}

	if err := w.target.Start(); err != nil {
		w.logger.Error("Failed to restart worker", zap.Error(err))
		return true
	}

	count := w.restarts.Add(1)
	w.logger.Info("Worker restarted", zap.Int64("restart_count", count))
	return true
}
