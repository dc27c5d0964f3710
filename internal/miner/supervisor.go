package miner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopTimeout = 8 * time.Second

	killWaitTimeout = 5 * time.Second
	sweepTimeout    = 10 * time.Second
)

// Options configures a Supervisor
type Options struct {
	StopTimeout time.Duration

	// Sweeper runs after every stop. Nil disables the sweep.
	Sweeper Sweeper

	// OnStart is called after a worker instance is spawned.
	OnStart func(info model.RunInfo)

	// OnExit is called once a worker instance has been reaped.
	OnExit func(info model.ExitInfo)
}

// handle tracks one spawned worker instance
type handle struct {
	cmd       *exec.Cmd
	pid       int
	pgid      int
	startedAt time.Time
	done      chan struct{}
}

// Supervisor owns the lifecycle of a single worker process
type Supervisor struct {
	logger *zap.Logger
	sink   LineSink
	opts   Options

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu          sync.RWMutex
	cfg         model.WorkerConfig
	state       model.WorkerState
	current     *handle
	manualStop  bool
	configError bool
	lastError   error
}

// NewSupervisor creates a supervisor for the given worker configuration.
// Every line of worker output, and the supervisor's own lifecycle messages,
// are forwarded to sink.
func NewSupervisor(cfg model.WorkerConfig, sink LineSink, logger *zap.Logger, opts Options) *Supervisor {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if sink == nil {
		sink = LineSinkFunc(func(string) {})
	}

	// A worker that was never started is not restarted either.
	return &Supervisor{
		logger:     logger.Named("supervisor"),
		sink:       sink,
		opts:       opts,
		cfg:        cfg,
		state:      model.WorkerStateStopped,
		manualStop: true,
	}
}

// UpdateConfig replaces the configuration used by the next Start.
func (s *Supervisor) UpdateConfig(cfg model.WorkerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.configError = false
}

// Config returns the current worker configuration
func (s *Supervisor) Config() model.WorkerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start spawns the worker in its own process group. It is a no-op when the
// worker is already running. Configuration and spawn failures are logged,
// leave the supervisor stopped and are returned to the caller.
func (s *Supervisor) Start() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.IsRunning() {
		s.note("Worker already running, start ignored")
		return nil
	}

	s.mu.Lock()
	s.manualStop = false
	s.state = model.WorkerStateStarting
	cfg := s.cfg
	s.mu.Unlock()

	args, err := BuildCommand(cfg)
	if err != nil {
		s.fail(err, true)
		return err
	}

	s.note("Starting worker", zap.String("command", strings.Join(args, " ")))

	h, err := s.spawn(args)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSpawn, err)
		s.fail(err, false)
		return err
	}

	s.mu.Lock()
	s.current = h
	s.state = model.WorkerStateRunning
	s.lastError = nil
	s.mu.Unlock()

	s.logger.Info("Worker started",
		zap.Int("pid", h.pid),
		zap.Int("pgid", h.pgid))

	// OnStart runs before the reaper so OnExit always follows it.
	if s.opts.OnStart != nil {
		s.opts.OnStart(model.RunInfo{
			PID:       h.pid,
			PGID:      h.pgid,
			Variant:   cfg.Variant,
			Command:   args,
			StartedAt: h.startedAt,
		})
	}

	go s.wait(h)

	return nil
}

// spawn starts the process with stdout and stderr joined on one pipe
func (s *Supervisor) spawn(args []string) (*handle, error) {
	cmd := exec.Command(args[0], args[1:]...) //nolint:gosec // executable comes from operator configuration

	// New process group so the worker and its children are signaled as one unit
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	// The child holds its own copy of the write end.
	writer.Close()

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	go NewOutputReader(reader, s.sink, s.logger.With(zap.Int("pid", pid))).Run()

	return &handle{
		cmd:       cmd,
		pid:       pid,
		pgid:      pgid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}, nil
}

// wait reaps the worker and drops the handle once it has exited
func (s *Supervisor) wait(h *handle) {
	waitErr := h.cmd.Wait()
	stoppedAt := time.Now()

	exitCode := -1
	if h.cmd.ProcessState != nil {
		exitCode = h.cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	if s.current == h {
		s.current = nil
		if s.state == model.WorkerStateRunning {
			s.state = model.WorkerStateStopped
		}
	}
	manual := s.manualStop
	s.mu.Unlock()

	close(h.done)

	if manual {
		s.logger.Info("Worker exited after stop request",
			zap.Int("pid", h.pid),
			zap.Int("exit_code", exitCode))
	} else {
		s.logger.Warn("Worker exited unexpectedly",
			zap.Int("pid", h.pid),
			zap.Int("exit_code", exitCode),
			zap.Error(waitErr))
		s.sink.Ingest(fmt.Sprintf("Worker exited unexpectedly (pid=%d, exit code=%d)", h.pid, exitCode))
	}

	if s.opts.OnExit != nil {
		info := model.ExitInfo{
			PID:        h.pid,
			ExitCode:   exitCode,
			ManualStop: manual,
			StartedAt:  h.startedAt,
			StoppedAt:  stoppedAt,
		}
		if waitErr != nil {
			info.Error = waitErr.Error()
		}
		s.opts.OnExit(info)
	}
}

// Stop terminates the worker and its process group. SIGTERM is sent first;
// after the stop timeout the group and then the process itself are killed.
// A residual process sweep follows. Stop always marks the worker as manually
// stopped, so a crashed worker is not restarted after a stop request either.
func (s *Supervisor) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	s.manualStop = true
	h := s.current
	if h == nil {
		s.state = model.WorkerStateStopped
		s.mu.Unlock()
		s.note("Worker already stopped")
		return nil
	}
	s.state = model.WorkerStateStopping
	s.mu.Unlock()

	s.note("Stopping worker", zap.Int("pid", h.pid), zap.Int("pgid", h.pgid))

	s.signal(h, syscall.SIGTERM)

	select {
	case <-h.done:
	case <-time.After(s.opts.StopTimeout):
		s.note("Worker ignored SIGTERM, killing process group",
			zap.Duration("timeout", s.opts.StopTimeout))

		s.signal(h, syscall.SIGKILL)
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Warn("Failed to kill worker process",
				zap.Int("pid", h.pid),
				zap.Error(err))
		}

		select {
		case <-h.done:
		case <-time.After(killWaitTimeout):
			s.logger.Error("Worker did not exit after SIGKILL", zap.Int("pid", h.pid))
		}
	}

	s.sweep()

	exitCode := -1
	select {
	case <-h.done:
		if h.cmd.ProcessState != nil {
			exitCode = h.cmd.ProcessState.ExitCode()
		}
	default:
	}

	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	s.state = model.WorkerStateStopped
	s.mu.Unlock()

	s.note("Worker stopped", zap.Int("pid", h.pid), zap.Int("exit_code", exitCode))
	return nil
}

// signal delivers sig to the worker's process group, falling back to the
// tracked process when the group cannot be signaled.
func (s *Supervisor) signal(h *handle, sig syscall.Signal) {
	err := syscall.Kill(-h.pgid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return
	}

	s.logger.Warn("Failed to signal process group",
		zap.Int("pgid", h.pgid),
		zap.Stringer("signal", sig),
		zap.Error(fmt.Errorf("%w: %v", ErrSignal, err)))

	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to signal worker process",
			zap.Int("pid", h.pid),
			zap.Stringer("signal", sig),
			zap.Error(fmt.Errorf("%w: %v", ErrSignal, err)))
	}
}

// sweep kills leftover worker processes that escaped the process group
func (s *Supervisor) sweep() {
	if s.opts.Sweeper == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	killed, err := s.opts.Sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("Residual process sweep unavailable", zap.Error(err))
		return
	}
	if len(killed) > 0 {
		s.note("Killed residual worker processes", zap.Int32s("pids", killed))
	}
}

// fail records a failed start and leaves the supervisor stopped
func (s *Supervisor) fail(err error, configError bool) {
	s.mu.Lock()
	s.state = model.WorkerStateStopped
	s.current = nil
	s.lastError = err
	s.configError = configError
	s.mu.Unlock()

	s.logger.Error("Failed to start worker", zap.Error(err))
	s.sink.Ingest("Failed to start worker: " + err.Error())
}

// note logs a lifecycle message and echoes it to the line sink
func (s *Supervisor) note(msg string, fields ...zap.Field) {
	s.logger.Info(msg, fields...)
	s.sink.Ingest(msg)
}

// IsRunning reports whether a worker instance is alive
func (s *Supervisor) IsRunning() bool {
	s.mu.RLock()
	h := s.current
	s.mu.RUnlock()

	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ShouldRestart reports whether an exited worker may be restarted
// automatically. It is false before the first Start, after a stop request
// until the next Start, and after a configuration error until the
// configuration changes.
func (s *Supervisor) ShouldRestart() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.manualStop && !s.configError
}

// State returns the current lifecycle state
func (s *Supervisor) State() model.WorkerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PID returns the worker process ID, or 0 if not running
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.pid
}

// Uptime returns how long the current worker has been running
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return time.Since(s.current.startedAt)
}

// LastError returns the error of the last failed start
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}
