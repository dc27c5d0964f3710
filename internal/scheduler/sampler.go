package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SampleSource records one hash rate history sample
type SampleSource interface {
	Sample(now time.Time)
}

// HistoryPruner deletes run history older than a cutoff
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Sampler runs the periodic telemetry jobs
type Sampler struct {
	logger  *zap.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewSampler creates a new sampler. Schedules accept an optional seconds field.
func NewSampler(logger *zap.Logger) *Sampler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronOptions := []cron.Option{
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Sampler{
		logger: logger.Named("sampler"),
		cron:   cron.New(cronOptions...),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// ScheduleSampling periodically feeds the latest hash rate into the history
func (s *Sampler) ScheduleSampling(spec string, src SampleSource) error {
	return s.addJob("sample", spec, func(context.Context) {
		src.Sample(s.now())
	})
}

// ScheduleRetention periodically deletes run history older than retention
func (s *Sampler) ScheduleRetention(spec string, pruner HistoryPruner, retention time.Duration) error {
	return s.addJob("retention", spec, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		defer cancel()

		cutoff := s.now().Add(-retention)
		deleted, err := pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("Failed to clean up run history", zap.Error(err))
			return
		}
		if deleted > 0 {
			s.logger.Info("Cleaned up run history",
				zap.Int64("deleted", deleted),
				zap.Time("before", cutoff))
		}
	})
}

func (s *Sampler) addJob(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSamplerStarted
	}

	entryID, err := s.cron.AddFunc(spec, func() { fn(s.ctx) })
	if err != nil {
		return fmt.Errorf("%w %q for %s: %v", ErrInvalidSchedule, spec, name, err)
	}

	s.logger.Info("Scheduled job",
		zap.String("job", name),
		zap.String("schedule", spec),
		zap.Int("entry_id", int(entryID)))
	return nil
}

// Start starts the sampler
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.cron.Start()
	s.logger.Info("Sampler started", zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop stops the sampler and waits for running jobs to finish
func (s *Sampler) Stop() {
	s.logger.Info("Stopping sampler")
	s.cancel()
	<-s.cron.Stop().Done()
}
