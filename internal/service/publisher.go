package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

// Publisher forwards log records and status snapshots to JetStream. Records
// are queued without blocking the caller and dropped when the queue is full.
type Publisher struct {
	logger  *zap.Logger
	js      nats.JetStreamContext
	records chan model.LogRecord
	dropped atomic.Uint64
}

// NewPublisher creates a publisher with a queue of bufferSize records
func NewPublisher(js nats.JetStreamContext, bufferSize int, logger *zap.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = DefaultPublishBuffer
	}

	return &Publisher{
		logger:  logger.Named("publisher"),
		js:      js,
		records: make(chan model.LogRecord, bufferSize),
	}
}

// Setup creates or updates the miner stream
func (p *Publisher) Setup() error {
	subjects := []string{logSubject, statusSubject}

	streamInfo, err := p.js.StreamInfo(minerStreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if streamInfo == nil {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:      minerStreamName,
			Subjects:  subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    streamMaxAge,
			MaxMsgs:   streamMaxMsgs,
			MaxBytes:  -1,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", minerStreamName, err)
		}
		p.logger.Info("Created stream", zap.String("name", minerStreamName))
		return nil
	}

	config := streamInfo.Config
	config.Subjects = subjects
	config.MaxAge = streamMaxAge
	config.MaxMsgs = streamMaxMsgs

	if _, err = p.js.UpdateStream(&config); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", minerStreamName, err)
	}
	p.logger.Info("Updated stream", zap.String("name", minerStreamName))
	return nil
}

// PublishRecord queues a log record. It never blocks.
func (p *Publisher) PublishRecord(record model.LogRecord) {
	select {
	case p.records <- record:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many records were discarded on a full queue
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// PublishStatus publishes a status snapshot
func (p *Publisher) PublishStatus(snapshot model.StatusSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if _, err := p.js.Publish(statusSubject, data); err != nil {
		return fmt.Errorf("failed to publish status: %w", err)
	}
	return nil
}

// Run publishes queued records until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("Starting log publisher")

	for {
		select {
		case <-ctx.Done():
			if dropped := p.Dropped(); dropped > 0 {
				p.logger.Warn("Log records dropped on full queue", zap.Uint64("dropped", dropped))
			}
			return
		case record := <-p.records:
			p.publish(record)
		}
	}
}

func (p *Publisher) publish(record model.LogRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		p.logger.Error("Failed to marshal log record", zap.Error(err))
		return
	}

	if _, err := p.js.PublishAsync(logSubject, data); err != nil {
		p.logger.Error("Failed to publish log record", zap.Error(err))
	}
}
