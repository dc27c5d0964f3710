package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

// Controller is the worker control surface driven by remote requests
type Controller interface {
	Start() error
	Stop() error
	Status() model.MinerStatus
	Logs() string
	History() model.HistoryStats
}

// ControlResponse is the reply to every control request
type ControlResponse struct {
	RequestID string              `json:"request_id"`
	OK        bool                `json:"ok"`
	Error     string              `json:"error,omitempty"`
	Status    *model.MinerStatus  `json:"status,omitempty"`
	Logs      string              `json:"logs,omitempty"`
	History   *model.HistoryStats `json:"history,omitempty"`
}

// ControlService answers start, stop and status requests over NATS
type ControlService struct {
	logger *zap.Logger
	nc     *nats.Conn
	ctl    Controller
	mu     sync.Mutex
	subs   []*nats.Subscription
}

// NewControlService creates a new control service
func NewControlService(nc *nats.Conn, ctl Controller, logger *zap.Logger) *ControlService {
	return &ControlService{
		logger: logger.Named("control"),
		nc:     nc,
		ctl:    ctl,
	}
}

// Start subscribes to the control subjects
func (s *ControlService) Start(ctx context.Context) error {
	s.logger.Info("Starting control service")

	handlers := map[string]func() ControlResponse{
		controlStartSubject:   s.handleStart,
		controlStopSubject:    s.handleStop,
		controlStatusSubject:  s.handleStatus,
		controlLogsSubject:    s.handleLogs,
		controlHistorySubject: s.handleHistory,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for subject, handler := range handlers {
		handler := handler
		sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
			s.respond(msg, handler)
		})
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.nc.Flush(); err != nil {
		s.unsubscribe()
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop unsubscribes from the control subjects
func (s *ControlService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subs) == 0 {
		return
	}
	s.logger.Info("Stopping control service")
	s.unsubscribe()
}

func (s *ControlService) unsubscribe() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}
	}
	s.subs = nil
}

// respond runs handler and replies to msg
func (s *ControlService) respond(msg *nats.Msg, handler func() ControlResponse) {
	resp := handler()
	resp.RequestID = uuid.New().String()

	s.logger.Info("Handled control request",
		zap.String("subject", msg.Subject),
		zap.String("request_id", resp.RequestID),
		zap.Bool("ok", resp.OK))

	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal control response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to send control response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

func (s *ControlService) handleStart() ControlResponse {
	if err := s.ctl.Start(); err != nil {
		return ControlResponse{OK: false, Error: err.Error()}
	}
	return s.withStatus()
}

func (s *ControlService) handleStop() ControlResponse {
	if err := s.ctl.Stop(); err != nil {
		return ControlResponse{OK: false, Error: err.Error()}
	}
	return s.withStatus()
}

func (s *ControlService) handleStatus() ControlResponse {
	return s.withStatus()
}

func (s *ControlService) handleLogs() ControlResponse {
	return ControlResponse{OK: true, Logs: s.ctl.Logs()}
}

func (s *ControlService) handleHistory() ControlResponse {
	history := s.ctl.History()
	return ControlResponse{OK: true, History: &history}
}

func (s *ControlService) withStatus() ControlResponse {
	status := s.ctl.Status()
	return ControlResponse{OK: true, Status: &status}
}
