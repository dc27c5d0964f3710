package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/scash-manager/internal/model"
	"github.com/t77yq/scash-manager/internal/testutil"
)

type fakeController struct {
	mu       sync.Mutex
	running  bool
	startErr error
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeController) Status() model.MinerStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := model.WorkerStateStopped
	if f.running {
		state = model.WorkerStateRunning
	}
	return model.MinerStatus{Running: f.running, State: state}
}

func (f *fakeController) Logs() string {
	return "[2025-01-01 00:00:00] Starting worker"
}

func (f *fakeController) History() model.HistoryStats {
	return model.HistoryStats{Mean: 10, EWMA: 10, Points: []model.SmoothedPoint{{Rate: 10, EWMA: 10}}}
}

func request(t *testing.T, nc *nats.Conn, subject string) ControlResponse {
	t.Helper()

	msg, err := nc.Request(subject, nil, 5*time.Second)
	require.NoError(t, err)

	var resp ControlResponse
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.NotEmpty(t, resp.RequestID)
	return resp
}

func TestControlService(t *testing.T) {
	_, nc, _ := testutil.StartJetStream(t)

	ctl := &fakeController{}
	svc := NewControlService(nc, ctl, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))

	t.Run("Start", func(t *testing.T) {
		resp := request(t, nc, controlStartSubject)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Status)
		assert.True(t, resp.Status.Running)
	})

	t.Run("Status", func(t *testing.T) {
		resp := request(t, nc, controlStatusSubject)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Status)
		assert.Equal(t, model.WorkerStateRunning, resp.Status.State)
	})

	t.Run("Stop", func(t *testing.T) {
		resp := request(t, nc, controlStopSubject)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.Status)
		assert.False(t, resp.Status.Running)
	})

	t.Run("Start Failure", func(t *testing.T) {
		ctl.mu.Lock()
		ctl.startErr = errors.New("configuration incomplete")
		ctl.mu.Unlock()

		resp := request(t, nc, controlStartSubject)
		assert.False(t, resp.OK)
		assert.Equal(t, "configuration incomplete", resp.Error)
		assert.Nil(t, resp.Status)
	})

	t.Run("Logs And History", func(t *testing.T) {
		resp := request(t, nc, controlLogsSubject)
		assert.True(t, resp.OK)
		assert.Contains(t, resp.Logs, "Starting worker")

		resp = request(t, nc, controlHistorySubject)
		assert.True(t, resp.OK)
		require.NotNil(t, resp.History)
		assert.Len(t, resp.History.Points, 1)
	})

	t.Run("Stop Unsubscribes", func(t *testing.T) {
		svc.Stop()
		_, err := nc.Request(controlStatusSubject, nil, 200*time.Millisecond)
		assert.Error(t, err)
	})
}
