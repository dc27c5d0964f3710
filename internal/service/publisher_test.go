package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/scash-manager/internal/model"
	"github.com/t77yq/scash-manager/internal/testutil"
)

func TestPublisher(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)

	publisher := NewPublisher(js, 16, zaptest.NewLogger(t))

	t.Run("Setup", func(t *testing.T) {
		require.NoError(t, publisher.Setup())

		stream, err := js.StreamInfo(minerStreamName)
		require.NoError(t, err)
		assert.Equal(t, []string{logSubject, statusSubject}, stream.Config.Subjects)

		// A second setup updates the existing stream.
		require.NoError(t, publisher.Setup())
	})

	t.Run("Publish Records", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go publisher.Run(ctx)

		ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
		publisher.PublishRecord(model.LogRecord{Timestamp: ts, Text: "[2025-03-04 05:06:07] CPU #0: 1.5 kH/s"})

		var msgs [][]byte
		require.Eventually(t, func() bool {
			var err error
			msgs, err = testutil.ConsumeMessages(js, logSubject, 200*time.Millisecond)
			return err == nil && len(msgs) > 0
		}, 5*time.Second, 50*time.Millisecond)

		var record model.LogRecord
		require.NoError(t, json.Unmarshal(msgs[0], &record))
		assert.Equal(t, "[2025-03-04 05:06:07] CPU #0: 1.5 kH/s", record.Text)
		assert.True(t, ts.Equal(record.Timestamp))
	})

	t.Run("Publish Status", func(t *testing.T) {
		rate := 1500.0
		err := publisher.PublishStatus(model.StatusSnapshot{
			Miner: model.MinerStatus{Running: true, HashrateHS: &rate},
			Host:  model.HostStats{CPUUsage: 93.5},
		})
		require.NoError(t, err)

		msgs, err := testutil.ConsumeMessages(js, statusSubject, 500*time.Millisecond)
		require.NoError(t, err)
		require.NotEmpty(t, msgs)

		var snapshot model.StatusSnapshot
		require.NoError(t, json.Unmarshal(msgs[0], &snapshot))
		assert.True(t, snapshot.Miner.Running)
		require.NotNil(t, snapshot.Miner.HashrateHS)
		assert.Equal(t, 1500.0, *snapshot.Miner.HashrateHS)
		assert.Equal(t, 93.5, snapshot.Host.CPUUsage)
	})
}

func TestPublisher_DropsWhenFull(t *testing.T) {
	// No Run loop and no stream: records only queue.
	publisher := NewPublisher(nil, 2, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		publisher.PublishRecord(model.LogRecord{Text: "line"})
	}
	assert.Equal(t, uint64(3), publisher.Dropped())
}
