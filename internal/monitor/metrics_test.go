package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/scash-manager/internal/model"
)

func TestMetrics(t *testing.T) {
	metrics := NewMetrics("scash")

	t.Run("Log Lines", func(t *testing.T) {
		metrics.IncLogLines()
		metrics.IncLogLines()
		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.logLines))
	})

	t.Run("Observe Stopped Worker", func(t *testing.T) {
		metrics.Observe(model.StatusSnapshot{
			Miner: model.MinerStatus{NeedsSetup: true},
			Host:  model.HostStats{CPUUsage: 12.5, MemoryUsage: 40},
		})

		assert.Equal(t, 0.0, testutil.ToFloat64(metrics.running))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.needsSetup))
		assert.Equal(t, 0.0, testutil.ToFloat64(metrics.hashrate.WithLabelValues("latest")))
		assert.Equal(t, 12.5, testutil.ToFloat64(metrics.hostCPU))
		assert.Equal(t, 40.0, testutil.ToFloat64(metrics.hostMemory))
	})

	t.Run("Registry", func(t *testing.T) {
		families, err := metrics.Registry().Gather()
		require.NoError(t, err)

		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["scash_worker_running"])
		assert.True(t, names["scash_log_lines_total"])
		assert.True(t, names["scash_hashrate_hashes_per_second"])
	})
}
