package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Coalescing(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Within Interval Overwrites", func(t *testing.T) {
		h := NewHistory(0, 0)
		h.Record(100, base)
		h.Record(150, base.Add(10*time.Second))

		points := h.Points()
		require.Len(t, points, 1)
		assert.Equal(t, 150.0, points[0].Rate)
		assert.Equal(t, base, points[0].Timestamp)
	})

	t.Run("Beyond Interval Appends", func(t *testing.T) {
		h := NewHistory(0, 0)
		h.Record(100, base)
		h.Record(150, base.Add(200*time.Second))

		points := h.Points()
		require.Len(t, points, 2)
		assert.Equal(t, 100.0, points[0].Rate)
		assert.Equal(t, 150.0, points[1].Rate)
	})

	t.Run("Coalesces Against Stored Timestamp", func(t *testing.T) {
		h := NewHistory(0, 0)
		h.Record(1, base)
		h.Record(2, base.Add(100*time.Second))
		h.Record(3, base.Add(190*time.Second))

		assert.Equal(t, 2, h.Len())
	})
}

func TestHistory_MaxPoints(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(time.Second, 4)

	for i := 0; i < 10; i++ {
		h.Record(float64(i), base.Add(time.Duration(i)*time.Minute))
	}

	points := h.Points()
	require.Len(t, points, 4)
	assert.Equal(t, 6.0, points[0].Rate)
	assert.Equal(t, 9.0, points[3].Rate)
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Timestamp.After(points[i-1].Timestamp))
	}
}

func TestHistory_Stats(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Empty", func(t *testing.T) {
		_, ok := NewHistory(0, 0).Stats()
		assert.False(t, ok)
	})

	t.Run("EWMA Recurrence", func(t *testing.T) {
		h := NewHistory(time.Second, 0)
		for i, v := range []float64{10, 20, 10} {
			h.Record(v, base.Add(time.Duration(i)*time.Minute))
		}

		stats, ok := h.Stats()
		require.True(t, ok)
		require.Len(t, stats.Points, 3)

		// seed 10, then 0.3*20+0.7*10, then 0.3*10+0.7*13
		want := []float64{10, 13, 12.1}
		for i, pt := range stats.Points {
			assert.InDelta(t, want[i], pt.EWMA, 1e-9)
		}
		assert.InDelta(t, 12.1, stats.EWMA, 1e-9)
		assert.InDelta(t, 40.0/3.0, stats.Mean, 1e-9)
		assert.Equal(t, 20.0, stats.Points[1].Rate)
	})

	t.Run("Single Point", func(t *testing.T) {
		h := NewHistory(0, 0)
		h.Record(42, base)

		stats, ok := h.Stats()
		require.True(t, ok)
		assert.Equal(t, 42.0, stats.Mean)
		assert.Equal(t, 42.0, stats.EWMA)
	})
}

func TestPipeline_RecordSample(t *testing.T) {
	p := newTestPipeline(t, 10)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	p.RecordSample(1000, base)
	p.RecordSample(2000, base.Add(3*time.Minute))

	stats, ok := p.Stats()
	require.True(t, ok)
	assert.Len(t, stats.Points, 2)
	assert.InDelta(t, 1500.0, stats.Mean, 1e-9)
}
