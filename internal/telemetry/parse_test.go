package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHashrate(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantRaw string
		wantHS  float64
	}{
		{name: "Kilo", text: "total 5.0 kH/s", wantRaw: "5.0 kH/s", wantHS: 5000},
		{name: "Mega", text: "1.5 MH/s", wantRaw: "1.5 MH/s", wantHS: 1_500_000},
		{name: "Base", text: "100 H/s", wantRaw: "100 H/s", wantHS: 100},
		{name: "Hash Word", text: "CPU #0: 0.11 khash/s", wantRaw: "0.11 khash/s", wantHS: 110},
		{name: "Giga Hash Word", text: "2 Ghash/s", wantRaw: "2 Ghash/s", wantHS: 2e9},
		{name: "Tera", text: "3 TH/s", wantRaw: "3 TH/s", wantHS: 3e12},
		{name: "Lowercase", text: "42 kh/s", wantRaw: "42 kh/s", wantHS: 42000},
		{name: "Tight Kilo", text: "rate 7.2kH/s, diff 1000", wantRaw: "7.2kH/s", wantHS: 7200},
		{name: "No Space", text: "speed 7.5MH/s", wantRaw: "7.5MH/s", wantHS: 7_500_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sample, ok := ParseHashrate(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.wantRaw, sample.Raw)
			assert.InDelta(t, tt.wantHS, sample.Rate, 1e-6)
		})
	}

	t.Run("No Match", func(t *testing.T) {
		_, ok := ParseHashrate("connected to pool, waiting for job")
		assert.False(t, ok)
	})
}

func TestPipeline_LatestSample(t *testing.T) {
	p := newTestPipeline(t, 10)
	p.Ingest("5.0 kH/s")
	p.Ingest("new job from pool")
	p.Ingest("7.2 kH/s")
	p.Ingest("accepted: 1/1")

	sample, ok := p.LatestSample()
	require.True(t, ok)
	assert.Equal(t, "7.2 kH/s", sample.Raw)
	assert.InDelta(t, 7200.0, sample.Rate, 1e-9)
}

func TestPipeline_LatestSampleEmpty(t *testing.T) {
	p := newTestPipeline(t, 10)
	_, ok := p.LatestSample()
	assert.False(t, ok)
}

func TestUnitMultiplier(t *testing.T) {
	assert.Equal(t, 1.0, UnitMultiplier("H/s"))
	assert.Equal(t, 1.0, UnitMultiplier("hash/s"))
	assert.Equal(t, 1e3, UnitMultiplier("kH/s"))
	assert.Equal(t, 1e3, UnitMultiplier("KHASH/S"))
	assert.Equal(t, 1e6, UnitMultiplier("Mhash/s"))
	assert.Equal(t, 1e9, UnitMultiplier("GH/s"))
	assert.Equal(t, 1e12, UnitMultiplier("Thash/s"))
}

func TestParseSubmission(t *testing.T) {
	t.Run("Rightmost Timestamp Wins", func(t *testing.T) {
		p := newTestPipeline(t, 10)
		p.Ingest("pool says accepted: 3/3 [2025-01-01 00:00:00] diff 1000")

		sub, ok := p.LastSubmission()
		require.True(t, ok)
		assert.Equal(t, "2025-01-01 00:00:00", sub.TimeStr)
	})

	t.Run("Last Matching Line", func(t *testing.T) {
		sub, ok := ParseSubmission([]string{
			"[2025-01-01 00:00:01] ACCEPTED: 1/1 (yay)",
			"[2025-01-01 00:00:02] new job",
			"[2025-01-01 00:00:03] Accepted: 2/2 (yay)",
			"[2025-01-01 00:00:04] 5 kH/s",
		})
		require.True(t, ok)
		assert.Equal(t, "[2025-01-01 00:00:03] Accepted: 2/2 (yay)", sub.Line)
		assert.Equal(t, "2025-01-01 00:00:03", sub.TimeStr)
	})

	t.Run("No Timestamp", func(t *testing.T) {
		sub, ok := ParseSubmission([]string{"accepted: 5/6"})
		require.True(t, ok)
		assert.Empty(t, sub.TimeStr)
	})

	t.Run("No Submission", func(t *testing.T) {
		_, ok := ParseSubmission([]string{"rejected: 0/1"})
		assert.False(t, ok)
	})
}
