package telemetry

import (
	"sync"
	"time"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	// DefaultHistoryInterval is the minimum spacing of stored points
	DefaultHistoryInterval = 180 * time.Second

	// DefaultHistoryMaxPoints keeps roughly a day at the default spacing
	DefaultHistoryMaxPoints = 600

	ewmaAlpha = 0.3
)

// History is a bounded, time-ordered sequence of hash rate samples.
// Samples closer than the minimum interval to the last point overwrite it.
type History struct {
	mu          sync.RWMutex
	points      []model.HistoryPoint
	minInterval time.Duration
	maxPoints   int
}

// NewHistory creates a history
func NewHistory(minInterval time.Duration, maxPoints int) *History {
	if minInterval <= 0 {
		minInterval = DefaultHistoryInterval
	}
	if maxPoints <= 0 {
		maxPoints = DefaultHistoryMaxPoints
	}
	return &History{
		minInterval: minInterval,
		maxPoints:   maxPoints,
	}
}

// Record stores a sample taken at now
func (h *History) Record(rate float64, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.points); n > 0 && now.Sub(h.points[n-1].Timestamp) < h.minInterval {
		h.points[n-1].Rate = rate
		return
	}

	h.points = append(h.points, model.HistoryPoint{Timestamp: now, Rate: rate})
	if over := len(h.points) - h.maxPoints; over > 0 {
		h.points = append(h.points[:0:0], h.points[over:]...)
	}
}

// Points returns a copy of the stored points, oldest first
func (h *History) Points() []model.HistoryPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]model.HistoryPoint(nil), h.points...)
}

// Len returns the number of stored points
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}

// Stats computes the mean and the EWMA of the stored rates. The EWMA is
// seeded with the first rate and updated as ewma = 0.3*v + 0.7*ewma.
func (h *History) Stats() (model.HistoryStats, bool) {
	points := h.Points()
	if len(points) == 0 {
		return model.HistoryStats{}, false
	}

	stats := model.HistoryStats{
		Points: make([]model.SmoothedPoint, len(points)),
	}

	var sum, ewma float64
	for i, pt := range points {
		if i == 0 {
			ewma = pt.Rate
		} else {
			ewma = ewmaAlpha*pt.Rate + (1-ewmaAlpha)*ewma
		}
		sum += pt.Rate
		stats.Points[i] = model.SmoothedPoint{
			Timestamp: pt.Timestamp,
			Rate:      pt.Rate,
			EWMA:      ewma,
		}
	}

	stats.Mean = sum / float64(len(points))
	stats.EWMA = ewma
	return stats, true
}
