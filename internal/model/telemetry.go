package model

import "time"

// LogRecord is one normalized line of worker or supervisor output
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// HashSample is the most recent hash rate found in the log buffer
type HashSample struct {
	// Raw is the matched text as it appeared in the log
	Raw   string  `json:"raw"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Rate  float64 `json:"hs"`
}

// Submission is the most recent accepted share line
type Submission struct {
	Line    string `json:"line"`
	TimeStr string `json:"time_str,omitempty"`
}

// HistoryPoint is a stored hash rate sample
type HistoryPoint struct {
	Timestamp time.Time `json:"ts"`
	Rate      float64   `json:"hs"`
}

// SmoothedPoint pairs a history point with the EWMA at that point
type SmoothedPoint struct {
	Timestamp time.Time `json:"ts"`
	Rate      float64   `json:"hs"`
	EWMA      float64   `json:"ewma_hs"`
}

// HistoryStats summarizes the hash rate history
type HistoryStats struct {
	Mean   float64         `json:"avg_hs"`
	EWMA   float64         `json:"ewma_hs"`
	Points []SmoothedPoint `json:"points"`
}
