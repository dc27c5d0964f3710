// Package telemetry turns raw worker output into timestamped log records and
// derives hash rate, share submission and smoothed history from them.
package telemetry

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	// DefaultLogCapacity is the number of most recent records kept
	DefaultLogCapacity = 500

	// TimestampLayout is the bracketed timestamp format of log records
	TimestampLayout = "2006-01-02 15:04:05"
)

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	timestampPrefix = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\]`)
	newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n", `\n`, "\n")
)

// Config configures a Pipeline
type Config struct {
	LogCapacity      int
	HistoryInterval  time.Duration
	HistoryMaxPoints int
}

// Pipeline ingests worker output lines. The log buffer and the hash rate
// history are guarded by independent locks.
type Pipeline struct {
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	records  []model.LogRecord
	head     int
	size     int
	ingested uint64

	history *History

	listenersMu sync.RWMutex
	listeners   []func(model.LogRecord)
}

// NewPipeline creates a telemetry pipeline
func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}

	return &Pipeline{
		logger:  logger.Named("telemetry"),
		now:     time.Now,
		records: make([]model.LogRecord, cfg.LogCapacity),
		history: NewHistory(cfg.HistoryInterval, cfg.HistoryMaxPoints),
	}
}

// OnRecord registers a callback invoked with every appended record. Callbacks
// run on the ingesting goroutine outside the buffer lock.
func (p *Pipeline) OnRecord(fn func(model.LogRecord)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Ingest normalizes a raw output line and appends the resulting records.
// ANSI sequences are removed, embedded newlines (literal or escaped) split the
// line, and lines without a leading bracketed timestamp get the current time.
func (p *Pipeline) Ingest(raw string) {
	text := newlineReplacer.Replace(ansiPattern.ReplaceAllString(raw, ""))

	var appended []model.LogRecord
	p.mu.Lock()
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		record := p.normalize(line)
		p.append(record)
		appended = append(appended, record)
	}
	p.mu.Unlock()

	if len(appended) == 0 {
		return
	}

	p.listenersMu.RLock()
	listeners := p.listeners
	p.listenersMu.RUnlock()

	for _, record := range appended {
		p.logger.Info(record.Text)
		for _, fn := range listeners {
			fn(record)
		}
	}
}

func (p *Pipeline) normalize(line string) model.LogRecord {
	now := p.now()
	if m := timestampPrefix.FindStringSubmatch(line); m != nil {
		ts, err := time.ParseInLocation(TimestampLayout, m[1], time.Local)
		if err != nil {
			ts = now
		}
		return model.LogRecord{Timestamp: ts, Text: line}
	}
	return model.LogRecord{
		Timestamp: now,
		Text:      "[" + now.Format(TimestampLayout) + "] " + line,
	}
}

// append must be called with mu held
func (p *Pipeline) append(record model.LogRecord) {
	capacity := len(p.records)
	idx := (p.head + p.size) % capacity
	p.records[idx] = record
	if p.size < capacity {
		p.size++
	} else {
		p.head = (p.head + 1) % capacity
	}
	p.ingested++
}

// Records returns the buffered records, oldest first
func (p *Pipeline) Records() []model.LogRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.LogRecord, p.size)
	for i := 0; i < p.size; i++ {
		out[i] = p.records[(p.head+i)%len(p.records)]
	}
	return out
}

// Lines returns the buffered record texts, oldest first
func (p *Pipeline) Lines() []string {
	records := p.Records()
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = r.Text
	}
	return lines
}

// Text returns the buffer joined by newlines, for display
func (p *Pipeline) Text() string {
	return strings.Join(p.Lines(), "\n")
}

// Len returns the number of buffered records
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Ingested returns the total number of records appended since creation
func (p *Pipeline) Ingested() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ingested
}

// History returns the hash rate history
func (p *Pipeline) History() *History {
	return p.history
}

// RecordSample stores a hash rate sample in the history
func (p *Pipeline) RecordSample(rate float64, now time.Time) {
	p.history.Record(rate, now)
}

// Stats computes mean and EWMA over the history
func (p *Pipeline) Stats() (model.HistoryStats, bool) {
	return p.history.Stats()
}
