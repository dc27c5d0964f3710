package miner

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// LineSink receives each line of worker output
type LineSink interface {
	Ingest(line string)
}

// LineSinkFunc adapts a function to LineSink
type LineSinkFunc func(line string)

// Ingest implements LineSink
func (f LineSinkFunc) Ingest(line string) {
	f(line)
}

// OutputReader drains the combined output stream of one worker instance
type OutputReader struct {
	logger *zap.Logger
	stream io.ReadCloser
	sink   LineSink
}

// NewOutputReader creates a reader for the given stream
func NewOutputReader(stream io.ReadCloser, sink LineSink, logger *zap.Logger) *OutputReader {
	return &OutputReader{
		logger: logger,
		stream: stream,
		sink:   sink,
	}
}

// Run reads lines until end of stream or a read error, then closes the stream.
func (r *OutputReader) Run() {
	defer r.stream.Close()

	reader := bufio.NewReader(r.stream)
	for {
		line, err := reader.ReadString('\n')
		if text := decodeLine(line); text != "" {
			r.sink.Ingest(text)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.logger.Warn("Worker output stream failed", zap.Error(err))
			} else {
				r.logger.Debug("Worker output stream closed")
			}
			return
		}
	}
}

// decodeLine drops invalid UTF-8 and trailing whitespace
func decodeLine(line string) string {
	return strings.TrimRightFunc(strings.ToValidUTF8(line, ""), unicode.IsSpace)
}
