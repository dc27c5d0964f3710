package miner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// DefaultSweepPatterns are the executable names and substrings of workers
// known to leave detached children behind.
var DefaultSweepPatterns = []string{"SRBMiner-MULTI", "SRBMiner", "randomscash"}

// Sweeper kills leftover worker processes after a stop
type Sweeper interface {
	Sweep(ctx context.Context) ([]int32, error)
}

// ProcessSweeper scans the OS process list for names or command lines
// containing one of its patterns and force-kills them.
//
// Matching is by substring, so an unrelated process whose name or command
// line contains a pattern is killed too.
type ProcessSweeper struct {
	logger   *zap.Logger
	patterns []string
	self     int32
}

// NewProcessSweeper creates a sweeper for the given patterns
func NewProcessSweeper(patterns []string, logger *zap.Logger) *ProcessSweeper {
	if len(patterns) == 0 {
		patterns = DefaultSweepPatterns
	}
	return &ProcessSweeper{
		logger:   logger.Named("sweeper"),
		patterns: patterns,
		self:     int32(os.Getpid()),
	}
}

// Sweep implements Sweeper
func (s *ProcessSweeper) Sweep(ctx context.Context) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSweep, err)
	}

	var killed []int32
	for _, p := range procs {
		if p.Pid == s.self {
			continue
		}

		// Processes may exit mid-scan; missing fields just don't match.
		name, _ := p.NameWithContext(ctx)
		cmdline, _ := p.CmdlineWithContext(ctx)
		if !s.matches(name, cmdline) {
			continue
		}

		s.logger.Warn("Killing residual worker process",
			zap.Int32("pid", p.Pid),
			zap.String("name", name))

		if err := p.KillWithContext(ctx); err != nil {
			s.logger.Debug("Failed to kill residual process",
				zap.Int32("pid", p.Pid),
				zap.Error(err))
			continue
		}
		killed = append(killed, p.Pid)
	}

	return killed, nil
}

func (s *ProcessSweeper) matches(name, cmdline string) bool {
	for _, pattern := range s.patterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(name, pattern) || strings.Contains(cmdline, pattern) {
			return true
		}
	}
	return false
}
