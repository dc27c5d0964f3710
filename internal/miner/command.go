package miner

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/t77yq/scash-manager/internal/model"
)

const (
	defaultAlgorithm         = "randomx"
	defaultSRBMinerAlgorithm = "randomscash"
	poolPassword             = "x"
)

var stratumPrefixes = []string{"stratum+tcp://", "stratum+ssl://", "stratum://"}

// BuildCommand maps a worker configuration to the argument vector of the
// selected variant. The first element is the executable path.
func BuildCommand(cfg model.WorkerConfig) ([]string, error) {
	if strings.TrimSpace(cfg.Executable) == "" {
		return nil, fmt.Errorf("%w: executable path is not set", ErrConfiguration)
	}
	if strings.TrimSpace(cfg.Pool) == "" {
		return nil, fmt.Errorf("%w: pool endpoint is not set", ErrConfiguration)
	}

	threads := strconv.Itoa(ResolveThreads(cfg.Threads))
	algo := strings.TrimSpace(cfg.Algorithm)

	var args []string
	switch cfg.Variant {
	case model.VariantCPUMiner:
		if algo == "" {
			algo = defaultAlgorithm
		}
		args = []string{
			cfg.Executable,
			"-a", algo,
			"-o", QualifyPool(cfg.Pool),
			"-u", cfg.Wallet,
			"-p", poolPassword,
			"-t", threads,
		}
	case model.VariantXMRig:
		if algo == "" {
			algo = defaultAlgorithm
		}
		args = []string{
			cfg.Executable,
			"-a", algo,
			"-o", cfg.Pool,
			"-u", cfg.Wallet,
			"-p", poolPassword,
			"-t", threads,
		}
	case model.VariantSRBMiner:
		if algo == "" || algo == defaultAlgorithm {
			algo = defaultSRBMinerAlgorithm
		}
		args = []string{
			cfg.Executable,
			"--algorithm", algo,
			"--pool", StripPoolScheme(cfg.Pool),
			"--wallet", cfg.Wallet,
			"--password", poolPassword,
			"--cpu-threads", threads,
		}
	default:
		return nil, fmt.Errorf("%w: unknown worker variant %q", ErrConfiguration, cfg.Variant)
	}

	return append(args, strings.Fields(cfg.ExtraArgs)...), nil
}

// QualifyPool returns a scheme-qualified stratum URL. A bare host:port gets
// the stratum+tcp:// scheme.
func QualifyPool(pool string) string {
	pool = strings.TrimSpace(pool)
	if pool == "" {
		return ""
	}
	for _, prefix := range stratumPrefixes {
		if strings.HasPrefix(pool, prefix) {
			return pool
		}
	}
	return "stratum+tcp://" + pool
}

// StripPoolScheme returns the host:port part of a stratum URL.
func StripPoolScheme(pool string) string {
	pool = strings.TrimSpace(pool)
	for _, prefix := range stratumPrefixes {
		if strings.HasPrefix(pool, prefix) {
			return strings.TrimPrefix(pool, prefix)
		}
	}
	return pool
}

// ResolveThreads returns the requested thread count, or one less than the
// number of CPUs when unset.
func ResolveThreads(threads int) int {
	if threads > 0 {
		return threads
	}
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}
