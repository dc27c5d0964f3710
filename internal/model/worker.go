package model

import "time"

// Variant identifies a supported mining client
type Variant string

const (
	VariantCPUMiner Variant = "cpuminer"
	VariantXMRig    Variant = "xmrig"
	VariantSRBMiner Variant = "srbminer"
)

// WorkerState represents the lifecycle state of the supervised worker
type WorkerState string

const (
	WorkerStateStopped  WorkerState = "stopped"
	WorkerStateStarting WorkerState = "starting"
	WorkerStateRunning  WorkerState = "running"
	WorkerStateStopping WorkerState = "stopping"
)

// WorkerConfig describes which worker to run and how to connect it
type WorkerConfig struct {
	Variant    Variant `json:"impl"`
	Executable string  `json:"bin_path"`
	Pool       string  `json:"url"`
	Wallet     string  `json:"wallet"`
	Threads    int     `json:"threads"`
	ExtraArgs  string  `json:"extra_args,omitempty"`
	Algorithm  string  `json:"algorithm"`
}

// RunInfo describes one spawned worker instance
type RunInfo struct {
	PID       int       `json:"pid"`
	PGID      int       `json:"pgid"`
	Variant   Variant   `json:"variant"`
	Command   []string  `json:"command"`
	StartedAt time.Time `json:"started_at"`
}

// ExitInfo describes how a worker instance ended
type ExitInfo struct {
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	ManualStop bool      `json:"manual_stop"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
}
