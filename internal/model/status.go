package model

import "time"

// MinerStatus is the status snapshot exposed to external collaborators
type MinerStatus struct {
	NeedsSetup   bool          `json:"needs_setup"`
	Running      bool          `json:"running"`
	State        WorkerState   `json:"state"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	Wallet       string        `json:"wallet"`
	Pool         string        `json:"pool_url"`
	Threads      int           `json:"threads"`
	Executable   string        `json:"bin_path"`
	Algorithm    string        `json:"algorithm"`
	Variant      Variant       `json:"impl"`
	RestartCount int64         `json:"restart_count"`
	RestartDelay time.Duration `json:"restart_delay"`

	Hashrate       string   `json:"hashrate,omitempty"`
	HashrateHS     *float64 `json:"hashrate_hs,omitempty"`
	HashrateAvgHS  *float64 `json:"hashrate_avg_hs,omitempty"`
	HashrateEWMAHS *float64 `json:"hashrate_ewma_hs,omitempty"`
	HashrateAvg    string   `json:"hashrate_avg,omitempty"`
	HashrateEWMA   string   `json:"hashrate_ewma,omitempty"`
	LastSubmit     string   `json:"last_submit,omitempty"`

	LastError   string    `json:"last_error,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// HostStats represents resource usage of the host running the worker
type HostStats struct {
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	WorkerCPU   float64   `json:"worker_cpu,omitempty"`
	WorkerRSS   uint64    `json:"worker_rss,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// RunRecord is a persisted worker run
type RunRecord struct {
	ID         string     `json:"id"`
	PID        int        `json:"pid"`
	Variant    Variant    `json:"variant"`
	Command    string     `json:"command"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	ManualStop bool       `json:"manual_stop"`
	Error      string     `json:"error,omitempty"`
}

// StatusSnapshot is the periodic status message published to subscribers
type StatusSnapshot struct {
	Miner MinerStatus `json:"miner"`
	Host  HostStats   `json:"host"`
}
