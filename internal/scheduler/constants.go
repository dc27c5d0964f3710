package scheduler

import "time"

const (
	// DefaultWatchdogInterval is how often the watchdog polls the worker
	DefaultWatchdogInterval = 5 * time.Second

	// DefaultRestartDelay is how long the watchdog waits before restarting
	DefaultRestartDelay = 10 * time.Second

	// DefaultSampleSchedule is the cron spec of the history sampling job
	DefaultSampleSchedule = "@every 30s"

	// DefaultCleanupSchedule is the cron spec of the run history cleanup job
	DefaultCleanupSchedule = "0 0 3 * * *"

	cleanupTimeout = time.Minute
)
