package scheduler

import "errors"

var (
	// ErrInvalidSchedule is returned when a cron spec cannot be parsed
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrSamplerStarted is returned when a job is added after Start
	ErrSamplerStarted = errors.New("sampler already started")
)
