package miner

import "errors"

var (
	// ErrConfiguration is returned when the worker configuration cannot produce a command
	ErrConfiguration = errors.New("invalid worker configuration")

	// ErrSpawn is returned when the OS refuses to create the worker process
	ErrSpawn = errors.New("failed to spawn worker")

	// ErrSignal is reported when a termination signal cannot be delivered
	ErrSignal = errors.New("failed to signal worker")

	// ErrSweep is reported when the residual process scan fails
	ErrSweep = errors.New("residual process sweep failed")
)
