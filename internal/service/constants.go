package service

import "time"

const (
	minerStreamName = "MINER"
	logSubject      = "miner.logs"
	statusSubject   = "miner.status"

	controlStartSubject   = "miner.control.start"
	controlStopSubject    = "miner.control.stop"
	controlStatusSubject  = "miner.control.status"
	controlLogsSubject    = "miner.control.logs"
	controlHistorySubject = "miner.control.history"

	streamMaxAge  = 24 * time.Hour
	streamMaxMsgs = 100000

	// DefaultPublishBuffer is the capacity of the log record queue
	DefaultPublishBuffer = 1024
)
