package tasks

import "time"

// Task Types
const (
	TaskTypeBillingTrack = "billing:track"
	TaskTypeUsageSweep   = "usage:sweep"
)

// Task Queues
const (
	QueueCritical = "critical" // billing reports
	QueueDefault  = "default"
	QueueLow      = "low" // maintenance sweeps
)

// Task Timeouts
const (
	TimeoutShort  = 1 * time.Minute
	TimeoutMedium = 5 * time.Minute
)

// Task Retry Settings
const (
	RetryMax     = 8
	RetryDefault = 3
)
