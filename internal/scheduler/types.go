package scheduler

import "time"

// ScheduleType represents the type of schedule.
type ScheduleType string

const (
	// ScheduleTypeCron fires on a cron expression or descriptor.
	ScheduleTypeCron ScheduleType = "cron"
	// ScheduleTypeInterval fires every fixed duration, e.g. "90s".
	ScheduleTypeInterval ScheduleType = "interval"
)

// Schedule publishes the event "schedule:<Name>" whenever it comes due.
type Schedule struct {
	Name       string
	Expression string
	// Timezone for cron expressions (default "UTC").
	Timezone string
}

// entry is a schedule with its computed trigger.
type entry struct {
	Schedule
	typ     ScheduleType
	next    func(after time.Time) time.Time
	nextRun time.Time
	lastRun time.Time
	runs    int
}

// Status reports the state of one schedule.
type Status struct {
	Name    string
	Type    ScheduleType
	NextRun time.Time
	LastRun time.Time
	Runs    int
}
