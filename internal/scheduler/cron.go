package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser wraps robfig/cron for parsing cron expressions.
type CronParser struct {
	parser cron.Parser
}

// NewCronParser creates a new cron parser with standard options.
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

// Parse parses a cron expression and returns a schedule.
func (p *CronParser) Parse(expression string) (cron.Schedule, error) {
	schedule, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression: %w", err)
	}
	return schedule, nil
}

// ParseInterval parses an interval duration string (e.g., "5m", "1h", "30s").
func ParseInterval(interval string) (time.Duration, error) {
	duration, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("parsing interval: %w", err)
	}

	// Disallow sub-second intervals
	if duration < time.Second {
		return 0, fmt.Errorf("interval must be at least 1 second")
	}

	return duration, nil
}

// Compile resolves an expression to its type and next-run function. Plain
// durations are intervals; anything else must be a cron expression or a
// descriptor such as "@hourly".
func Compile(expression, timezone string) (ScheduleType, func(time.Time) time.Time, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return "", nil, fmt.Errorf("loading timezone: %w", err)
	}

	if d, err := ParseInterval(expression); err == nil {
		return ScheduleTypeInterval, func(after time.Time) time.Time {
			return after.Add(d)
		}, nil
	}

	schedule, err := NewCronParser().Parse(expression)
	if err != nil {
		return "", nil, err
	}
	return ScheduleTypeCron, func(after time.Time) time.Time {
		return schedule.Next(after.In(loc))
	}, nil
}

// Validate reports whether expression and timezone would compile.
func Validate(expression, timezone string) error {
	_, _, err := Compile(expression, timezone)
	return err
}
