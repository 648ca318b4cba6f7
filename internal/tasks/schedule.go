package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field, 6-field (leading seconds) and
// descriptor (@hourly, @every 5m) expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Schedule is a parsed cron expression bound to a time zone.
type Schedule struct {
	spec cron.Schedule
	loc  *time.Location
}

// ParseSchedule parses expr, interpreting it in timezone (UTC if empty).
func ParseSchedule(expr, timezone string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	spec, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return Schedule{}, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}
	return Schedule{spec: spec, loc: loc}, nil
}

// Next returns the first activation strictly after t.
func (s Schedule) Next(after time.Time) time.Time {
	return s.spec.Next(after.In(s.loc))
}

// NextRun computes a task's next activation after t.
func NextRun(t Task, after time.Time) (time.Time, error) {
	s, err := ParseSchedule(t.Schedule, t.Timezone)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after), nil
}
