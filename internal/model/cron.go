package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrISOFormat     = errors.New("invalid ISO8601 duration")
	ErrEmptySchedule = errors.New("schedule needs cron or duration")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron checks a 5 field cron expression or a @macro.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	return cronParser.Parse(e)
}

// Validate checks that exactly one trigger is configured and that it parses.
func (s Schedule) Validate() error {
	switch {
	case s.Cron != "" && s.Duration != "":
		return errors.New("schedule: cron and duration are mutually exclusive")
	case s.Cron != "":
		if _, err := ParseCron(s.Cron); err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}
	case s.Duration != "":
		d, err := ParseISODuration(s.Duration)
		if err != nil {
			return fmt.Errorf("schedule.duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("schedule.duration: must be positive, got %s", d)
		}
	default:
		return ErrEmptySchedule
	}
	return nil
}

var isoDurationRx = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d{1,9})?)S)?)?$`)

// ParseISODuration understands the day and time parts of ISO8601 durations,
// e.g. P1D, PT15M or PT1.5S. Years, months and weeks are rejected.
func ParseISODuration(dur string) (time.Duration, error) {
	m := isoDurationRx.FindStringSubmatch(dur)
	if m == nil || dur == "P" || strings.HasSuffix(dur, "T") {
		return 0, ErrISOFormat
	}

	units := [...]time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var ret time.Duration
	for i, part := range m[1:] {
		if part == "" {
			continue
		}
		n, err := strconv.ParseFloat(strings.Replace(part, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrISOFormat, err)
		}
		ret += time.Duration(n * float64(units[i]))
	}
	return ret, nil
}
