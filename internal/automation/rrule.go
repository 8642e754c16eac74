// Package automation is the durable recurring-job scheduler: a restricted
// RRULE grammar, a ticking loop that enqueues turns on due automations, and
// a file-backed run-history store that makes a restart idempotent - a slot
// that already produced a run record is never re-fired.
package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Freq is the recurrence frequency. Only the two shapes the grammar allows
// are represented; anything else fails to parse.
type Freq string

const (
	FreqHourly Freq = "HOURLY"
	FreqWeekly Freq = "WEEKLY"
)

// RRule is a parsed automation schedule: either
//
//	FREQ=HOURLY;INTERVAL=n[;BYDAY=mo,tu,...]
//
// or
//
//	FREQ=WEEKLY;BYDAY=mo,tu,...;BYHOUR=h;BYMINUTE=m
//
// This is intentionally a small subset of RFC 5545 - just enough to express
// "every N hours" and "these weekdays at this time", which covers every
// automation job this system actually needs to run.
type RRule struct {
	Freq     Freq
	Interval int
	ByDay    []time.Weekday
	ByHour   int
	ByMinute int

	raw     string
	cronExp string
	sched   cron.Schedule
}

var weekdayAliases = map[string]time.Weekday{
	"SU": time.Sunday, "MO": time.Monday, "TU": time.Tuesday, "WE": time.Wednesday,
	"TH": time.Thursday, "FR": time.Friday, "SA": time.Saturday,
}

var cronDowNames = map[time.Weekday]string{
	time.Sunday: "SUN", time.Monday: "MON", time.Tuesday: "TUE", time.Wednesday: "WED",
	time.Thursday: "THU", time.Friday: "FRI", time.Saturday: "SAT",
}

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseRRule validates and parses one restricted RRULE string.
func ParseRRule(raw string) (*RRule, error) {
	fields, err := splitFields(raw)
	if err != nil {
		return nil, err
	}

	freq, ok := fields["FREQ"]
	if !ok {
		return nil, fmt.Errorf("rrule missing FREQ")
	}

	r := &RRule{raw: raw}
	switch Freq(strings.ToUpper(freq)) {
	case FreqHourly:
		r.Freq = FreqHourly
		interval, err := parseInterval(fields)
		if err != nil {
			return nil, err
		}
		r.Interval = interval
		if byday, ok := fields["BYDAY"]; ok {
			days, err := parseByDay(byday)
			if err != nil {
				return nil, err
			}
			r.ByDay = days
		}
		if _, ok := fields["BYHOUR"]; ok {
			return nil, fmt.Errorf("BYHOUR is not valid with FREQ=HOURLY")
		}
		if _, ok := fields["BYMINUTE"]; ok {
			return nil, fmt.Errorf("BYMINUTE is not valid with FREQ=HOURLY")
		}
	case FreqWeekly:
		r.Freq = FreqWeekly
		byday, ok := fields["BYDAY"]
		if !ok {
			return nil, fmt.Errorf("FREQ=WEEKLY requires BYDAY")
		}
		days, err := parseByDay(byday)
		if err != nil {
			return nil, err
		}
		if len(days) == 0 {
			return nil, fmt.Errorf("FREQ=WEEKLY requires at least one BYDAY entry")
		}
		r.ByDay = days

		hour, err := requireIntField(fields, "BYHOUR", 0, 23)
		if err != nil {
			return nil, err
		}
		r.ByHour = hour

		minute, err := requireIntField(fields, "BYMINUTE", 0, 59)
		if err != nil {
			return nil, err
		}
		r.ByMinute = minute

		if _, ok := fields["INTERVAL"]; ok {
			return nil, fmt.Errorf("INTERVAL is not valid with FREQ=WEEKLY")
		}
	default:
		return nil, fmt.Errorf("unsupported FREQ %q (only HOURLY and WEEKLY are allowed)", freq)
	}

	cronExp, err := r.toCronExpr()
	if err != nil {
		return nil, err
	}
	sched, err := standardParser.Parse(cronExp)
	if err != nil {
		return nil, fmt.Errorf("rrule %q translated to invalid cron expression %q: %w", raw, cronExp, err)
	}
	r.cronExp = cronExp
	r.sched = sched
	return r, nil
}

// NextAfter returns the next slot strictly after `after`, using cron.v3's
// field parser as the execution substrate beneath the restricted grammar.
func (r *RRule) NextAfter(after time.Time) time.Time {
	return r.sched.Next(after)
}

// String returns the original RRULE text.
func (r *RRule) String() string {
	return r.raw
}

func (r *RRule) toCronExpr() (string, error) {
	dow := "*"
	if len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			names[i] = cronDowNames[d]
		}
		dow = strings.Join(names, ",")
	}

	switch r.Freq {
	case FreqHourly:
		if r.Interval <= 0 {
			return "", fmt.Errorf("hourly rrule requires a positive INTERVAL")
		}
		return fmt.Sprintf("0 */%d * * %s", r.Interval, dow), nil
	case FreqWeekly:
		return fmt.Sprintf("%d %d * * %s", r.ByMinute, r.ByHour, dow), nil
	default:
		return "", fmt.Errorf("unsupported freq %q", r.Freq)
	}
}

func splitFields(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("rrule is empty")
	}
	fields := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed rrule segment %q", part)
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate rrule field %q", key)
		}
		fields[key] = strings.TrimSpace(kv[1])
	}
	return fields, nil
}

func parseInterval(fields map[string]string) (int, error) {
	raw, ok := fields["INTERVAL"]
	if !ok {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("INTERVAL must be a positive integer, got %q", raw)
	}
	return n, nil
}

func parseByDay(raw string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		wd, ok := weekdayAliases[tok]
		if !ok {
			return nil, fmt.Errorf("unrecognized BYDAY value %q", tok)
		}
		days = append(days, wd)
	}
	return days, nil
}

func requireIntField(fields map[string]string, name string, min, max int) (int, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("missing required field %s", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%s must be an integer between %d and %d, got %q", name, min, max, raw)
	}
	return n, nil
}
