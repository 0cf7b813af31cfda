package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecInterval SpecKind = iota
	SpecTimeOfDay
	SpecCron
)

func (k SpecKind) String() string {
	switch k {
	case SpecInterval:
		return "interval"
	case SpecTimeOfDay:
		return "time_of_day"
	case SpecCron:
		return "cron"
	default:
		return fmt.Sprintf("SpecKind(%d)", int(k))
	}
}

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Interval: "every 5s", "every:1m30s", "interval:00:50", "@every 10m", "55m"
//   - Time of day: "at 17:00", "at 09:30:15 on sun", "at 17:00 on weekdays",
//     "at 08:00 on mon,wed,fri", "at 08:00 on mon-fri"
//   - Cron: "cron:*/5 * * * *", "0 */2 * * *", "@hourly"
type ParsedSpec struct {
	Kind  SpecKind
	Every time.Duration
	At    string
	Days  []time.Weekday
	Cron  string
	// Source records which syntax matched: "duration", "hhmm", "at" or "cron".
	Source string
}

// Apply configures j with the parsed schedule.
func (p ParsedSpec) Apply(j *Job) *Job {
	switch p.Kind {
	case SpecInterval:
		return j.Every(p.Every)
	case SpecTimeOfDay:
		// At keeps existing weekdays; the parsed set replaces them.
		j.At(p.At)
		if !j.frozen() {
			j.days = 0
		}
		for _, d := range p.Days {
			j.On(d)
		}
		return j
	default:
		return j.Cron(p.Cron)
	}
}

var reIntervalHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string into an interval, a time of day or a cron
// expression.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)

	// Explicit prefixes.
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
	}
	for _, prefix := range []string{"interval:", "every:", "every ", "@every "} {
		if strings.HasPrefix(low, prefix) {
			return parseIntervalSpec(s[len(prefix):])
		}
	}
	if strings.HasPrefix(low, "at ") || strings.HasPrefix(low, "at:") {
		return parseAtSpec(low[len("at "):])
	}

	// Heuristics: whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use 'every 5m', 'at 17:00 on weekdays' or cron like '*/5 * * * *')",
		raw,
	)
}

func parseIntervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	if m := reIntervalHHMM.FindStringSubmatch(v); m != nil {
		var hh int
		for i := 0; i < len(m[1]); i++ {
			hh = hh*10 + int(m[1][i]-'0')
		}
		mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}

func parseAtSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	at, days, hasDays := strings.Cut(v, " on ")
	at = strings.TrimSpace(at)
	if _, ok := parseTimeOfDay(at); !ok {
		return ParsedSpec{}, &InvalidTimeFormatError{Value: at}
	}
	ps := ParsedSpec{Kind: SpecTimeOfDay, At: at, Source: "at"}
	if hasDays {
		wd, err := ParseWeekdays(days)
		if err != nil {
			return ParsedSpec{}, err
		}
		ps.Days = wd
	}
	return ps, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekdays parses "weekdays", "weekend", "daily", a comma list ("mon,wed") or a
// range ("mon-fri", wrapping allowed: "fri-mon"). Daily yields an empty set.
func ParseWeekdays(raw string) ([]time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return nil, fmt.Errorf("weekdays required after 'on'")
	case "daily", "everyday", "every day":
		return nil, nil
	case "weekdays", "weekday":
		return []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}, nil
	case "weekend", "weekends":
		return []time.Weekday{time.Saturday, time.Sunday}, nil
	}

	var out []time.Weekday
	seen := weekdaySet(0)
	add := func(d time.Weekday) {
		if !seen.has(d) {
			seen |= 1 << uint(d)
			out = append(out, d)
		}
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if from, to, isRange := strings.Cut(part, "-"); isRange {
			a, ok1 := weekdayNames[strings.TrimSpace(from)]
			b, ok2 := weekdayNames[strings.TrimSpace(to)]
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("invalid weekday range %q", part)
			}
			for d := a; ; d = (d + 1) % 7 {
				add(d)
				if d == b {
					break
				}
			}
			continue
		}
		d, ok := weekdayNames[part]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", part)
		}
		add(d)
	}
	return out, nil
}
