package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDueHour is the local hour assigned when a due date arrives without
// a time component.
const DefaultDueHour = 18

// reminderLead is how far before the due instant a reminder fires when the
// due date is still far enough away.
const reminderLead = time.Hour

var dueLayouts = []struct {
	layout  string
	hasTime bool
}{
	{"2006-01-02 15:04", true},
	{"2006-01-02", false},
	{"02.01.2006 15:04", true},
	{"02.01.2006", false},
}

var noDueWords = map[string]struct{}{
	"":     {},
	"-":    {},
	"none": {},
	"skip": {},
}

// NextReminderAt derives the reminder instant for a task. No due date means
// no reminder. The preferred instant is one hour before due; when that is
// already in the past the due instant itself is used, so late-created tasks
// still get exactly one reminder instead of none.
func NextReminderAt(due *time.Time, now time.Time) *time.Time {
	if due == nil {
		return nil
	}

	preferred := due.Add(-reminderLead)
	if preferred.After(now) {
		r := preferred.UTC()
		return &r
	}
	r := due.UTC()
	return &r
}

// ParseDueInput turns user text into a due instant in UTC. Recognized forms:
// "-"/"none"/"skip"/empty clears the due date, "+Nd" and "+Nh" are relative
// to now, otherwise one of the date layouts above, interpreted in loc.
// Bare dates land on DefaultDueHour local time.
func ParseDueInput(raw string, loc *time.Location, now time.Time) (*time.Time, error) {
	text := strings.TrimSpace(strings.ToLower(raw))
	if _, ok := noDueWords[text]; ok {
		return nil, nil
	}

	if strings.HasPrefix(text, "+") && len(text) > 2 {
		unit := text[len(text)-1]
		n, err := strconv.Atoi(text[1 : len(text)-1])
		if err == nil && n > 0 {
			switch unit {
			case 'd':
				due := now.AddDate(0, 0, n).UTC()
				return &due, nil
			case 'h':
				due := now.Add(time.Duration(n) * time.Hour).UTC()
				return &due, nil
			}
		}
	}

	text = strings.TrimSpace(raw)
	for _, candidate := range dueLayouts {
		parsed, err := time.ParseInLocation(candidate.layout, text, loc)
		if err != nil {
			continue
		}
		if !candidate.hasTime {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
				DefaultDueHour, 0, 0, 0, loc)
		}
		due := parsed.UTC()
		return &due, nil
	}

	return nil, fmt.Errorf("unrecognized due date %q", raw)
}

// DueAtHour places a due instant daysAhead local days from now at the given
// local hour, returned in UTC. Used by the quick-pick due presets.
func DueAtHour(now time.Time, loc *time.Location, daysAhead, hour int) time.Time {
	local := now.In(loc)
	due := time.Date(local.Year(), local.Month(), local.Day(),
		hour, 0, 0, 0, loc)
	return due.AddDate(0, 0, daysAhead).UTC()
}

// LocalDayBounds returns the UTC instants of the local midnight containing
// now and the midnight after it. Digest "today" and "overdue" buckets are
// cut at these bounds. The end bound is the next calendar midnight, so DST
// days keep their 23 or 25 wall-clock hours.
func LocalDayBounds(now time.Time, loc *time.Location) (start, end time.Time) {
	local := now.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
	end = time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc).UTC()
	return start, end
}

// FormatInZone renders an instant the way messages show dates to users.
func FormatInZone(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("02.01.2006 15:04")
}

// FormatLocalDate renders the local calendar date, the unit digests
// deduplicate on.
func FormatLocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
