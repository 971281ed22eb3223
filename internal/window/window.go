package window

import (
	"strings"
	"time"

	"eventscrape/internal/model"
)

// Window is an inclusive [Start, End] time range in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// New returns the lookahead window [now, now+days] in UTC.
func New(now time.Time, days int) Window {
	now = now.UTC()
	return Window{
		Start: now,
		End:   now.Add(time.Duration(days) * 24 * time.Hour),
	}
}

// Contains reports whether t lies in the window, both bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Layouts accepted by ParseStart, tried in order. Values without a zone are
// read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseStart parses an ISO-8601 timestamp as sent in event start/end fields.
func ParseStart(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FilterUpcoming keeps the events whose start parses and falls inside w.
// Events without a usable start are dropped silently. Input order is kept.
func FilterUpcoming(events []model.Event, w Window) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Start == nil {
			continue
		}
		t, ok := ParseStart(*ev.Start)
		if !ok {
			continue
		}
		if w.Contains(t) {
			out = append(out, ev)
		}
	}
	return out
}
