package dedup

import (
	"sort"

	"eventscrape/internal/model"
)

// Key identifies an event for de-duplication.
type Key struct {
	Name  string
	Start string
}

// KeyOf returns the (name, start) key of e. ok is false when either part is
// missing or empty.
func KeyOf(e model.Event) (Key, bool) {
	if e.Name == nil || e.Start == nil || *e.Name == "" || *e.Start == "" {
		return Key{}, false
	}
	return Key{Name: *e.Name, Start: *e.Start}, true
}

// Dedupe keeps the first event for every key, in input order. Events without
// a complete key are dropped.
func Dedupe(events []model.Event) []model.Event {
	seen := make(map[Key]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		k, ok := KeyOf(e)
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortByStart returns a copy of events stably sorted by start string,
// ascending. A missing start sorts as "" and therefore first.
func SortByStart(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return model.Deref(out[i].Start) < model.Deref(out[j].Start)
	})
	return out
}
