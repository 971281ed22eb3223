package eventbrite

import (
	"strings"

	"eventscrape/internal/model"
)

// Normalize flattens a RawEvent. Missing nested objects or fields yield nil
// output fields; it never fails.
func Normalize(e model.RawEvent) model.Event {
	var venue model.Venue
	if e.Venue != nil {
		venue = *e.Venue
	}
	var addr model.Address
	if venue.Address != nil {
		addr = *venue.Address
	}

	out := model.Event{
		ID:        e.ID,
		URL:       e.URL,
		IsFree:    e.IsFree,
		Status:    e.Status,
		City:      addr.City,
		State:     addr.Region,
		VenueName: venue.Name,
		Address:   composeAddress(addr),
	}
	if e.Name != nil {
		out.Name = e.Name.Text
	}
	if e.Start != nil {
		out.Start = e.Start.Local
	}
	if e.End != nil {
		out.End = e.End.Local
	}
	return out
}

// NormalizeAll normalizes events in order.
func NormalizeAll(events []model.RawEvent) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		out = append(out, Normalize(e))
	}
	return out
}

// composeAddress joins street, city, region and postal code (in that order,
// skipping blanks) with ", ". Without any of them it falls back to the
// API's localized display string, and to nil after that.
func composeAddress(a model.Address) *string {
	parts := make([]string, 0, 4)
	for _, p := range []*string{a.Address1, a.City, a.Region, a.PostalCode} {
		if p == nil {
			continue
		}
		if s := strings.TrimSpace(*p); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		joined := strings.Join(parts, ", ")
		return &joined
	}
	if a.LocalizedAddressDisplay != nil && strings.TrimSpace(*a.LocalizedAddressDisplay) != "" {
		return a.LocalizedAddressDisplay
	}
	return nil
}
