package output

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"eventscrape/internal/model"
	"eventscrape/internal/window"
)

const (
	icsProductID = "-//eventscrape//Eventbrite snapshot//EN"
	// Start/end are wall-clock strings, so they are written as floating
	// (zone-less) DATE-TIME values.
	icsFloatingLayout = "20060102T150405"
)

// EncodeICS renders events as an iCalendar feed, one VEVENT per event.
// Events whose start cannot be parsed are still listed, without DTSTART.
func EncodeICS(events []model.Event, now time.Time) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)
	cal.SetXWRCalName("Eventbrite events")

	for _, e := range events {
		ve := cal.AddEvent(eventUID(e))
		ve.SetDtStampTime(now.UTC())

		if e.Name != nil {
			ve.SetSummary(*e.Name)
		}
		if e.Start != nil {
			if t, ok := window.ParseStart(*e.Start); ok {
				ve.SetProperty(ical.ComponentPropertyDtStart, t.Format(icsFloatingLayout))
			}
		}
		if e.End != nil {
			if t, ok := window.ParseStart(*e.End); ok {
				ve.SetProperty(ical.ComponentPropertyDtEnd, t.Format(icsFloatingLayout))
			}
		}
		if e.URL != nil && *e.URL != "" {
			ve.SetURL(*e.URL)
		}
		if loc := location(e); loc != "" {
			ve.SetLocation(loc)
		}
		if e.Status != nil && *e.Status != "" {
			ve.SetDescription("status: " + *e.Status)
		}
	}

	return []byte(cal.Serialize()), nil
}

// eventUID uses the API id when present, otherwise a hash of name and start.
func eventUID(e model.Event) string {
	if e.ID != nil && *e.ID != "" {
		return *e.ID + "@eventbrite.com"
	}
	sum := sha256.Sum256([]byte(model.Deref(e.Name) + "\x00" + model.Deref(e.Start)))
	return hex.EncodeToString(sum[:8]) + "@eventscrape"
}

func location(e model.Event) string {
	parts := make([]string, 0, 2)
	if e.VenueName != nil && *e.VenueName != "" {
		parts = append(parts, *e.VenueName)
	}
	if e.Address != nil && *e.Address != "" {
		parts = append(parts, *e.Address)
	}
	return strings.Join(parts, ", ")
}
