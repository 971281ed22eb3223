package model

// RawEvent is a single event as returned by the Eventbrite search API
// (with expand=venue). Every nested value is a pointer so that absent or
// null keys stay distinguishable from empty strings.
type RawEvent struct {
	ID     *string   `json:"id"`
	Name   *Text     `json:"name"`
	URL    *string   `json:"url"`
	Start  *DateTime `json:"start"`
	End    *DateTime `json:"end"`
	IsFree *bool     `json:"is_free"`
	Status *string   `json:"status"`
	Venue  *Venue    `json:"venue"`
}

// Text is Eventbrite's multipart text value.
type Text struct {
	Text *string `json:"text"`
	HTML *string `json:"html"`
}

// DateTime carries the same instant as a local wall-clock string, a UTC
// string and the IANA timezone of the event.
type DateTime struct {
	Timezone *string `json:"timezone"`
	Local    *string `json:"local"`
	UTC      *string `json:"utc"`
}

type Venue struct {
	Name    *string  `json:"name"`
	Address *Address `json:"address"`
}

type Address struct {
	Address1                *string `json:"address_1"`
	Address2                *string `json:"address_2"`
	City                    *string `json:"city"`
	Region                  *string `json:"region"`
	PostalCode              *string `json:"postal_code"`
	Country                 *string `json:"country"`
	LocalizedAddressDisplay *string `json:"localized_address_display"`
}

// Event is the flat, normalized record written to the output file.
// A nil field means "no value" and is encoded as JSON null.
type Event struct {
	ID        *string `json:"id"`
	Name      *string `json:"name"`
	URL       *string `json:"url"`
	Start     *string `json:"start"` // local wall-clock ISO-8601, as sent by the API
	End       *string `json:"end"`
	IsFree    *bool   `json:"is_free"`
	Status    *string `json:"status"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	VenueName *string `json:"venue_name"`
	Address   *string `json:"address"`
}

// Deref returns *s, or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
