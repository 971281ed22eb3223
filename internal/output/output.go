package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"eventscrape/internal/model"
)

// SourceName is the value of Payload.Source.
const SourceName = "eventbrite"

// Payload is the success shape of the output file.
type Payload struct {
	Generated bool          `json:"generated"`
	Source    string        `json:"source"`
	Query     string        `json:"query"`
	Regions   []string      `json:"regions"`
	Within    string        `json:"within"`
	Count     int           `json:"count"`
	Events    []model.Event `json:"events"`
	Warnings  []string      `json:"warnings"`
}

// NewPayload builds a success payload. Nil slices are replaced by empty
// ones so they encode as [] rather than null.
func NewPayload(query string, regions []string, within string, events []model.Event, warnings []string) Payload {
	if regions == nil {
		regions = []string{}
	}
	if events == nil {
		events = []model.Event{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	return Payload{
		Generated: true,
		Source:    SourceName,
		Query:     query,
		Regions:   regions,
		Within:    within,
		Count:     len(events),
		Events:    events,
		Warnings:  warnings,
	}
}

// ErrorPayload is written instead of Payload when a run fails.
type ErrorPayload struct {
	Generated bool   `json:"generated"`
	Error     string `json:"error"`
}

// Writer persists run results to a single file.
type Writer struct {
	Path string
	// Format is "json" or "ics".
	Format string
	// Shape is "payload" or "array"; only meaningful for JSON.
	Shape string
	// Now stamps ICS output. Defaults to time.Now.
	Now func() time.Time
}

// WriteSuccess writes p in the configured format and shape.
func (w Writer) WriteSuccess(p Payload) error {
	var (
		data []byte
		err  error
	)
	switch w.Format {
	case "", "json":
		if w.Shape == "array" {
			events := p.Events
			if events == nil {
				events = []model.Event{}
			}
			data, err = EncodeJSON(events)
		} else {
			data, err = EncodeJSON(p)
		}
	case "ics":
		now := time.Now
		if w.Now != nil {
			now = w.Now
		}
		data, err = EncodeICS(p.Events, now())
	default:
		return fmt.Errorf("unknown output format %q", w.Format)
	}
	if err != nil {
		return err
	}
	return WriteFile(w.Path, data)
}

// WriteError writes the error shape. It is always JSON: an ErrorPayload, or
// an empty array for the array shape.
func (w Writer) WriteError(msg string) error {
	var v any = ErrorPayload{Generated: false, Error: msg}
	if w.Shape == "array" {
		v = []model.Event{}
	}
	data, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return WriteFile(w.Path, data)
}

// EncodeJSON renders v as 2-space indented JSON with a trailing newline.
// HTML characters and non-ASCII text are written as-is.
func EncodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile replaces path with data atomically.
//
// Implementation details:
//   - Ensures parent directory exists.
//   - Writes to a temp file in the same directory.
//   - fsyncs, sets 0644 and renames over path.
func WriteFile(path string, data []byte) error {
	if path == "" {
		return errors.New("output path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventscrape-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
