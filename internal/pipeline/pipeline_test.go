package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"eventscrape/internal/config"
	"eventscrape/internal/metrics"
	"eventscrape/internal/output"
)

var testNow = time.Date(2025, 2, 20, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func noSleep(context.Context, time.Duration) error { return nil }

type apiEvent struct {
	Name  string
	Start string
}

// fakeAPI serves one page per region from byRegion and counts requests.
func fakeAPI(t *testing.T, byRegion map[string][]apiEvent) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		region := r.URL.Query().Get("location.address")
		evs, ok := byRegion[region]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("unknown region"))
			return
		}
		events := make([]map[string]any, 0, len(evs))
		for i, e := range evs {
			events = append(events, map[string]any{
				"id":    region + "-" + strconv.Itoa(i),
				"name":  map[string]any{"text": e.Name},
				"start": map[string]any{"local": e.Start},
				"venue": map[string]any{"name": "Hall", "address": map[string]any{"city": "Town", "region": region}},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"events":     events,
			"pagination": map[string]any{"page_number": 1, "has_more_items": false},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(t *testing.T, apiBase string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Token = "tok"
	cfg.APIBase = apiBase
	cfg.PageDelaySec = 0
	cfg.OutFile = filepath.Join(t.TempDir(), "events.json")
	return cfg
}

func readJSON(t *testing.T, path string, dest any) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		t.Fatalf("invalid output JSON: %v\n%s", err, b)
	}
}

func TestExecute_MissingTokenShortCircuits(t *testing.T) {
	srv, calls := fakeAPI(t, map[string][]apiEvent{})
	cfg := testConfig(t, srv.URL)
	cfg.Token = ""

	code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep})

	if code != ExitMissingToken {
		t.Fatalf("expected exit %d, got %d", ExitMissingToken, code)
	}
	var got map[string]any
	readJSON(t, cfg.OutFile, &got)
	if got["generated"] != false || got["error"] != "EVENTBRITE_TOKEN is not set" {
		t.Fatalf("unexpected payload: %v", got)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatal("expected no network calls")
	}
}

func TestExecute_DuplicateAcrossRegions(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {{"Vet Job Fair", "2025-03-01T10:00:00"}},
		"Wyoming": {{"Vet Job Fair", "2025-03-01T10:00:00"}},
	})
	cfg := testConfig(t, srv.URL)

	code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep})
	if code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var got output.Payload
	readJSON(t, cfg.OutFile, &got)
	if !got.Generated || got.Source != "eventbrite" {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.Count != 1 || len(got.Events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(got.Events))
	}
	if *got.Events[0].Name != "Vet Job Fair" || *got.Events[0].Start != "2025-03-01T10:00:00" {
		t.Fatalf("unexpected event: %+v", got.Events[0])
	}
	if *got.Events[0].ID != "Montana-0" {
		t.Fatalf("expected first region's event to win, got %s", *got.Events[0].ID)
	}
	if strings.Join(got.Regions, ",") != "Montana,Wyoming" || got.Within != "500mi" || got.Query != config.DefaultQuery {
		t.Fatalf("unexpected run info: %+v", got)
	}
	if got.Warnings == nil || len(got.Warnings) != 0 {
		t.Fatalf("expected empty warnings, got %v", got.Warnings)
	}
}

func TestExecute_WindowExcludesFarEvents(t *testing.T) {
	layout := "2006-01-02T15:04:05"
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {
			{"Far Out", testNow.AddDate(0, 0, 70).Format(layout)},
			{"Soon", testNow.AddDate(0, 0, 10).Format(layout)},
		},
		"Wyoming": {},
	})
	cfg := testConfig(t, srv.URL)
	cfg.Days = 60

	if code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep}); code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var got output.Payload
	readJSON(t, cfg.OutFile, &got)
	if len(got.Events) != 1 || *got.Events[0].Name != "Soon" {
		t.Fatalf("expected only the 10-day event, got %+v", got.Events)
	}
}

func TestExecute_RegionFailureBecomesWarning(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {{"Stand Down", "2025-03-05T09:00:00"}},
	})
	cfg := testConfig(t, srv.URL)
	cfg.Regions = []string{"Montana", "Atlantis"}

	if code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep}); code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var got output.Payload
	readJSON(t, cfg.OutFile, &got)
	if got.Count != 1 {
		t.Fatalf("expected 1 event, got %d", got.Count)
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "404:Atlantis:unknown region" {
		t.Fatalf("unexpected warnings: %v", got.Warnings)
	}
}

func TestRun_ServerStrategySkipsClientFilter(t *testing.T) {
	var rangeStart string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeStart = r.URL.Query().Get("start_date.range_start")
		// The API is trusted to have applied the window, so an event outside
		// it must come through untouched.
		w.Write([]byte(`{"events":[{"name":{"text":"Old"},"start":{"local":"2020-01-01T10:00:00"}}],"pagination":{"has_more_items":false}}`))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.Regions = []string{"Montana"}
	cfg.FilterStrategy = config.FilterServer

	p, err := Run(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rangeStart != "2025-02-20T12:00:00Z" {
		t.Fatalf("expected window in request, got %q", rangeStart)
	}
	if p.Count != 1 {
		t.Fatalf("expected server-filtered event to be kept, got %d", p.Count)
	}
}

func TestRun_SortsWhenEnabled(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {{"B", "2025-03-09T10:00:00"}},
		"Wyoming": {{"A", "2025-03-02T10:00:00"}},
	})
	cfg := testConfig(t, srv.URL)
	cfg.SortByStart = true

	p, err := Run(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Events) != 2 || *p.Events[0].Name != "A" {
		t.Fatalf("expected A first, got %+v", p.Events)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{"Montana": {}})
	cfg := testConfig(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, cfg, Deps{Now: fixedNow, Sleep: noSleep}); err == nil {
		t.Fatal("expected error for canceled run")
	}
}

func TestExecute_WriteFailureIsGenericFailure(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{"Montana": {}, "Wyoming": {}})
	cfg := testConfig(t, srv.URL)
	// A directory cannot be replaced by a file rename.
	cfg.OutFile = t.TempDir()

	if code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep}); code != ExitFailure {
		t.Fatalf("expected exit %d, got %d", ExitFailure, code)
	}
}

func TestExecute_WritesMetricsTextfile(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {{"Vet Job Fair", "2025-03-01T10:00:00"}},
		"Wyoming": {},
	})
	cfg := testConfig(t, srv.URL)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "eventscrape.prom")

	if code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep}); code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	b, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatalf("expected metrics file: %v", err)
	}
	for _, want := range []string{
		`eventscrape_pages_fetched_total{region="Montana"} 1`,
		`eventscrape_events{stage="written"} 1`,
		`eventscrape_run_success 1`,
	} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("expected %q in metrics:\n%s", want, b)
		}
	}
}

func TestExecute_ArrayShape(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{
		"Montana": {{"Vet Job Fair", "2025-03-01T10:00:00"}},
		"Wyoming": {},
	})
	cfg := testConfig(t, srv.URL)
	cfg.OutShape = config.ShapeArray

	if code := Execute(context.Background(), cfg, Deps{Now: fixedNow, Sleep: noSleep}); code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var got []map[string]any
	readJSON(t, cfg.OutFile, &got)
	if len(got) != 1 || got[0]["name"] != "Vet Job Fair" {
		t.Fatalf("unexpected array output: %v", got)
	}
}

func TestStartup_MissingTokenWinsOverBadConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.json")
	t.Setenv("EVENTBRITE_TOKEN", "")
	t.Setenv("EVENTBRITE_DAYS", "abc")
	t.Setenv("EVENTS_OUT_FILE", out)
	t.Setenv("EVENTS_OUT_SHAPE", "")

	cfg, code := Startup("", Deps{Now: fixedNow})
	if cfg != nil || code != ExitMissingToken {
		t.Fatalf("expected nil config and exit %d, got %v, %d", ExitMissingToken, cfg, code)
	}
	var got map[string]any
	readJSON(t, out, &got)
	if got["error"] != "EVENTBRITE_TOKEN is not set" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestStartup_ConfigErrorHonorsArrayShape(t *testing.T) {
	out := filepath.Join(t.TempDir(), "events.json")
	t.Setenv("EVENTBRITE_TOKEN", "tok")
	t.Setenv("EVENTBRITE_DAYS", "abc")
	t.Setenv("EVENTS_OUT_FILE", out)
	t.Setenv("EVENTS_OUT_SHAPE", "array")

	cfg, code := Startup("", Deps{Now: fixedNow})
	if cfg != nil || code != ExitFailure {
		t.Fatalf("expected nil config and exit %d, got %v, %d", ExitFailure, cfg, code)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(b)) != "[]" {
		t.Fatalf("expected empty array, got %s", b)
	}
}

func TestStartup_LoadsConfig(t *testing.T) {
	t.Setenv("EVENTBRITE_TOKEN", "tok")
	t.Setenv("EVENTBRITE_DAYS", "30")
	t.Setenv("EVENTS_OUT_FILE", filepath.Join(t.TempDir(), "events.json"))

	cfg, code := Startup("", Deps{Now: fixedNow})
	if code != ExitOK || cfg == nil {
		t.Fatalf("expected config, got exit %d", code)
	}
	if cfg.Token != "tok" || cfg.Days != 30 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestExecute_SharedMetricsKeepLastSuccess(t *testing.T) {
	srv, _ := fakeAPI(t, map[string][]apiEvent{"Montana": {}, "Wyoming": {}})
	cfg := testConfig(t, srv.URL)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "eventscrape.prom")
	deps := Deps{Now: fixedNow, Sleep: noSleep, Metrics: metrics.NewRun()}

	if code := Execute(context.Background(), cfg, deps); code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	okOut := cfg.OutFile
	cfg.OutFile = t.TempDir()
	if code := Execute(context.Background(), cfg, deps); code != ExitFailure {
		t.Fatalf("expected exit %d, got %d", ExitFailure, code)
	}
	cfg.OutFile = okOut

	b, err := os.ReadFile(cfg.MetricsFile)
	if err != nil {
		t.Fatal(err)
	}
	want := "eventscrape_last_success_timestamp_seconds " + strconv.FormatFloat(float64(testNow.Unix()), 'g', -1, 64)
	for _, s := range []string{want, "eventscrape_run_success 0"} {
		if !strings.Contains(string(b), s) {
			t.Fatalf("expected %q in metrics:\n%s", s, b)
		}
	}
}
