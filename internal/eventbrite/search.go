package eventbrite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	appLog "eventscrape/internal/log"
	"eventscrape/internal/model"
	"eventscrape/internal/window"
)

const (
	searchPath = "/events/search/"

	// DefaultTimeout applies to every HTTP call.
	DefaultTimeout = 30 * time.Second
	// DefaultPageDelay is the pause between two page requests of one region.
	DefaultPageDelay = 500 * time.Millisecond

	// rangeLayout is the format the API expects for start_date.range_*.
	rangeLayout = "2006-01-02T15:04:05Z"

	warnBodyLimit = 256
)

// Warning kinds. A warning string is "<kind>:<region>:<detail>".
const (
	WarnRequest   = "request_error"
	WarnNotFound  = "404"
	WarnDecode    = "decode_error"
	WarnPageLimit = "page_limit"
)

// Pagination is the paging block of a search response.
type Pagination struct {
	ObjectCount  int  `json:"object_count"`
	PageNumber   int  `json:"page_number"`
	PageSize     int  `json:"page_size"`
	PageCount    int  `json:"page_count"`
	HasMoreItems bool `json:"has_more_items"`
}

// Events are decoded one at a time by decodeEvents.
type searchResponse struct {
	Events     []json.RawMessage `json:"events"`
	Pagination *Pagination       `json:"pagination"`
}

// PageObserver is notified after every successfully decoded page.
type PageObserver interface {
	ObservePage(region string, page, events int)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Searcher pages through the event search endpoint one region at a time.
// A single http.Client is reused for every request.
type Searcher struct {
	client    *http.Client
	baseURL   string
	token     string
	userAgent string
	pageDelay time.Duration
	maxPages  int
	window    *window.Window
	sleep     SleepFunc
	observer  PageObserver
	log       appLog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Searcher) {
		if c != nil {
			s.client = c
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(s *Searcher) { s.userAgent = ua }
}

// WithPageDelay sets the pause between pages. Zero disables it.
func WithPageDelay(d time.Duration) Option {
	return func(s *Searcher) { s.pageDelay = d }
}

// WithMaxPages caps the number of pages fetched per region. 0 means no cap.
func WithMaxPages(n int) Option {
	return func(s *Searcher) { s.maxPages = n }
}

// WithWindow asks the API to restrict results to events starting in w.
func WithWindow(w window.Window) Option {
	return func(s *Searcher) { s.window = &w }
}

func WithSleep(fn SleepFunc) Option {
	return func(s *Searcher) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

func WithObserver(o PageObserver) Option {
	return func(s *Searcher) { s.observer = o }
}

func WithLogger(l appLog.Logger) Option {
	return func(s *Searcher) { s.log = l }
}

// NewHTTPClient returns a client with the given overall timeout and a
// keep-alive transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// NewSearcher creates a Searcher for the API rooted at baseURL
// (e.g. "https://www.eventbriteapi.com/v3") authenticating with token.
func NewSearcher(baseURL, token string, opts ...Option) *Searcher {
	s := &Searcher{
		client:    NewHTTPClient(DefaultTimeout),
		baseURL:   baseURL,
		token:     token,
		pageDelay: DefaultPageDelay,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchAll searches every region in order and concatenates their results
// and warnings. A failing region never affects the others.
func (s *Searcher) SearchAll(ctx context.Context, query string, regions []string, within string) ([]model.RawEvent, []string) {
	results := make([]model.RawEvent, 0)
	warnings := make([]string, 0)

	for _, region := range regions {
		events, warns := s.SearchRegion(ctx, query, region, within)
		results = append(results, events...)
		warnings = append(warnings, warns...)
	}
	return results, warnings
}

// SearchRegion fetches all pages for one region. It stops when the API
// reports no more items, on the first failed page, or at the page cap, and
// returns everything collected up to that point.
func (s *Searcher) SearchRegion(ctx context.Context, query, region, within string) ([]model.RawEvent, []string) {
	results := make([]model.RawEvent, 0)
	warnings := make([]string, 0)

	params := url.Values{}
	params.Set("q", query)
	params.Set("location.address", region)
	params.Set("location.within", within)
	params.Set("expand", "venue")
	params.Set("sort_by", "date")
	if s.window != nil {
		params.Set("start_date.range_start", s.window.Start.UTC().Format(rangeLayout))
		params.Set("start_date.range_end", s.window.End.UTC().Format(rangeLayout))
	}

	page := 1
	fetched := 0
	for {
		params.Set("page", strconv.Itoa(page))

		resp, warn := s.fetchPage(ctx, region, params)
		if warn != "" {
			s.log.Warn("eventbrite page failed", "region", region, "page", page, "warning", warn)
			warnings = append(warnings, warn)
			break
		}
		fetched++
		events, skipped := s.decodeEvents(region, page, resp.Events)
		results = append(results, events...)
		warnings = append(warnings, skipped...)
		s.log.Debug("eventbrite page fetched", "region", region, "page", page, "events", len(events))
		if s.observer != nil {
			s.observer.ObservePage(region, page, len(events))
		}

		if resp.Pagination == nil || !resp.Pagination.HasMoreItems {
			break
		}
		if s.maxPages > 0 && fetched >= s.maxPages {
			warn := warning(WarnPageLimit, region, strconv.Itoa(s.maxPages))
			s.log.Warn("eventbrite page cap reached", "region", region, "max_pages", s.maxPages)
			warnings = append(warnings, warn)
			break
		}
		page = nextPage(page, resp.Pagination)

		if err := s.sleep(ctx, s.pageDelay); err != nil {
			warnings = append(warnings, warning(WarnRequest, region, err.Error()))
			break
		}
	}

	s.log.Info("eventbrite region done", "region", region, "pages", fetched, "events", len(results), "warnings", len(warnings))
	return results, warnings
}

// fetchPage performs one GET. A non-empty string return is the warning that
// ends pagination for the region.
func (s *Searcher) fetchPage(ctx context.Context, region string, params url.Values) (searchResponse, string) {
	var out searchResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+searchPath+"?"+params.Encode(), nil)
	if err != nil {
		return out, warning(WarnRequest, region, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return out, warning(WarnRequest, region, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, warning(WarnRequest, region, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return out, warning(WarnNotFound, region, truncate(string(body), warnBodyLimit))
	case resp.StatusCode != http.StatusOK:
		return out, warning(fmt.Sprintf("http_%d", resp.StatusCode), region, truncate(string(body), warnBodyLimit))
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return searchResponse{}, warning(WarnDecode, region, err.Error())
	}
	return out, ""
}

// decodeEvents decodes each event of a page on its own. Events that do not
// fit model.RawEvent are skipped with a decode_error warning.
func (s *Searcher) decodeEvents(region string, page int, raw []json.RawMessage) ([]model.RawEvent, []string) {
	events := make([]model.RawEvent, 0, len(raw))
	var warnings []string
	for i, msg := range raw {
		var ev model.RawEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			s.log.Warn("skipping undecodable event", "region", region, "page", page, "index", i, "err", err.Error())
			warnings = append(warnings, warning(WarnDecode, region, fmt.Sprintf("page %d event %d: %v", page, i, err)))
			continue
		}
		events = append(events, ev)
	}
	return events, warnings
}

// nextPage prefers the page number reported by the server, but never moves
// backwards or stays on the same page.
func nextPage(current int, p *Pagination) int {
	if p != nil && p.PageNumber >= current {
		return p.PageNumber + 1
	}
	return current + 1
}

func warning(kind, region, detail string) string {
	return kind + ":" + region + ":" + detail
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
