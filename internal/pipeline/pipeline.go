package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"eventscrape/internal/config"
	"eventscrape/internal/dedup"
	"eventscrape/internal/eventbrite"
	appLog "eventscrape/internal/log"
	"eventscrape/internal/metrics"
	"eventscrape/internal/output"
	"eventscrape/internal/window"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitMissingToken = 2
)

// ErrMissingToken is reported when no credential is configured.
var ErrMissingToken = errors.New("EVENTBRITE_TOKEN is not set")

// Deps are the collaborators a run needs. Zero values select production
// defaults.
type Deps struct {
	HTTPClient *http.Client
	Now        func() time.Time
	Sleep      eventbrite.SleepFunc
	Metrics    *metrics.Run
	Log        appLog.Logger
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Run fetches, normalizes, filters and de-duplicates events for cfg and
// returns the success payload. It does not touch the output file.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (output.Payload, error) {
	if cfg == nil {
		return output.Payload{}, errors.New("config is nil")
	}
	if cfg.Token == "" {
		return output.Payload{}, ErrMissingToken
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewRun()
	}
	logger := deps.Log

	opts := []eventbrite.Option{
		eventbrite.WithHTTPClient(deps.HTTPClient),
		eventbrite.WithUserAgent(cfg.UserAgent),
		eventbrite.WithPageDelay(time.Duration(cfg.PageDelaySec * float64(time.Second))),
		eventbrite.WithMaxPages(cfg.MaxPages),
		eventbrite.WithSleep(deps.Sleep),
		eventbrite.WithObserver(m),
		eventbrite.WithLogger(logger),
	}
	if cfg.FilterStrategy == config.FilterServer {
		opts = append(opts, eventbrite.WithWindow(window.New(deps.now(), cfg.Days)))
	}
	searcher := eventbrite.NewSearcher(cfg.APIBase, cfg.Token, opts...)

	logger.Debug("starting search", "regions", cfg.Regions, "query", cfg.Query, "filter", cfg.FilterStrategy)
	raw, warnings := searcher.SearchAll(ctx, cfg.Query, cfg.Regions, cfg.Within)
	m.ObserveWarnings(warnings)
	if err := ctx.Err(); err != nil {
		return output.Payload{}, fmt.Errorf("run canceled: %w", err)
	}

	events := eventbrite.NormalizeAll(raw)
	m.SetStage("normalized", len(events))

	if cfg.FilterStrategy == config.FilterClient {
		events = window.FilterUpcoming(events, window.New(deps.now(), cfg.Days))
		m.SetStage("filtered", len(events))
	}

	events = dedup.Dedupe(events)
	if cfg.SortByStart {
		events = dedup.SortByStart(events)
	}
	m.SetStage("written", len(events))

	logger.Info("events processed",
		"raw", len(raw),
		"written", len(events),
		"warnings", len(warnings),
	)

	return output.NewPayload(cfg.Query, cfg.Regions, cfg.Within, events, warnings), nil
}

// Startup loads the configuration from configPath and the environment. A
// missing credential is reported ahead of any configuration problem. On
// failure the error payload is written and the returned Config is nil.
func Startup(configPath string, deps Deps) (*config.Config, int) {
	boot := config.Bootstrap()
	w := output.Writer{Path: boot.OutFile, Format: boot.OutFormat, Shape: boot.OutShape, Now: deps.Now}

	if boot.Token == "" {
		deps.Log.Error("missing credential", ErrMissingToken)
		writeError(w, deps.Log, ErrMissingToken)
		return nil, ExitMissingToken
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		deps.Log.Error("failed to load config", err, "config_path", configPath)
		writeError(w, deps.Log, err)
		return nil, ExitFailure
	}
	return cfg, ExitOK
}

// Execute performs one complete run: precondition check, Run, persistence.
// It always leaves either a success or an error payload at cfg.OutFile and
// returns the process exit code.
func Execute(ctx context.Context, cfg *config.Config, deps Deps) (code int) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	w := output.Writer{Path: cfg.OutFile, Format: cfg.OutFormat, Shape: cfg.OutShape, Now: deps.Now}

	deps.Log = deps.Log.With("run_id", uuid.NewString())
	logger := deps.Log

	if cfg.Token == "" {
		logger.Error("missing credential", ErrMissingToken)
		writeError(w, logger, ErrMissingToken)
		return ExitMissingToken
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRun()
	}
	started := deps.now()
	defer func() {
		deps.Metrics.Finish(started, deps.now(), code == ExitOK)
		if cfg.MetricsFile == "" {
			return
		}
		if err := deps.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics", err, "path", cfg.MetricsFile)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error("run panicked", err)
			writeError(w, logger, err)
			code = ExitFailure
		}
	}()

	logger.Debug("token acquired, starting fetch")
	payload, err := Run(ctx, cfg, deps)
	if err == nil {
		logger.Debug("fetched events", "count", payload.Count)
		err = w.WriteSuccess(payload)
	}
	if err != nil {
		logger.Error("run failed", err)
		writeError(w, logger, err)
		return ExitFailure
	}

	logger.Info("snapshot written", "path", cfg.OutFile, "count", payload.Count, "warnings", len(payload.Warnings))
	return ExitOK
}

func writeError(w output.Writer, logger appLog.Logger, err error) {
	if werr := w.WriteError(err.Error()); werr != nil {
		logger.Error("failed to write error payload", werr, "path", w.Path)
	}
}
