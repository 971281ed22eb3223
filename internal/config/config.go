package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Filter strategies. Exactly one is used per run.
const (
	// FilterClient drops out-of-window events after normalization.
	FilterClient = "client"
	// FilterServer sends the window to the API as a start-date range.
	FilterServer = "server"
)

// Output formats and shapes.
const (
	FormatJSON = "json"
	FormatICS  = "ics"

	ShapePayload = "payload"
	ShapeArray   = "array"
)

const (
	DefaultQuery        = "veteran OR veterans OR military OR service member"
	DefaultWithin       = "500mi"
	DefaultDays         = 60
	DefaultPageDelaySec = 0.5
	DefaultMaxPages     = 100
	DefaultAPIBase      = "https://www.eventbriteapi.com/v3"
	DefaultUserAgent    = "mt-wy-veteran-scraper/1.0"
	DefaultOutFile      = "events.json"
)

// DefaultRegions are searched when no regions are configured.
var DefaultRegions = []string{"Montana", "Wyoming"}

// Config is the top-level application configuration.
//
// Values come from DefaultConfig, then an optional YAML file, then the
// environment; later sources win.
type Config struct {
	// Token is the Eventbrite bearer credential. It is never read from or
	// written to the YAML file.
	Token string `yaml:"-" envconfig:"EVENTBRITE_TOKEN"`

	Query   string   `yaml:"query" envconfig:"EVENTBRITE_QUERY"`
	Regions []string `yaml:"regions" envconfig:"EVENTBRITE_REGIONS"`
	// Within is the search radius passed through to the API (e.g. "500mi").
	Within string `yaml:"within" envconfig:"EVENTBRITE_WITHIN"`

	// Days is the lookahead window.
	Days int `yaml:"days" envconfig:"EVENTBRITE_DAYS"`

	PageDelaySec float64 `yaml:"page_delay_sec" envconfig:"EVENTBRITE_PAGE_DELAY_SEC"`
	// MaxPages caps pagination per region; 0 disables the cap.
	MaxPages int    `yaml:"max_pages" envconfig:"EVENTBRITE_MAX_PAGES"`
	APIBase  string `yaml:"api_base" envconfig:"EVENTBRITE_API_BASE"`

	UserAgent string `yaml:"user_agent" envconfig:"VNN_USER_AGENT"`

	// FilterStrategy is FilterClient or FilterServer.
	FilterStrategy string `yaml:"filter" envconfig:"EVENTBRITE_FILTER"`
	SortByStart    bool   `yaml:"sort_by_start" envconfig:"EVENTBRITE_SORT"`

	// Schedule is a standard 5-field cron spec. Empty means run once and exit.
	Schedule string `yaml:"schedule" envconfig:"EVENTBRITE_SCHEDULE"`

	OutFile   string `yaml:"out_file" envconfig:"EVENTS_OUT_FILE"`
	OutFormat string `yaml:"out_format" envconfig:"EVENTS_OUT_FORMAT"`
	OutShape  string `yaml:"out_shape" envconfig:"EVENTS_OUT_SHAPE"`

	// MetricsFile, if set, receives a Prometheus textfile after every run.
	MetricsFile string `yaml:"metrics_file" envconfig:"EVENTS_METRICS_FILE"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Query:          DefaultQuery,
		Regions:        append([]string(nil), DefaultRegions...),
		Within:         DefaultWithin,
		Days:           DefaultDays,
		PageDelaySec:   DefaultPageDelaySec,
		MaxPages:       DefaultMaxPages,
		APIBase:        DefaultAPIBase,
		UserAgent:      DefaultUserAgent,
		FilterStrategy: FilterClient,
		OutFile:        DefaultOutFile,
		OutFormat:      FormatJSON,
		OutShape:       ShapePayload,
		LogLevel:       "info",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	c.Query = strings.TrimSpace(c.Query)
	if c.Query == "" {
		c.Query = DefaultQuery
	}

	regions := make([]string, 0, len(c.Regions))
	for _, r := range c.Regions {
		if r = strings.TrimSpace(r); r != "" {
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 {
		regions = append(regions, DefaultRegions...)
	}
	c.Regions = regions

	if c.Within == "" {
		c.Within = DefaultWithin
	}
	if c.Days <= 0 {
		c.Days = DefaultDays
	}
	if c.PageDelaySec < 0 {
		c.PageDelaySec = DefaultPageDelaySec
	}
	if c.MaxPages < 0 {
		c.MaxPages = DefaultMaxPages
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	c.FilterStrategy = strings.ToLower(strings.TrimSpace(c.FilterStrategy))
	if c.FilterStrategy == "" {
		c.FilterStrategy = FilterClient
	}
	c.OutFormat = strings.ToLower(strings.TrimSpace(c.OutFormat))
	if c.OutFormat == "" {
		c.OutFormat = FormatJSON
	}
	c.OutShape = strings.ToLower(strings.TrimSpace(c.OutShape))
	if c.OutShape == "" {
		c.OutShape = ShapePayload
	}
	if c.OutFile == "" {
		c.OutFile = DefaultOutFile
	}
	c.Schedule = strings.TrimSpace(c.Schedule)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports values that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.FilterStrategy {
	case FilterClient, FilterServer:
	default:
		errs = append(errs, fmt.Errorf("unknown filter strategy %q", c.FilterStrategy))
	}
	switch c.OutFormat {
	case FormatJSON, FormatICS:
	default:
		errs = append(errs, fmt.Errorf("unknown output format %q", c.OutFormat))
	}
	switch c.OutShape {
	case ShapePayload, ShapeArray:
	default:
		errs = append(errs, fmt.Errorf("unknown output shape %q", c.OutShape))
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err))
		}
	}
	return errors.Join(errs...)
}

// Load builds the effective configuration.
//
// Behavior:
//   - start from DefaultConfig
//   - if path is non-empty, read YAML from it and overlay it
//   - overlay environment variables (see struct tags)
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bootstrap returns defaults overlaid with only the credential and output
// settings from the environment. It never fails, so problems found by Load
// can still be reported at the configured output path and shape.
func Bootstrap() *Config {
	cfg := DefaultConfig()
	cfg.Token = os.Getenv("EVENTBRITE_TOKEN")
	cfg.OutFile = os.Getenv("EVENTS_OUT_FILE")
	cfg.OutFormat = os.Getenv("EVENTS_OUT_FORMAT")
	cfg.OutShape = os.Getenv("EVENTS_OUT_SHAPE")
	cfg.Normalize()
	if cfg.OutFormat != FormatICS {
		cfg.OutFormat = FormatJSON
	}
	if cfg.OutShape != ShapeArray {
		cfg.OutShape = ShapePayload
	}
	return cfg
}

// ApplyEnv overlays environment variables onto cfg. Unset variables leave
// the existing value untouched.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}
