package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/jsonc"
)

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Endpoints are the collection and lookup URLs.
type Endpoints struct {
	// Telemetry maps a surface name to its flush endpoint.
	Telemetry map[string]string `json:"telemetry,omitempty"`
	Identify  string            `json:"identify,omitempty"`
	// Geo is a URL template; "{ip}" is replaced by the viewer's IP.
	Geo string `json:"geo,omitempty"`
}

// Config holds all configurable viewtrack settings.
type Config struct {
	Endpoints Endpoints `json:"endpoints"`

	FlushInterval Duration `json:"flush_interval,omitempty"`
	// FlushIntervals overrides FlushInterval per surface.
	FlushIntervals  map[string]Duration `json:"flush_intervals,omitempty"`
	TickInterval    Duration            `json:"tick_interval,omitempty"`
	TickCap         Duration            `json:"tick_cap,omitempty"`
	IdentifySettle  Duration            `json:"identify_settle,omitempty"`
	MinUserIDLength int                 `json:"min_user_id_length,omitempty"`
	// AbsenceTimeout of "0s" disables stale detection.
	AbsenceTimeout       *Duration `json:"absence_timeout,omitempty"`
	SkipFlushWhileHidden *bool     `json:"skip_flush_while_hidden,omitempty"`
	RecordPausedSeeks    *bool     `json:"record_paused_seeks,omitempty"`

	SelectionSettle Duration `json:"selection_settle,omitempty"`
	TouchThrottle   Duration `json:"touch_throttle,omitempty"`
	JumpStep        float64  `json:"jump_step,omitempty"`
	HeatmapGrid     int      `json:"heatmap_grid,omitempty"`
	HeatmapMinDwell Duration `json:"heatmap_min_dwell,omitempty"`

	RequestTimeout    Duration `json:"request_timeout,omitempty"`
	FinalFlushTimeout Duration `json:"final_flush_timeout,omitempty"`
	CompressRequests  *bool    `json:"compress_requests,omitempty"`

	ListenAddr     string   `json:"listen_addr,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	JournalDir     string   `json:"journal_dir,omitempty"` // server journals sessions here when set
	ReportFormat   string   `json:"report_format,omitempty"` // "markdown" | "json"
	LogEnv         string   `json:"log_env,omitempty"`       // "production" | "development"
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	absence := Duration(10 * time.Minute)
	yes := true
	no := false
	return Config{
		Endpoints: Endpoints{
			Telemetry: map[string]string{},
			Geo:       "https://ipinfo.io/{ip}/json",
		},
		FlushInterval:        Duration(15 * time.Second),
		FlushIntervals:       map[string]Duration{},
		TickInterval:         Duration(time.Second),
		TickCap:              Duration(5 * time.Second),
		IdentifySettle:       Duration(3 * time.Second),
		MinUserIDLength:      16,
		AbsenceTimeout:       &absence,
		SkipFlushWhileHidden: &yes,
		RecordPausedSeeks:    &yes,
		SelectionSettle:      Duration(500 * time.Millisecond),
		TouchThrottle:        Duration(500 * time.Millisecond),
		JumpStep:             10,
		HeatmapGrid:          20,
		HeatmapMinDwell:      Duration(5 * time.Second),
		RequestTimeout:       Duration(10 * time.Second),
		FinalFlushTimeout:    Duration(5 * time.Second),
		CompressRequests:     &no,
		ListenAddr:           ":8080",
		AllowedOrigins:       []string{},
		ReportFormat:         "markdown",
		LogEnv:               "production",
	}
}

// GlobalPath returns ~/.config/viewtrack/config.json.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "viewtrack", "config.json"), nil
}

// ProjectFile is the project config file name, read from the working
// directory.
const ProjectFile = ".viewtrack.json"

// LoadGlobal reads ~/.config/viewtrack/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .viewtrack.json in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// LoadFile reads an explicitly named config file. Unlike the global and
// project files it must exist.
func LoadFile(path string) (*Config, error) {
	cfg, err := loadFile(path, false)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
	}
	return cfg, nil
}

// loadFile reads and parses a JSONC config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge layers configs over the defaults, later layers taking precedence.
// Nil layers are skipped. Missing keys fall back to earlier layers, then
// defaults.
func Merge(layers ...*Config) Config {
	result := Defaults()
	for _, layer := range layers {
		if layer != nil {
			result.apply(layer)
		}
	}
	return result
}

// apply copies every set field of o over c.
func (c *Config) apply(o *Config) {
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *Duration, v Duration) {
		if v > 0 {
			*dst = v
		}
	}

	for surface, url := range o.Endpoints.Telemetry {
		if c.Endpoints.Telemetry == nil {
			c.Endpoints.Telemetry = map[string]string{}
		}
		c.Endpoints.Telemetry[surface] = url
	}
	setString(&c.Endpoints.Identify, o.Endpoints.Identify)
	setString(&c.Endpoints.Geo, o.Endpoints.Geo)

	setDuration(&c.FlushInterval, o.FlushInterval)
	for surface, d := range o.FlushIntervals {
		if c.FlushIntervals == nil {
			c.FlushIntervals = map[string]Duration{}
		}
		c.FlushIntervals[surface] = d
	}
	setDuration(&c.TickInterval, o.TickInterval)
	setDuration(&c.TickCap, o.TickCap)
	setDuration(&c.IdentifySettle, o.IdentifySettle)
	if o.MinUserIDLength > 0 {
		c.MinUserIDLength = o.MinUserIDLength
	}
	if o.AbsenceTimeout != nil {
		v := *o.AbsenceTimeout
		c.AbsenceTimeout = &v
	}
	if o.SkipFlushWhileHidden != nil {
		v := *o.SkipFlushWhileHidden
		c.SkipFlushWhileHidden = &v
	}
	if o.RecordPausedSeeks != nil {
		v := *o.RecordPausedSeeks
		c.RecordPausedSeeks = &v
	}

	setDuration(&c.SelectionSettle, o.SelectionSettle)
	setDuration(&c.TouchThrottle, o.TouchThrottle)
	if o.JumpStep > 0 {
		c.JumpStep = o.JumpStep
	}
	if o.HeatmapGrid > 0 {
		c.HeatmapGrid = o.HeatmapGrid
	}
	setDuration(&c.HeatmapMinDwell, o.HeatmapMinDwell)

	setDuration(&c.RequestTimeout, o.RequestTimeout)
	setDuration(&c.FinalFlushTimeout, o.FinalFlushTimeout)
	if o.CompressRequests != nil {
		v := *o.CompressRequests
		c.CompressRequests = &v
	}

	setString(&c.ListenAddr, o.ListenAddr)
	if len(o.AllowedOrigins) > 0 {
		c.AllowedOrigins = append([]string(nil), o.AllowedOrigins...)
	}
	setString(&c.JournalDir, o.JournalDir)
	setString(&c.ReportFormat, o.ReportFormat)
	setString(&c.LogEnv, o.LogEnv)
}

// FlushIntervalFor returns the flush interval for surface.
func (c Config) FlushIntervalFor(surface string) time.Duration {
	if d, ok := c.FlushIntervals[surface]; ok && d > 0 {
		return d.D()
	}
	return c.FlushInterval.D()
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
