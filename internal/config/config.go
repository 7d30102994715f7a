package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one calendar export to process.
type SourceConfig struct {
	// ID is used for output file names and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label used in report titles.
	Name string `yaml:"name" json:"name"`
	// Path is a local export file. Takes precedence over URL.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// URL is a subscription endpoint (http, https or webcal).
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// TableConfig controls CSV rendering.
type TableConfig struct {
	// Placeholder is written for empty cells.
	Placeholder string `yaml:"placeholder" json:"placeholder"`
	// TimeLayout formats parsed Start/End values (Go reference layout).
	TimeLayout string `yaml:"time_layout" json:"time_layout"`
	// Headers overrides the column labels; it must list exactly five names
	// (Summary, Start, End, Location, Description order) or be empty.
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// DescriptionConfig controls description clean-up during extraction.
type DescriptionConfig struct {
	Placeholder  string `yaml:"placeholder" json:"placeholder"`
	ExportMarker string `yaml:"export_marker" json:"export_marker"`
}

// FilterConfig selects records by substring and, optionally, date.
type FilterConfig struct {
	SummaryContains     string `yaml:"summary_contains" json:"summary_contains"`
	DescriptionContains string `yaml:"description_contains" json:"description_contains"`
	// Year restricts to records starting in that year. Normalize turns 0
	// into DefaultCohortYear for the cohort; a negative year means any.
	Year int `yaml:"year,omitempty" json:"year,omitempty"`
	// Months restricts to records starting in those months (1-12).
	Months []int `yaml:"months,omitempty" json:"months,omitempty"`
}

// CaptureConfig controls the optional PNG snapshot of the HTML report.
type CaptureConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	Width          int  `yaml:"width" json:"width"`
	Height         int  `yaml:"height" json:"height"`
	TimeoutSeconds int  `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// PacketsConfig drives the packet-capture report.
type PacketsConfig struct {
	// Input is the tcpdump text dump.
	Input string `yaml:"input" json:"input"`
	// DDoSThreshold flags sources with strictly more packets than this.
	DDoSThreshold int `yaml:"ddos_threshold" json:"ddos_threshold"`
	// FloodThreshold flags sources with strictly more short packets than this.
	FloodThreshold int `yaml:"flood_threshold" json:"flood_threshold"`
	// ShortLength is the exclusive upper bound of a "short" packet length.
	ShortLength int `yaml:"short_length" json:"short_length"`
	// TopN bounds the tables and charts.
	TopN int `yaml:"top_n" json:"top_n"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address used in serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// OutputDir receives every generated artifact.
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	// CacheDir stores remote calendar bodies and their HTTP validators.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Refresh is a cron-style schedule (e.g. "*/15 * * * *") for serve mode.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Parser selects the extraction backend: "lines" (default) or "ical".
	Parser string `yaml:"parser" json:"parser"`

	// RawTimestamps keeps DTSTART/DTEND as written instead of parsing them.
	RawTimestamps bool `yaml:"raw_timestamps" json:"raw_timestamps"`

	Sources     []SourceConfig    `yaml:"sources" json:"sources"`
	Table       TableConfig       `yaml:"table" json:"table"`
	Description DescriptionConfig `yaml:"description" json:"description"`

	// Cohort selects the sessions counted per month in the bar chart.
	Cohort FilterConfig `yaml:"cohort" json:"cohort"`
	// Subject selects the rows of the subject table in the report.
	Subject FilterConfig `yaml:"subject" json:"subject"`
	// PieGroup is matched against Description for the per-month pie chart.
	PieGroup string `yaml:"pie_group" json:"pie_group"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
	Packets PacketsConfig `yaml:"packets" json:"packets"`

	// BasicAuth, if set with both fields, protects every endpoint but /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultCohortYear is the school year the cohort chart covers by default.
const DefaultCohortYear = 2023

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values so that partially-filled configs
// behave like the defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.OutputDir == "" {
		c.OutputDir = "./out"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.Refresh == "" {
		c.Refresh = "*/15 * * * *"
	}
	switch c.Parser {
	case "lines", "ical":
	default:
		c.Parser = "lines"
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}

	if c.Table.Placeholder == "" {
		c.Table.Placeholder = "vide"
	}
	if c.Table.TimeLayout == "" {
		c.Table.TimeLayout = "2006-01-02 15:04"
	}
	if len(c.Table.Headers) != 0 && len(c.Table.Headers) != 5 {
		c.Table.Headers = nil
	}

	if c.Description.Placeholder == "" {
		c.Description.Placeholder = "no description available"
	}
	if c.Description.ExportMarker == "" {
		c.Description.ExportMarker = "Date d'exportation"
	}

	if c.Cohort.SummaryContains == "" && c.Cohort.DescriptionContains == "" {
		c.Cohort.SummaryContains = "TP"
		c.Cohort.DescriptionContains = "A1"
	}
	if c.Cohort.Year == 0 {
		c.Cohort.Year = DefaultCohortYear
	}
	if len(c.Cohort.Months) == 0 {
		c.Cohort.Months = []int{9, 10, 11, 12}
	}
	if c.Subject.SummaryContains == "" && c.Subject.DescriptionContains == "" {
		c.Subject.SummaryContains = "7"
		c.Subject.DescriptionContains = "B1"
	}
	if c.PieGroup == "" {
		c.PieGroup = "A1"
	}

	if c.Capture.Width <= 0 {
		c.Capture.Width = 1280
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 1600
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = 30
	}

	if c.Packets.Input == "" {
		c.Packets.Input = "tcpdump.txt"
	}
	if c.Packets.DDoSThreshold <= 0 {
		c.Packets.DDoSThreshold = 100
	}
	if c.Packets.FloodThreshold <= 0 {
		c.Packets.FloodThreshold = 50
	}
	if c.Packets.ShortLength <= 0 {
		c.Packets.ShortLength = 50
	}
	if c.Packets.TopN <= 0 {
		c.Packets.TopN = 10
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calreport-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
