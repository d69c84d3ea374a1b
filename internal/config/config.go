package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Checkpoint policies.
const (
	// PolicyResume loads prior results, skips completed children, persists
	// after every child and flushes on failure.
	PolicyResume = "resume"
	// PolicyFresh ignores prior results and persists only after a fully
	// successful run.
	PolicyFresh = "fresh"
)

// Retry exhaustion escalation modes.
const (
	OnExhaustedAbort = "abort"
	OnExhaustedSkip  = "skip"
)

// Rendering engines.
const (
	EngineChromedp = "chromedp"
	EngineHTTP     = "http"
)

// Environment variables that override file configuration.
const (
	EnvRootURL = "CITYCRAWLER_ROOT_URL"
	EnvOutput  = "CITYCRAWLER_OUTPUT"
)

// Config captures the full configuration required to run a harvest.
type Config struct {
	Crawl      CrawlConfig      `yaml:"crawl" json:"crawl"`
	Retry      RetryConfig      `yaml:"retry" json:"retry"`
	Politeness PolitenessConfig `yaml:"politeness" json:"politeness"`
	Rendering  RenderingConfig  `yaml:"rendering" json:"rendering"`
	Extract    ExtractConfig    `yaml:"extract" json:"extract"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Robots     RobotsConfig     `yaml:"robots" json:"robots"`
	Mirror     SQLConfig        `yaml:"mirror" json:"mirror"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Job        JobConfig        `yaml:"job" json:"job"`
}

// CrawlConfig describes what to harvest.
type CrawlConfig struct {
	RootURL     string            `yaml:"root_url" json:"root_url"`
	UserAgent   string            `yaml:"user_agent" json:"user_agent"`
	MaxChildren int               `yaml:"max_children" json:"max_children"`
	Headers     map[string]string `yaml:"headers" json:"headers"`
	ProxyURL    string            `yaml:"proxy_url" json:"proxy_url"`
	// MaxPagesPerCollection bounds a single paginated walk; 0 means unbounded.
	MaxPagesPerCollection int `yaml:"max_pages_per_collection" json:"max_pages_per_collection"`
}

// RetryConfig controls how transient fetch failures are retried.
type RetryConfig struct {
	MaxRetries  int      `yaml:"max_retries" json:"max_retries"`
	BackoffBase Duration `yaml:"backoff_base" json:"backoff_base"`
	JitterMax   Duration `yaml:"jitter_max" json:"jitter_max"`
	OnExhausted string   `yaml:"on_exhausted" json:"on_exhausted"`
}

// PolitenessConfig throttles requests against the remote site.
type PolitenessConfig struct {
	PageDelay  DelayRange      `yaml:"page_delay" json:"page_delay"`
	ChildDelay DelayRange      `yaml:"child_delay" json:"child_delay"`
	RateLimit  RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig applies a token bucket across all fetches.
type RateLimitConfig struct {
	Requests int      `yaml:"requests" json:"requests"`
	Window   Duration `yaml:"window" json:"window"`
}

// RenderingConfig selects and tunes the page fetcher.
type RenderingConfig struct {
	Engine          string   `yaml:"engine" json:"engine"`
	Timeout         Duration `yaml:"timeout" json:"timeout"`
	WaitForSelector string   `yaml:"wait_for_selector" json:"wait_for_selector"`
	WaitForDOMReady bool     `yaml:"wait_for_dom_ready" json:"wait_for_dom_ready"`
	DisableHeadless bool     `yaml:"disable_headless" json:"disable_headless"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// ExtractConfig holds the site-specific selection rules.
type ExtractConfig struct {
	CitySelector       string `yaml:"city_selector" json:"city_selector"`
	CityPathPattern    string `yaml:"city_path_pattern" json:"city_path_pattern"`
	LocationSelector   string `yaml:"location_selector" json:"location_selector"`
	LocationPathPrefix string `yaml:"location_path_prefix" json:"location_path_prefix"`
}

// CheckpointConfig selects the durable dataset location and policy.
type CheckpointConfig struct {
	Path   string `yaml:"path" json:"path"`
	Policy string `yaml:"policy" json:"policy"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect" json:"respect"`
	Overrides []string `yaml:"overrides" json:"overrides"`
	UserAgent string   `yaml:"user_agent" json:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// SQLConfig describes the optional relational mirror of the dataset.
type SQLConfig struct {
	Driver          string   `yaml:"driver" json:"driver"`
	DSN             string   `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	Table           string   `yaml:"table" json:"table"`
	CreateIfMissing bool     `yaml:"create_if_missing" json:"create_if_missing"`
}

// Enabled reports whether a mirror is configured.
func (s SQLConfig) Enabled() bool {
	return s.Driver != "" && s.DSN != ""
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Structured bool   `yaml:"structured" json:"structured"`
}

// JobConfig identifies the run in logs and mirror rows.
type JobConfig struct {
	RunID string `yaml:"run_id" json:"run_id"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Crawl: CrawlConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			Headers:   map[string]string{},
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: DurationFrom(2000 * time.Millisecond),
			JitterMax:   DurationFrom(1000 * time.Millisecond),
			OnExhausted: OnExhaustedAbort,
		},
		Politeness: PolitenessConfig{
			PageDelay:  DelayRange{Min: DurationFrom(2000 * time.Millisecond), Max: DurationFrom(5000 * time.Millisecond)},
			ChildDelay: DelayRange{Min: DurationFrom(3000 * time.Millisecond), Max: DurationFrom(6000 * time.Millisecond)},
		},
		Rendering: RenderingConfig{
			Engine:          EngineChromedp,
			Timeout:         DurationFrom(90000 * time.Millisecond),
			WaitForSelector: "body",
			MaxBodyBytes:    8 * 1024 * 1024,
		},
		Extract: ExtractConfig{
			CitySelector:     "a[href]",
			LocationSelector: "a[href]",
		},
		Checkpoint: CheckpointConfig{
			Path:   "locations.json",
			Policy: PolicyResume,
		},
		Robots: RobotsConfig{
			Respect:   false,
			Overrides: []string{},
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Mirror: SQLConfig{
			Table: "locations",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads, normalises, and validates configuration from a YAML or JSON5 file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes a configuration file over the defaults without validating it,
// so callers can apply overrides first.
func Read(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		err = decodeJSON5(fh, &cfg)
	default:
		err = decodeYAML(fh, &cfg)
	}
	if err != nil {
		return nil, err
	}
	cfg.normalise()
	return &cfg, nil
}

// LoadFromReader decodes YAML configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func decodeJSON5(r io.Reader, cfg *Config) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json5.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Merge overlays every non-zero field of overrides onto c.
func (c *Config) Merge(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge config overrides: %w", err)
	}
	c.normalise()
	return nil
}

// ApplyEnv applies environment overrides for the most commonly varied settings.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvRootURL); ok && strings.TrimSpace(v) != "" {
		c.Crawl.RootURL = v
	}
	if v, ok := lookup(EnvOutput); ok && strings.TrimSpace(v) != "" {
		c.Checkpoint.Path = v
	}
	c.normalise()
}

// Validate enforces required invariants for the harvest configuration.
func (c Config) Validate() error {
	if c.Crawl.RootURL == "" {
		return errors.New("crawl.root_url must be set")
	}
	root, err := url.Parse(c.Crawl.RootURL)
	if err != nil {
		return fmt.Errorf("crawl.root_url: %w", err)
	}
	if root.Scheme != "http" && root.Scheme != "https" {
		return fmt.Errorf("crawl.root_url must be http(s) (got %q)", c.Crawl.RootURL)
	}
	if root.Host == "" {
		return fmt.Errorf("crawl.root_url %q missing host", c.Crawl.RootURL)
	}
	if c.Crawl.UserAgent == "" {
		return errors.New("crawl.user_agent must be set")
	}
	if c.Crawl.MaxChildren < 0 {
		return fmt.Errorf("crawl.max_children must be >= 0 (got %d)", c.Crawl.MaxChildren)
	}
	if c.Crawl.MaxPagesPerCollection < 0 {
		return fmt.Errorf("crawl.max_pages_per_collection must be >= 0 (got %d)", c.Crawl.MaxPagesPerCollection)
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1 (got %d)", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffBase.Duration < 0 || c.Retry.JitterMax.Duration < 0 {
		return errors.New("retry.backoff_base and retry.jitter_max must be >= 0")
	}
	// windows for consecutive attempts must not overlap
	if j := c.Retry.JitterMax.Duration; j > 0 && j >= c.Retry.BackoffBase.Duration {
		return fmt.Errorf("retry.jitter_max must be < retry.backoff_base (got %s >= %s)", j, c.Retry.BackoffBase.Duration)
	}
	switch c.Retry.OnExhausted {
	case OnExhaustedAbort, OnExhaustedSkip:
	default:
		return fmt.Errorf("retry.on_exhausted must be %q or %q (got %q)", OnExhaustedAbort, OnExhaustedSkip, c.Retry.OnExhausted)
	}
	if err := c.Politeness.PageDelay.Validate(); err != nil {
		return fmt.Errorf("politeness.page_delay: %w", err)
	}
	if err := c.Politeness.ChildDelay.Validate(); err != nil {
		return fmt.Errorf("politeness.child_delay: %w", err)
	}
	if rl := c.Politeness.RateLimit; rl.Requests < 0 {
		return fmt.Errorf("politeness.rate_limit.requests must be >= 0 (got %d)", rl.Requests)
	}
	switch c.Rendering.Engine {
	case EngineChromedp, EngineHTTP:
	default:
		return fmt.Errorf("unsupported rendering engine %q", c.Rendering.Engine)
	}
	if c.Rendering.Timeout.Duration <= 0 {
		return fmt.Errorf("rendering.timeout must be > 0 (got %s)", c.Rendering.Timeout)
	}
	if c.Rendering.MaxBodyBytes <= 0 {
		return fmt.Errorf("rendering.max_body_bytes must be > 0 (got %d)", c.Rendering.MaxBodyBytes)
	}
	if c.Extract.CitySelector == "" || c.Extract.LocationSelector == "" {
		return errors.New("extract.city_selector and extract.location_selector must be set")
	}
	if c.Extract.CityPathPattern != "" {
		if _, err := regexp.Compile(c.Extract.CityPathPattern); err != nil {
			return fmt.Errorf("extract.city_path_pattern: %w", err)
		}
	}
	if c.Checkpoint.Path == "" {
		return errors.New("checkpoint.path must be set")
	}
	switch c.Checkpoint.Policy {
	case PolicyResume, PolicyFresh:
	default:
		return fmt.Errorf("checkpoint.policy must be %q or %q (got %q)", PolicyResume, PolicyFresh, c.Checkpoint.Policy)
	}
	if c.Mirror.Driver != "" {
		switch c.Mirror.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported mirror driver %q", c.Mirror.Driver)
		}
		if c.Mirror.DSN == "" {
			return errors.New("mirror.dsn must be set when mirror.driver is set")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) normalise() {
	c.Crawl.RootURL = strings.TrimSpace(c.Crawl.RootURL)
	c.Crawl.UserAgent = strings.TrimSpace(c.Crawl.UserAgent)
	c.Crawl.ProxyURL = strings.TrimSpace(c.Crawl.ProxyURL)
	if c.Crawl.Headers == nil {
		c.Crawl.Headers = make(map[string]string)
	}

	c.Retry.OnExhausted = strings.ToLower(strings.TrimSpace(c.Retry.OnExhausted))
	c.Rendering.Engine = strings.ToLower(strings.TrimSpace(c.Rendering.Engine))
	c.Rendering.WaitForSelector = strings.TrimSpace(c.Rendering.WaitForSelector)

	c.Extract.CitySelector = strings.TrimSpace(c.Extract.CitySelector)
	c.Extract.CityPathPattern = strings.TrimSpace(c.Extract.CityPathPattern)
	c.Extract.LocationSelector = strings.TrimSpace(c.Extract.LocationSelector)
	c.Extract.LocationPathPrefix = strings.TrimSpace(c.Extract.LocationPathPrefix)

	c.Checkpoint.Path = strings.TrimSpace(c.Checkpoint.Path)
	c.Checkpoint.Policy = strings.ToLower(strings.TrimSpace(c.Checkpoint.Policy))

	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	if c.Robots.UserAgent == "" {
		c.Robots.UserAgent = c.Crawl.UserAgent
	}
	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}

	c.Mirror.Driver = strings.ToLower(strings.TrimSpace(c.Mirror.Driver))
	if c.Mirror.Driver == "postgresql" {
		c.Mirror.Driver = "postgres"
	}
	c.Mirror.DSN = strings.TrimSpace(c.Mirror.DSN)
	if strings.TrimSpace(c.Mirror.Table) == "" {
		c.Mirror.Table = "locations"
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Job.RunID = strings.TrimSpace(c.Job.RunID)
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether global rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
