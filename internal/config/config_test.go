package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
crawl:
  root_url: " https://example.com/cities "
  max_children: 5
retry:
  max_retries: 4
  backoff_base: 500ms
  jitter_max: 0.25
  on_exhausted: SKIP
politeness:
  page_delay:
    min: 1s
    max: 2s
checkpoint:
  path: out/locations.json
  policy: fresh
rendering:
  engine: http
`

func TestLoadFromReaderAppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/cities", cfg.Crawl.RootURL)
	assert.Equal(t, 5, cfg.Crawl.MaxChildren)
	assert.Equal(t, 4, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BackoffBase.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.JitterMax.Duration)
	assert.Equal(t, OnExhaustedSkip, cfg.Retry.OnExhausted)
	assert.Equal(t, PolicyFresh, cfg.Checkpoint.Policy)
	assert.Equal(t, EngineHTTP, cfg.Rendering.Engine)

	// untouched sections keep their defaults
	assert.Equal(t, 3*time.Second, cfg.Politeness.ChildDelay.Min.Duration)
	assert.Equal(t, 6*time.Second, cfg.Politeness.ChildDelay.Max.Duration)
	assert.Equal(t, 90*time.Second, cfg.Rendering.Timeout.Duration)
	assert.Equal(t, cfg.Crawl.UserAgent, cfg.Robots.UserAgent)
}

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.BackoffBase.Duration)
	assert.Equal(t, time.Second, cfg.Retry.JitterMax.Duration)
	assert.Equal(t, 90*time.Second, cfg.Rendering.Timeout.Duration)
	minDelay, maxDelay := cfg.Politeness.PageDelay.Bounds()
	assert.Equal(t, 2*time.Second, minDelay)
	assert.Equal(t, 5*time.Second, maxDelay)
	assert.Equal(t, PolicyResume, cfg.Checkpoint.Policy)
	assert.Equal(t, OnExhaustedAbort, cfg.Retry.OnExhausted)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("crawl:\n  root_url: https://example.com\n  bogus: 1\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Crawl.RootURL = "https://example.com/cities"
		cfg.normalise()
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"missing root":       func(c *Config) { c.Crawl.RootURL = "" },
		"non-http root":      func(c *Config) { c.Crawl.RootURL = "ftp://example.com" },
		"zero retries":       func(c *Config) { c.Retry.MaxRetries = 0 },
		"bad escalation":     func(c *Config) { c.Retry.OnExhausted = "ignore" },
		"inverted delay":     func(c *Config) { c.Politeness.PageDelay = DelayRange{Min: DurationFrom(time.Second)} },
		"bad engine":         func(c *Config) { c.Rendering.Engine = "webkit" },
		"bad policy":         func(c *Config) { c.Checkpoint.Policy = "sometimes" },
		"bad pattern":        func(c *Config) { c.Extract.CityPathPattern = "([" },
		"mirror without dsn": func(c *Config) { c.Mirror.Driver = "sqlite" },
		"negative cap":       func(c *Config) { c.Crawl.MaxChildren = -1 },
		"jitter at base":     func(c *Config) { c.Retry.JitterMax = c.Retry.BackoffBase },
		"jitter above base":  func(c *Config) { c.Retry.JitterMax = DurationFrom(5 * c.Retry.BackoffBase.Duration) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMergeOverridesNonZeroFields(t *testing.T) {
	cfg := Default()
	cfg.Crawl.RootURL = "https://example.com/a"

	err := cfg.Merge(Config{
		Crawl:      CrawlConfig{MaxChildren: 2},
		Checkpoint: CheckpointConfig{Path: "other.json"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/a", cfg.Crawl.RootURL)
	assert.Equal(t, 2, cfg.Crawl.MaxChildren)
	assert.Equal(t, "other.json", cfg.Checkpoint.Path)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvRootURL: "https://example.com/env",
		EnvOutput:  "env.json",
	}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "https://example.com/env", cfg.Crawl.RootURL)
	assert.Equal(t, "env.json", cfg.Checkpoint.Path)
}

func TestReadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
  // comments are allowed
  crawl: { root_url: "https://example.com/cities", max_children: 3 },
  retry: { backoff_base: "250ms", jitter_max: "100ms" },
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cities", cfg.Crawl.RootURL)
	assert.Equal(t, 3, cfg.Crawl.MaxChildren)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BackoffBase.Duration)
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "citycrawler.yaml"))
	require.NoError(t, err)
	assert.Equal(t, PolicyResume, cfg.Checkpoint.Policy)
	assert.True(t, cfg.Robots.Respect)
	assert.False(t, cfg.Mirror.Enabled())
	assert.Equal(t, "en-US,en;q=0.9", cfg.Crawl.Headers["Accept-Language"])
}

func TestValidateAcceptsZeroJitter(t *testing.T) {
	cfg := Default()
	cfg.Crawl.RootURL = "https://example.com/cities"
	cfg.Retry.BackoffBase = DurationFrom(time.Second)
	cfg.Retry.JitterMax = Duration{}
	require.NoError(t, cfg.Validate())

	cfg.Retry.JitterMax = DurationFrom(999 * time.Millisecond)
	require.NoError(t, cfg.Validate())
}
