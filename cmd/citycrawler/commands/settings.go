package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"citycrawler/internal/config"
)

const defaultConfigPath = "configs/citycrawler.yaml"

// settings holds the flags shared by commands that need a full configuration.
type settings struct {
	configPath  string
	rootURL     string
	output      string
	maxChildren int
	maxPages    int
	policy      string
	onExhausted string
	engine      string
	logLevel    string
	structured  bool
	runID       string
}

func (s *settings) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&s.configPath, "config", "c", defaultConfigPath, "Path to a YAML or JSON5 configuration file")
	flags.StringVar(&s.rootURL, "root-url", "", "Root listing URL (overrides crawl.root_url)")
	flags.StringVarP(&s.output, "output", "o", "", "Checkpoint file (overrides checkpoint.path)")
	flags.IntVar(&s.maxChildren, "max-children", 0, "Visit at most this many new children")
	flags.IntVar(&s.maxPages, "max-pages", 0, "Stop each collection after this many pages")
	flags.StringVar(&s.policy, "policy", "", "Checkpoint policy: resume or fresh")
	flags.StringVar(&s.onExhausted, "on-exhausted", "", "Child retry exhaustion: abort or skip")
	flags.StringVar(&s.engine, "engine", "", "Page fetcher: chromedp or http")
	flags.StringVar(&s.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.BoolVar(&s.structured, "json-logs", false, "Emit JSON logs")
	flags.StringVar(&s.runID, "run-id", "", "Identifier attached to logs and mirror rows")
}

// overrides returns the flags that were set on the command line.
func (s *settings) overrides(flags *pflag.FlagSet) config.Config {
	var o config.Config
	set := flags.Changed
	if set("root-url") {
		o.Crawl.RootURL = s.rootURL
	}
	if set("max-children") {
		o.Crawl.MaxChildren = s.maxChildren
	}
	if set("max-pages") {
		o.Crawl.MaxPagesPerCollection = s.maxPages
	}
	if set("output") {
		o.Checkpoint.Path = s.output
	}
	if set("policy") {
		o.Checkpoint.Policy = s.policy
	}
	if set("on-exhausted") {
		o.Retry.OnExhausted = s.onExhausted
	}
	if set("engine") {
		o.Rendering.Engine = s.engine
	}
	if set("log-level") {
		o.Logging.Level = s.logLevel
	}
	if set("json-logs") {
		o.Logging.Structured = s.structured
	}
	if set("run-id") {
		o.Job.RunID = s.runID
	}
	return o
}

// applyZeros copies flags explicitly set to their zero value, which the
// merge skips.
func (s *settings) applyZeros(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("max-children") && s.maxChildren == 0 {
		cfg.Crawl.MaxChildren = 0
	}
	if flags.Changed("max-pages") && s.maxPages == 0 {
		cfg.Crawl.MaxPagesPerCollection = 0
	}
	if flags.Changed("json-logs") && !s.structured {
		cfg.Logging.Structured = false
	}
}

// resolve builds the effective configuration: file over defaults, then
// flags, then environment. A missing config file is only an error when
// --config was given.
func (s *settings) resolve(flags *pflag.FlagSet, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.Read(s.configPath)
	switch {
	case err == nil:
	case !flags.Changed("config") && errors.Is(err, fs.ErrNotExist):
		def := config.Default()
		cfg = &def
	default:
		return nil, err
	}

	if err := cfg.Merge(s.overrides(flags)); err != nil {
		return nil, err
	}
	s.applyZeros(cfg, flags)
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg.ApplyEnv(lookup)
	if cfg.Job.RunID == "" {
		cfg.Job.RunID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
