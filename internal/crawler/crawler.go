// Package crawler runs the two-level harvest: the root listing yields city
// URLs, each city listing yields locations, and the dataset is checkpointed
// after every city.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"citycrawler/internal/backoff"
	"citycrawler/internal/checkpoint"
	"citycrawler/internal/collector"
	"citycrawler/internal/config"
	"citycrawler/internal/extract"
	"citycrawler/internal/fetcher"
	robotsclient "citycrawler/internal/robots"
	"citycrawler/internal/storage"
	"citycrawler/pkg/types"
)

// Reporter observes progress. Implementations must not block.
type Reporter interface {
	Planned(discovered, planned int)
	ChildStarted(key string, position, total int)
	PageDone(req types.PageRequest, found, added int)
	ChildDone(key string, items int, err error)
}

type nopReporter struct{}

func (nopReporter) Planned(int, int)                     {}
func (nopReporter) ChildStarted(string, int, int)        {}
func (nopReporter) PageDone(types.PageRequest, int, int) {}
func (nopReporter) ChildDone(string, int, error)         {}

// Dependencies are the collaborators of an Engine. Nil fields are built from
// the configuration, except Sink and Robots which stay disabled when nil.
type Dependencies struct {
	Fetcher   fetcher.Fetcher
	Scheduler *backoff.Scheduler
	Store     *checkpoint.Store
	Sink      storage.Sink
	Robots    *robotsclient.Agent
	Cities    extract.Extractor[string]
	Locations extract.Extractor[types.Location]
	Reporter  Reporter
	Logger    *slog.Logger
	// Collector overrides the collection options derived from cfg.
	Collector *collector.Options
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	RunID      string
	RootURL    string
	Policy     string
	Discovered int
	Resumed    int
	Blocked    int
	Deferred   int
	Completed  int
	Partial    int
	Items      int
	Children   []ChildState
	Duration   time.Duration
	Err        error
}

// Engine orchestrates root discovery, per-child collection and persistence.
type Engine struct {
	cfg       config.Config
	collector *collector.Engine
	scheduler *backoff.Scheduler
	store     *checkpoint.Store
	sink      storage.Sink
	robots    *robotsclient.Agent
	cities    extract.Extractor[string]
	locations extract.Extractor[types.Location]
	reporter  Reporter
	logger    *slog.Logger

	footprint *Footprint
	summary   Summary

	closers   []func() error
	closeOnce sync.Once
}

// New assembles an engine from cfg and deps.
func New(cfg config.Config, deps Dependencies) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_id", cfg.Job.RunID)

	if deps.Fetcher == nil {
		f, err := fetcher.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build fetcher: %w", err)
		}
		deps.Fetcher = f
	}
	if deps.Scheduler == nil {
		deps.Scheduler = backoff.New(backoff.Options{
			Base:       cfg.Retry.BackoffBase.Duration,
			JitterMax:  cfg.Retry.JitterMax.Duration,
			MaxRetries: cfg.Retry.MaxRetries,
		})
	}
	if deps.Store == nil {
		deps.Store = checkpoint.NewStore(cfg.Checkpoint.Path, logger)
	}
	if deps.Cities == nil {
		cities, err := extract.NewCityLinks(cfg.Extract)
		if err != nil {
			return nil, err
		}
		deps.Cities = cities
	}
	if deps.Locations == nil {
		deps.Locations = extract.NewLocations(cfg.Extract)
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}

	opts := collector.OptionsFromConfig(cfg)
	if deps.Collector != nil {
		opts = *deps.Collector
	}
	opts.OnPage = deps.Reporter.PageDone

	return &Engine{
		cfg:       cfg,
		collector: collector.NewEngine(deps.Fetcher, deps.Scheduler, opts, logger),
		scheduler: deps.Scheduler,
		store:     deps.Store,
		sink:      deps.Sink,
		robots:    deps.Robots,
		cities:    deps.Cities,
		locations: deps.Locations,
		reporter:  deps.Reporter,
		logger:    logger,
	}, nil
}

// NewEngine builds a production engine: configured fetcher behind the
// politeness throttle, robots agent, and the SQL mirror when enabled.
func NewEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, reporter Reporter) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := fetcher.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	robotsHTTP, err := fetcher.NewHTTPFetcher(fetcher.Options{
		UserAgent: cfg.Robots.UserAgent,
		ProxyURL:  cfg.Crawl.ProxyURL,
		Timeout:   30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("robots client: %w", err)
	}
	robots := robotsclient.NewAgent(cfg.Robots, robotsHTTP.Client(), logger)

	gap := robots.CrawlDelay(ctx, cfg.Crawl.RootURL)
	if gap > 0 {
		logger.Info("honouring robots crawl-delay", "delay", gap.String())
	}

	deps := Dependencies{
		Fetcher:  NewThrottle(base, gap, cfg.Politeness.RateLimit),
		Robots:   robots,
		Reporter: reporter,
		Logger:   logger,
	}

	var closers []func() error
	if cfg.Mirror.Enabled() {
		mirror, err := storage.NewSQLMirror(ctx, cfg.Mirror, cfg.Job.RunID)
		if err != nil {
			return nil, fmt.Errorf("sql mirror: %w", err)
		}
		deps.Sink = mirror
		closers = append(closers, mirror.Close)
	}

	engine, err := New(cfg, deps)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	engine.closers = closers
	return engine, nil
}

// Run loads prior state, crawls, and persists according to the checkpoint
// policy. The returned dataset is never nil.
func (e *Engine) Run(ctx context.Context) (*checkpoint.Dataset, error) {
	start := time.Now()
	ds, err := e.run(ctx, start)
	e.finishSummary(ds, start, err)
	return ds, err
}

func (e *Engine) run(ctx context.Context, start time.Time) (*checkpoint.Dataset, error) {
	resume := e.cfg.Checkpoint.Policy != config.PolicyFresh

	e.footprint = NewFootprint()
	e.summary = Summary{
		RunID:   e.cfg.Job.RunID,
		RootURL: e.cfg.Crawl.RootURL,
		Policy:  e.cfg.Checkpoint.Policy,
	}

	var ds *checkpoint.Dataset
	if resume {
		ds = e.store.Load()
	} else {
		ds = checkpoint.NewDataset()
		e.logger.Info("fresh policy, ignoring existing checkpoint", "path", e.store.Path())
	}
	e.logger.Info("crawl started",
		"root_url", e.cfg.Crawl.RootURL,
		"policy", e.cfg.Checkpoint.Policy,
		"on_exhausted", e.cfg.Retry.OnExhausted,
		"known_children", ds.Len(),
	)

	err := e.crawl(ctx, ds, resume)
	if err != nil {
		if !resume {
			e.logger.Error("crawl failed, checkpoint left untouched", "error", err)
			return ds, err
		}
		if saveErr := e.store.Save(ds); saveErr != nil {
			e.logger.Error("crawl failed and partial dataset could not be flushed", "error", err, "flush_error", saveErr)
			return ds, errors.Join(err, fmt.Errorf("flush checkpoint: %w", saveErr))
		}
		e.logger.Error("crawl failed, partial dataset flushed", "error", err, "children", ds.Len())
		return ds, err
	}

	if err := e.store.Save(ds); err != nil {
		return ds, fmt.Errorf("save checkpoint: %w", err)
	}
	e.logger.Info("crawl complete", "children", ds.Len(), "items", ds.ItemCount(), "elapsed", time.Since(start).String())
	return ds, nil
}

func (e *Engine) crawl(ctx context.Context, ds *checkpoint.Dataset, resume bool) error {
	root := e.cfg.Crawl.RootURL
	if !e.robots.Allowed(ctx, root) {
		return fmt.Errorf("root %s disallowed by robots.txt", root)
	}

	childURLs, err := collector.Collect(ctx, e.collector, root, e.cities)
	if err != nil {
		return fmt.Errorf("collect root listing: %w", err)
	}

	plan := e.plan(ctx, childURLs, ds)
	e.reporter.Planned(e.summary.Discovered, len(plan))

	childLo, childHi := e.cfg.Politeness.ChildDelay.Bounds()
	for i, child := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := e.logger.With("child", child.Key, "position", i+1, "of", len(plan))
		logger.Info("collecting child", "url", child.URL)
		e.reporter.ChildStarted(child.Key, i+1, len(plan))

		status := StatusDone
		items, err := collector.Collect(ctx, e.collector, child.URL, e.locations)
		if err != nil {
			if !errors.Is(err, collector.ErrRetriesExhausted) || e.cfg.Retry.OnExhausted != config.OnExhaustedSkip {
				e.footprint.Mark(child.Key, StatusFailed, len(items), err)
				e.reporter.ChildDone(child.Key, len(items), err)
				return fmt.Errorf("collect %s: %w", child.Key, err)
			}
			logger.Error("skipping remainder of child", "kept", len(items), "error", err)
			status = StatusPartial
		}

		if err := checkpoint.SetItems(ds, child.Key, items); err != nil {
			return err
		}
		if resume {
			if err := e.store.Save(ds); err != nil {
				return fmt.Errorf("persist after %s: %w", child.Key, err)
			}
		}
		if e.sink != nil {
			if err := e.sink.WriteChild(ctx, child.Key, ds.Get(child.Key)); err != nil {
				return fmt.Errorf("mirror %s: %w", child.Key, err)
			}
		}
		e.footprint.Mark(child.Key, status, len(items), err)
		e.reporter.ChildDone(child.Key, len(items), err)
		logger.Info("child stored", "items", len(items), "status", string(status))

		if i < len(plan)-1 {
			waited, err := e.scheduler.Wait(ctx, childLo, childHi)
			if err != nil {
				return err
			}
			logger.Debug("politeness delay", "waited", waited.String())
		}
	}
	return nil
}

type plannedChild struct {
	Key string
	URL string
}

// plan derives child keys, drops duplicates and already-collected keys,
// applies robots rules and finally the max_children cap.
func (e *Engine) plan(ctx context.Context, urls []string, ds *checkpoint.Dataset) []plannedChild {
	var candidates []plannedChild
	for _, u := range urls {
		key := types.ChildKey(u)
		if key == "" {
			e.logger.Debug("child url has no key, ignoring", "url", u)
			continue
		}
		if !e.footprint.Discover(key, u) {
			continue
		}
		if ds.Has(key) {
			e.footprint.Mark(key, StatusResumed, len(ds.Get(key)), nil)
			e.logger.Info("child already collected, skipping", "child", key)
			continue
		}
		candidates = append(candidates, plannedChild{Key: key, URL: u})
	}

	if e.robots.Enabled() {
		allowed := candidates[:0]
		for _, c := range candidates {
			if e.robots.Allowed(ctx, c.URL) {
				allowed = append(allowed, c)
				continue
			}
			e.footprint.Mark(c.Key, StatusBlocked, 0, nil)
			e.logger.Warn("child disallowed by robots.txt", "child", c.Key, "url", c.URL)
		}
		candidates = allowed
	}

	if limit := e.cfg.Crawl.MaxChildren; limit > 0 && len(candidates) > limit {
		for _, c := range candidates[limit:] {
			e.footprint.Mark(c.Key, StatusDeferred, 0, nil)
		}
		e.logger.Info("child cap applied", "max_children", limit, "deferred", len(candidates)-limit)
		candidates = candidates[:limit]
	}

	e.summary.Discovered = len(e.footprint.order)
	e.logger.Info("children planned",
		"discovered", e.summary.Discovered,
		"resumed", e.footprint.Count(StatusResumed),
		"planned", len(candidates),
	)
	return candidates
}

func (e *Engine) finishSummary(ds *checkpoint.Dataset, start time.Time, err error) {
	e.summary.Duration = time.Since(start)
	e.summary.Err = err
	e.summary.Items = ds.ItemCount()
	e.summary.Children = e.footprint.States()
	e.summary.Resumed = e.footprint.Count(StatusResumed)
	e.summary.Blocked = e.footprint.Count(StatusBlocked)
	e.summary.Deferred = e.footprint.Count(StatusDeferred)
	e.summary.Completed = e.footprint.Count(StatusDone)
	e.summary.Partial = e.footprint.Count(StatusPartial)
}

// Summary returns the outcome of the last Run.
func (e *Engine) Summary() Summary {
	return e.summary
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}
