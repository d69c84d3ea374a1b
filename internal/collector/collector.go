// Package collector walks a numbered listing (base/?page=1, ?page=2, ...)
// until a page yields nothing new, retrying failed pages with exponential
// backoff and deduplicating items by their JSON encoding.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"

	"citycrawler/internal/backoff"
	"citycrawler/internal/config"
	"citycrawler/internal/extract"
	"citycrawler/internal/fetcher"
	"citycrawler/pkg/types"
)

// ErrRetriesExhausted matches every *ExhaustedError.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ExhaustedError reports a page that failed on every attempt.
type ExhaustedError struct {
	BaseURL  string
	Page     int
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("collect %s: page %d failed after %d attempts: %v", e.BaseURL, e.Page, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRetriesExhausted) hold.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// PageFunc observes each completed page: items found on it and how many of
// those were new.
type PageFunc func(req types.PageRequest, found, added int)

// Options tune a collection run.
type Options struct {
	MaxRetries   int
	MaxPages     int
	PageDelayMin time.Duration
	PageDelayMax time.Duration
	OnPage       PageFunc
	// Timer drives retry backoff sleeps; nil uses a real timer.
	Timer cbackoff.Timer
}

// OptionsFromConfig maps the crawl configuration onto collection options.
func OptionsFromConfig(cfg config.Config) Options {
	lo, hi := cfg.Politeness.PageDelay.Bounds()
	return Options{
		MaxRetries:   cfg.Retry.MaxRetries,
		MaxPages:     cfg.Crawl.MaxPagesPerCollection,
		PageDelayMin: lo,
		PageDelayMax: hi,
	}
}

// Engine holds the collaborators shared by every collection in a run.
type Engine struct {
	fetcher   fetcher.Fetcher
	scheduler *backoff.Scheduler
	logger    *slog.Logger
	opts      Options
}

// NewEngine wires a fetcher and scheduler into an engine.
func NewEngine(f fetcher.Fetcher, scheduler *backoff.Scheduler, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fetcher:   f,
		scheduler: scheduler,
		logger:    logger,
		opts:      opts,
	}
}

// SetPageObserver replaces the OnPage callback.
func (e *Engine) SetPageObserver(fn PageFunc) {
	e.opts.OnPage = fn
}

// Collect walks baseURL's pages in order and returns the unique items in
// first-seen order. It stops without error on a page with no items or no new
// items. When a page exhausts its retries the items gathered so far are
// returned together with an *ExhaustedError.
func Collect[T any](ctx context.Context, e *Engine, baseURL string, ex extract.Extractor[T]) ([]T, error) {
	logger := e.logger.With("base_url", baseURL)
	seen := make(map[string]struct{})
	var result []T

	for index := 1; ; index++ {
		req := types.PageRequest{BaseURL: baseURL, Index: index}

		items, err := fetchPage(ctx, e, req, ex, logger)
		if err != nil {
			return result, err
		}
		if len(items) == 0 {
			logger.Info("page empty, collection complete", "page", index, "total", len(result))
			e.observe(req, 0, 0)
			return result, nil
		}

		added := 0
		for _, item := range items {
			key, err := json.Marshal(item)
			if err != nil {
				return result, fmt.Errorf("canonicalise item on page %d: %w", index, err)
			}
			if _, dup := seen[string(key)]; dup {
				continue
			}
			seen[string(key)] = struct{}{}
			result = append(result, item)
			added++
		}
		e.observe(req, len(items), added)

		if added == 0 {
			logger.Info("page repeated known items, collection complete", "page", index, "found", len(items), "total", len(result))
			return result, nil
		}
		logger.Info("page collected", "page", index, "found", len(items), "added", added, "total", len(result))

		if e.opts.MaxPages > 0 && index >= e.opts.MaxPages {
			logger.Warn("page cap reached, stopping collection", "max_pages", e.opts.MaxPages, "total", len(result))
			return result, nil
		}

		waited, err := e.scheduler.Wait(ctx, e.opts.PageDelayMin, e.opts.PageDelayMax)
		if err != nil {
			return result, err
		}
		logger.Debug("politeness delay", "page", index, "waited", waited.String())
	}
}

// fetchPage runs fetch+extract for one page under the retry policy.
func fetchPage[T any](ctx context.Context, e *Engine, req types.PageRequest, ex extract.Extractor[T], logger *slog.Logger) ([]T, error) {
	target := req.URL()
	attempts := 0
	var items []T

	op := func() error {
		if err := ctx.Err(); err != nil {
			return cbackoff.Permanent(err)
		}
		attempts++
		logger.Debug("fetching page", "page", req.Index, "url", target, "attempt", attempts)

		page, err := e.fetcher.Fetch(ctx, target)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return cbackoff.Permanent(ctxErr)
			}
			return fmt.Errorf("fetch %s: %w", target, err)
		}
		found, err := ex.Extract(page, req.BaseURL)
		if err != nil {
			return fmt.Errorf("extract %s: %w", target, err)
		}
		items = found
		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("page attempt failed, backing off",
			"page", req.Index,
			"attempt", attempts,
			"max_attempts", e.opts.MaxRetries,
			"backoff", next.String(),
			"error", err,
		)
	}

	policy := cbackoff.WithContext(
		cbackoff.WithMaxRetries(e.scheduler.NewRetryBackOff(), uint64(e.opts.MaxRetries-1)),
		ctx,
	)

	err := cbackoff.RetryNotifyWithTimer(op, policy, notify, e.opts.Timer)
	if err == nil {
		return items, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	logger.Error("page failed on every attempt",
		"page", req.Index,
		"attempts", attempts,
		"error", err,
	)
	return nil, &ExhaustedError{
		BaseURL:  req.BaseURL,
		Page:     req.Index,
		Attempts: attempts,
		Err:      err,
	}
}

func (e *Engine) observe(req types.PageRequest, found, added int) {
	if e.opts.OnPage != nil {
		e.opts.OnPage(req, found, added)
	}
}
