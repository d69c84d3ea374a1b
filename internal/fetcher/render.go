package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"citycrawler/pkg/types"
)

// RenderOptions configures the JavaScript rendering pipeline.
type RenderOptions struct {
	Timeout         time.Duration
	WaitForSelector string
	WaitForDOMReady bool
	UserAgent       string
	MaxBodyBytes    int64
	DisableHeadless bool
	ProxyURL        string
	CaptureDelay    time.Duration
	Logger          *slog.Logger
}

// ChromedpRenderer executes headless Chrome sessions using chromedp. Every
// Fetch launches its own browser and tears it down before returning, so no
// cookies, cache, or half-loaded state survive into the next attempt.
type ChromedpRenderer struct {
	opts   RenderOptions
	logger *slog.Logger
}

// NewChromedpRenderer constructs a renderer.
func NewChromedpRenderer(opts RenderOptions) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 * 1024 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromedpRenderer{
		opts:   opts,
		logger: logger,
	}
}

// Fetch navigates to the target URL and exports the final DOM outer HTML.
func (r *ChromedpRenderer) Fetch(parentCtx context.Context, rawURL string) (*types.Page, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	logger := r.logger.With(
		"url", rawURL,
		"timeout", r.opts.Timeout.String(),
	)

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	execOpts = append(execOpts,
		chromedp.Flag("headless", !r.opts.DisableHeadless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}
	if proxy := strings.TrimSpace(r.opts.ProxyURL); proxy != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	start := time.Now()
	var html string
	var finalURL string

	actions := []chromedp.Action{
		chromedp.Navigate(target.String()),
	}

	waitMode := "delay"
	switch {
	case r.opts.WaitForDOMReady:
		waitMode = "dom_ready"
		actions = append(actions,
			waitForDocumentReady(logger),
			chromedp.Sleep(250*time.Millisecond),
		)
	case strings.TrimSpace(r.opts.WaitForSelector) != "":
		waitMode = "selector"
		actions = append(actions,
			chromedp.WaitReady(strings.TrimSpace(r.opts.WaitForSelector), chromedp.ByQuery),
		)
	default:
		delay := r.opts.CaptureDelay
		if delay <= 0 {
			delay = 1500 * time.Millisecond
		}
		actions = append(actions, chromedp.Sleep(delay))
	}
	logger.Debug("chromedp starting render", "wait_mode", waitMode)
	actions = append(actions,
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)

	if err := chromedp.Run(chromeCtx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		html = html[:r.opts.MaxBodyBytes]
	}

	parsedFinal := target
	if finalURL != "" {
		if u, err := url.Parse(finalURL); err == nil {
			parsedFinal = u
		}
	}

	latency := time.Since(start)
	logger.Debug("chromedp render complete",
		"latency_ms", latency.Milliseconds(),
		"final_url", parsedFinal.String(),
		"html_bytes", len(html),
	)
	return &types.Page{
		URL:             target,
		FinalURL:        parsedFinal,
		Body:            []byte(html),
		ContentType:     "text/html; charset=utf-8",
		StatusCode:      200,
		FetchedAt:       time.Now(),
		Rendered:        true,
		ResponseLatency: latency,
	}, nil
}

func waitForDocumentReady(logger *slog.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				logger.Warn("waitForDocumentReady evaluate failed", "error", err)
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
