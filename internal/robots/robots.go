// Package robots gates listing URLs on the site's robots.txt.
package robots

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"citycrawler/internal/config"
)

// Agent evaluates robots.txt rules with caching and host overrides. When
// respect is off every URL is allowed and nothing is fetched.
type Agent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	respect   bool
	logger    *slog.Logger

	mu        sync.RWMutex
	cache     map[string]cacheEntry
	overrides map[string]struct{}
}

type cacheEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// NewAgent constructs a robots agent from configuration.
func NewAgent(cfg config.RobotsConfig, client *http.Client, logger *slog.Logger) *Agent {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.CacheTTL.Duration
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	overrides := make(map[string]struct{}, len(cfg.Overrides))
	for _, host := range cfg.Overrides {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		overrides[host] = struct{}{}
	}

	return &Agent{
		client:    client,
		userAgent: cfg.UserAgent,
		ttl:       ttl,
		respect:   cfg.Respect,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
		overrides: overrides,
	}
}

// Enabled reports whether rules are enforced.
func (a *Agent) Enabled() bool { return a != nil && a.respect }

// Allowed reports whether rawURL may be crawled. Robots fetch failures fail
// open.
func (a *Agent) Allowed(ctx context.Context, rawURL string) bool {
	if !a.Enabled() {
		return true
	}
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return false
	}
	group := a.group(ctx, target)
	if group == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}
	return group.Test(path)
}

// CrawlDelay returns the Crawl-delay declared for rawURL's host, or zero.
func (a *Agent) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	if !a.Enabled() {
		return 0
	}
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return 0
	}
	if group := a.group(ctx, target); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (a *Agent) group(ctx context.Context, target *url.URL) *robotstxt.Group {
	host := strings.ToLower(target.Hostname())
	if _, ok := a.overrides[host]; ok {
		return nil
	}
	rules, err := a.rules(ctx, target)
	if err != nil {
		a.logger.Warn("robots.txt unavailable, allowing", "host", host, "error", err)
		return nil
	}
	return rules.FindGroup(a.userAgent)
}

func (a *Agent) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	a.mu.RLock()
	entry, ok := a.cache[host]
	if ok && time.Since(entry.fetched) < a.ttl {
		a.mu.RUnlock()
		return entry.rules, nil
	}
	a.mu.RUnlock()

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	// FromResponse maps 4xx to allow-all and 5xx to disallow-all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	a.mu.Lock()
	a.cache[host] = cacheEntry{fetched: time.Now(), rules: data}
	a.mu.Unlock()

	a.logger.Debug("robots.txt cached", "host", host, "status", resp.StatusCode)
	return data, nil
}
