// Package extract turns rendered listing pages into items. Extractors are
// pure: they read the page and the base URL they were asked about and nothing
// else.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"citycrawler/internal/config"
	"citycrawler/pkg/types"
)

// Extractor produces the items found on one page. base is the collection's
// base URL, used to exclude self-links.
type Extractor[T any] interface {
	Extract(page *types.Page, base string) ([]T, error)
}

// Func adapts a plain function to Extractor.
type Func[T any] func(page *types.Page, base string) ([]T, error)

// Extract calls f.
func (f Func[T]) Extract(page *types.Page, base string) ([]T, error) {
	return f(page, base)
}

// CityLinks discovers child listing URLs on the root listing.
type CityLinks struct {
	selector string
	pattern  *regexp.Regexp
}

// NewCityLinks builds the root-level extractor from configuration.
func NewCityLinks(cfg config.ExtractConfig) (*CityLinks, error) {
	c := &CityLinks{selector: cfg.CitySelector}
	if c.selector == "" {
		c.selector = "a[href]"
	}
	if cfg.CityPathPattern != "" {
		pat, err := regexp.Compile(cfg.CityPathPattern)
		if err != nil {
			return nil, fmt.Errorf("compile city_path_pattern: %w", err)
		}
		c.pattern = pat
	}
	return c, nil
}

// Extract returns absolute child URLs in document order, without query
// strings. Links back to the root listing, including its other pages, are
// excluded.
func (c *CityLinks) Extract(page *types.Page, base string) ([]string, error) {
	var out []string
	err := eachLink(page, c.selector, func(u *url.URL, _ *goquery.Selection) {
		if excludedFromBase(u, base) {
			return
		}
		if c.pattern != nil && !c.pattern.MatchString(u.Path) {
			return
		}
		// child listings are paginated by query, so tracking parameters go
		u.RawQuery = ""
		u.ForceQuery = false
		out = append(out, u.String())
	})
	return out, err
}

// Locations extracts leaf items from a child listing.
type Locations struct {
	selector string
	prefix   string
}

// NewLocations builds the child-level extractor from configuration.
func NewLocations(cfg config.ExtractConfig) *Locations {
	l := &Locations{selector: cfg.LocationSelector, prefix: cfg.LocationPathPrefix}
	if l.selector == "" {
		l.selector = "a[href]"
	}
	return l
}

// Extract returns every anchor with a non-empty label whose path starts with
// the configured prefix.
func (l *Locations) Extract(page *types.Page, base string) ([]types.Location, error) {
	var out []types.Location
	err := eachLink(page, l.selector, func(u *url.URL, s *goquery.Selection) {
		if excludedFromBase(u, base) {
			return
		}
		if l.prefix != "" && !strings.HasPrefix(u.Path, l.prefix) {
			return
		}
		name := selectionText(s)
		if name == "" {
			return
		}
		out = append(out, types.Location{Name: name, URL: u.String()})
	})
	return out, err
}

// eachLink parses the page and calls fn for every same-host http(s) link
// matched by selector, resolved against the page URL with fragments dropped.
func eachLink(page *types.Page, selector string, fn func(*url.URL, *goquery.Selection)) error {
	if page == nil {
		return fmt.Errorf("page is nil")
	}
	base := page.BaseURL()
	if base == nil {
		return fmt.Errorf("page has no url")
	}
	if len(page.Body) == 0 {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		u.Fragment = ""
		scheme := strings.ToLower(u.Scheme)
		if scheme != "http" && scheme != "https" {
			return
		}
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return
		}
		fn(u, s)
	})
	return nil
}

// excludedFromBase reports whether u points back at the base listing: the
// base URL itself or one of its ?page=N variants.
func excludedFromBase(u *url.URL, base string) bool {
	if base == "" {
		return false
	}
	if types.SameURL(u.String(), base) {
		return true
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return false
	}
	if !strings.EqualFold(u.Hostname(), b.Hostname()) {
		return false
	}
	if strings.TrimRight(u.Path, "/") != strings.TrimRight(b.Path, "/") {
		return false
	}
	return u.Query().Has("page")
}

func selectionText(s *goquery.Selection) string {
	var b strings.Builder
	for _, n := range s.Nodes {
		writeText(&b, n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			writeText(b, child)
		}
	}
}
