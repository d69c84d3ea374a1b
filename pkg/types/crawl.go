package types

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PageRequest addresses one numbered page of a paginated listing.
type PageRequest struct {
	BaseURL string
	Index   int
}

// URL renders the request as base/?page=N with a single slash before the
// query. Any query the base already carries is kept and its page is replaced.
func (r PageRequest) URL() string {
	raw := strings.TrimSpace(r.BaseURL)
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/") + "/?page=" + strconv.Itoa(r.Index)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawPath = ""
	u.Fragment = ""
	q := u.Query()
	q.Set("page", strconv.Itoa(r.Index))
	u.RawQuery = q.Encode()
	return u.String()
}

// Page represents a fetched (and possibly rendered) document.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	ContentType     string
	StatusCode      int
	FetchedAt       time.Time
	Rendered        bool
	ResponseLatency time.Duration
}

// BaseURL returns the URL relative links on the page resolve against.
func (p *Page) BaseURL() *url.URL {
	if p == nil {
		return nil
	}
	if p.FinalURL != nil {
		return p.FinalURL
	}
	return p.URL
}

// Location is a leaf item collected from a city's listing pages.
type Location struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ChildKey returns the last non-empty path segment of rawURL. Query strings
// and fragments are ignored. It returns "" when no segment exists.
func ChildKey(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	} else if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if seg := strings.TrimSpace(segments[i]); seg != "" {
			return seg
		}
	}
	return ""
}

// SameURL reports whether a and b address the same resource, ignoring
// trailing slashes, fragments, and scheme/host case.
func SameURL(a, b string) bool {
	return normaliseForCompare(a) == normaliseForCompare(b)
}

func normaliseForCompare(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
