package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycrawler/internal/config"
	"citycrawler/pkg/types"
)

func pageAt(t *testing.T, rawURL, body string) *types.Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &types.Page{URL: u, FinalURL: u, Body: []byte(body)}
}

const rootHTML = `<html><body>
<nav><a href="https://example.com/cities">All cities</a></nav>
<a href="/cities/">Cities again</a>
<a href="/cities/berlin">Berlin</a>
<a href="/cities/hamburg#top">Hamburg</a>
<a href="https://other.org/cities/paris">Paris</a>
<a href="/about">About</a>
<a href="/cities/?page=2">Next</a>
<a href="mailto:hello@example.com">Mail</a>
</body></html>`

func TestCityLinksExcludesSelfLinks(t *testing.T) {
	ex, err := NewCityLinks(config.ExtractConfig{})
	require.NoError(t, err)

	base := "https://example.com/cities"
	got, err := ex.Extract(pageAt(t, base+"/?page=1", rootHTML), base)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/cities/berlin",
		"https://example.com/cities/hamburg",
		"https://example.com/about",
	}, got)
	assert.NotContains(t, got, base)
}

func TestCityLinksPathPattern(t *testing.T) {
	ex, err := NewCityLinks(config.ExtractConfig{CityPathPattern: `^/cities/[^/]+$`})
	require.NoError(t, err)

	got, err := ex.Extract(pageAt(t, "https://example.com/cities/?page=1", rootHTML), "https://example.com/cities")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/cities/berlin",
		"https://example.com/cities/hamburg",
	}, got)
}

func TestCityLinksDropQueryStrings(t *testing.T) {
	ex, err := NewCityLinks(config.ExtractConfig{})
	require.NoError(t, err)

	body := `<a href="/cities/berlin?ref=nav">Berlin</a><a href="/cities/hamburg/?">Hamburg</a>`
	base := "https://example.com/cities"
	got, err := ex.Extract(pageAt(t, base+"/?page=1", body), base)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/cities/berlin",
		"https://example.com/cities/hamburg/",
	}, got)

	next := types.PageRequest{BaseURL: got[0], Index: 2}.URL()
	assert.Equal(t, "https://example.com/cities/berlin/?page=2", next)
}

func TestNewCityLinksRejectsBadPattern(t *testing.T) {
	_, err := NewCityLinks(config.ExtractConfig{CityPathPattern: "(["})
	require.Error(t, err)
}

const cityHTML = `<html><body>
<ul>
  <li><a href="/locations/alexanderplatz">  Alexander
      platz </a></li>
  <li><a href="/locations/tiergarten"><span>Tiergarten</span><script>x()</script></a></li>
  <li><a href="/locations/empty">   </a></li>
  <li><a href="/events/fair">Fair</a></li>
</ul>
<a href="/cities/berlin/?page=2">2</a>
</body></html>`

func TestLocationsRequiresLabelAndPrefix(t *testing.T) {
	ex := NewLocations(config.ExtractConfig{LocationPathPrefix: "/locations/"})

	base := "https://example.com/cities/berlin"
	got, err := ex.Extract(pageAt(t, base+"/?page=1", cityHTML), base)
	require.NoError(t, err)

	assert.Equal(t, []types.Location{
		{Name: "Alexander platz", URL: "https://example.com/locations/alexanderplatz"},
		{Name: "Tiergarten", URL: "https://example.com/locations/tiergarten"},
	}, got)
}

func TestLocationsWithoutPrefixSkipsPagination(t *testing.T) {
	ex := NewLocations(config.ExtractConfig{})

	base := "https://example.com/cities/berlin"
	got, err := ex.Extract(pageAt(t, base+"/?page=1", cityHTML), base)
	require.NoError(t, err)

	names := make([]string, 0, len(got))
	for _, loc := range got {
		names = append(names, loc.Name)
	}
	assert.Equal(t, []string{"Alexander platz", "Tiergarten", "Fair"}, names)
}

func TestEmptyBodyYieldsNothing(t *testing.T) {
	ex := NewLocations(config.ExtractConfig{})
	got, err := ex.Extract(pageAt(t, "https://example.com/x", ""), "https://example.com/x")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFuncAdapter(t *testing.T) {
	var ex Extractor[int] = Func[int](func(*types.Page, string) ([]int, error) {
		return []int{1, 2}, nil
	})
	got, err := ex.Extract(nil, "")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}
