package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

func listingPage(titles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div class="results">`)
		for i, title := range titles {
			fmt.Fprintf(w, `<div class="item"><h3 class="title"><a href="/watch/%d">%s</a></h3></div>`, i, title)
		}
		fmt.Fprint(w, `</div></body></html>`)
	}
}

func scrapeConfig(name, baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Name:              name,
		BaseURL:           baseURL,
		Mode:              listing.ModeScrape,
		SearchURLTemplate: baseURL + "/search?q={query}",
		Selectors: config.Selectors{
			Container: ".results",
			Item:      ".item",
			Title:     ".title a",
			URL:       ".title a",
		},
	}
}

func testSettings() config.Settings {
	s := config.DefaultSettings()
	s.ScrapeDelayMax = 0
	s.CheckLinks = false
	return s
}

func newTestService(t *testing.T, sites map[string]config.SourceConfig, settings config.Settings) *Service {
	t.Helper()
	svc := New(sites, settings)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestSearchValidation(t *testing.T) {
	svc := newTestService(t, nil, testSettings())
	ctx := context.Background()

	_, err := svc.Search(ctx, Request{Query: "   ", Sources: []string{"a"}})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Search(ctx, Request{Query: "pasta"})
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestSearchWithZeroValueSettings(t *testing.T) {
	srv := httptest.NewServer(listingPage("Pasta Night", "Pasta Day"))
	defer srv.Close()

	sites := map[string]config.SourceConfig{"site": scrapeConfig("site", srv.URL)}

	// An entirely unpopulated Settings must fall back to usable
	// defaults: no instant source timeouts, no zero page size.
	svc := newTestService(t, sites, config.Settings{})

	bundle, err := svc.Search(context.Background(), Request{Query: "pasta", Sources: []string{"site"}})
	require.NoError(t, err)

	assert.Len(t, bundle.ValidListings, 2)
	assert.Empty(t, bundle.Diagnostics.Issues)
	assert.Equal(t, 1, bundle.Pagination.TotalPages)
	assert.Positive(t, bundle.Pagination.ResultsPerPage)
}

func TestSearchAggregatesAcrossSources(t *testing.T) {
	good1 := httptest.NewServer(listingPage("Pasta Carbonara Tutorial", "Quick Pasta Tips"))
	defer good1.Close()
	good2 := httptest.NewServer(listingPage("Fresh Pasta From Scratch"))
	defer good2.Close()
	dead1 := httptest.NewServer(http.NotFoundHandler())
	defer dead1.Close()
	dead2 := httptest.NewServer(http.NotFoundHandler())
	defer dead2.Close()

	sites := map[string]config.SourceConfig{
		"good1": scrapeConfig("good1", good1.URL),
		"good2": scrapeConfig("good2", good2.URL),
		"dead1": scrapeConfig("dead1", dead1.URL),
		"dead2": scrapeConfig("dead2", dead2.URL),
	}
	svc := newTestService(t, sites, testSettings())

	bundle, err := svc.Search(context.Background(), Request{
		Query:   "pasta",
		Sources: []string{"good1", "good2", "dead1", "dead2", "ghost"},
		Options: Options{MaxPagesPerSite: 1},
	})
	require.NoError(t, err)

	// The failing and unknown sources degrade to issues, never errors.
	assert.Len(t, bundle.ValidListings, 3)
	assert.Equal(t, 3, bundle.Diagnostics.RawCount)

	kinds := map[listing.IssueKind]int{}
	for _, iss := range bundle.Diagnostics.Issues {
		kinds[iss.Kind]++
	}
	assert.Equal(t, 2, kinds[listing.IssueNetwork], "each dead source should report a network issue")
	assert.Equal(t, 1, kinds[listing.IssueConfig], "unknown source should report a config issue")

	assert.NotEmpty(t, bundle.Diagnostics.RequestID)
	assert.False(t, bundle.Diagnostics.ServedFromCache)

	// Scores are populated and ordered.
	for i := 1; i < len(bundle.ValidListings); i++ {
		assert.GreaterOrEqual(t,
			bundle.ValidListings[i-1].FinalScore,
			bundle.ValidListings[i].FinalScore)
	}
}

func TestSearchCaching(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		listingPage("Pasta Video")(w, r)
	}))
	defer srv.Close()

	sites := map[string]config.SourceConfig{"site": scrapeConfig("site", srv.URL)}
	svc := newTestService(t, sites, testSettings())
	ctx := context.Background()

	req := Request{Query: "pasta", Sources: []string{"site"}, Options: Options{UseCache: true}}

	first, err := svc.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Diagnostics.ServedFromCache)

	second, err := svc.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Diagnostics.ServedFromCache)
	assert.Equal(t, int32(1), requests.Load(), "cached request must not refetch")
	assert.Equal(t, first.ValidListings, second.ValidListings)

	// Bypassing the cache refetches but still refreshes the record.
	req.Options.UseCache = false
	third, err := svc.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Diagnostics.ServedFromCache)
	assert.Equal(t, int32(2), requests.Load())

	stats := svc.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)

	svc.CacheClear(ctx, "", nil)
	fourth, err := svc.Search(ctx, Request{Query: "pasta", Sources: []string{"site"}, Options: Options{UseCache: true}})
	require.NoError(t, err)
	assert.False(t, fourth.Diagnostics.ServedFromCache)
}

func TestSearchPagination(t *testing.T) {
	srv := httptest.NewServer(listingPage(
		"Alpha Result", "Bravo Result", "Charlie Result", "Delta Result", "Echo Result"))
	defer srv.Close()

	settings := testSettings()
	settings.ResultsPerPage = 2

	sites := map[string]config.SourceConfig{"site": scrapeConfig("site", srv.URL)}
	svc := newTestService(t, sites, settings)
	ctx := context.Background()

	page1, err := svc.Search(ctx, Request{Query: "result", Sources: []string{"site"}})
	require.NoError(t, err)
	assert.Len(t, page1.ValidListings, 2)
	assert.Equal(t, 3, page1.Pagination.TotalPages)
	assert.Equal(t, 5, page1.Pagination.TotalValidResults)

	page3, err := svc.Search(ctx, Request{Query: "result", Sources: []string{"site"}, Page: 3})
	require.NoError(t, err)
	assert.Len(t, page3.ValidListings, 1)
	assert.Equal(t, 3, page3.Pagination.CurrentPage)

	// Past the end: empty window, requested page preserved.
	page9, err := svc.Search(ctx, Request{Query: "result", Sources: []string{"site"}, Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page9.ValidListings)
	assert.Equal(t, 9, page9.Pagination.CurrentPage)
	assert.Equal(t, 3, page9.Pagination.TotalPages)
}

func TestSearchLinkChecking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/watch/0":
			w.WriteHeader(http.StatusOK)
		case "/watch/1":
			w.WriteHeader(http.StatusNotFound)
		default:
			listingPage("Working Video", "Removed Video")(w, r)
		}
	}))
	defer srv.Close()

	settings := testSettings()
	sites := map[string]config.SourceConfig{"site": scrapeConfig("site", srv.URL)}
	svc := newTestService(t, sites, settings)

	bundle, err := svc.Search(context.Background(), Request{
		Query:   "video",
		Sources: []string{"site"},
		Options: Options{CheckLinks: true},
	})
	require.NoError(t, err)

	require.Len(t, bundle.ValidListings, 1)
	assert.Equal(t, "Working Video", bundle.ValidListings[0].Title)
	require.Len(t, bundle.BrokenListings, 1)
	assert.Equal(t, "Removed Video", bundle.BrokenListings[0].Title)
	assert.Equal(t, 1, bundle.Pagination.TotalValidResults)
}

func TestSearchEmptyOutcomeIsNotAnError(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	defer dead.Close()

	sites := map[string]config.SourceConfig{"dead": scrapeConfig("dead", dead.URL)}
	svc := newTestService(t, sites, testSettings())

	bundle, err := svc.Search(context.Background(), Request{Query: "anything", Sources: []string{"dead"}})
	require.NoError(t, err)
	assert.Empty(t, bundle.ValidListings)
	assert.NotEmpty(t, bundle.Diagnostics.Issues)
	assert.Equal(t, 1, bundle.Pagination.TotalPages)
}
