package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/fetch"
	"github.com/dkotenko/vidseek/internal/listing"
)

func newTestLayer(sites map[string]config.SourceConfig) *Layer {
	settings := config.DefaultSettings()
	settings.ScrapeDelayMax = 0 // no pacing in tests
	return NewLayer(fetch.New(2*time.Second), sites, settings)
}

const scrapePage = `<html><body>
<div class="results">
  <div class="item">
    <h3 class="title"><a href="/watch/1">First Clip</a></h3>
    <span class="dur">10:30</span>
    <span class="rate">85%</span>
    <span class="vw">1.2M views</span>
    <span class="who">alice</span>
    <img class="thumb" src="/t/1.jpg">
  </div>
  <div class="item">
    <h3 class="title"><a href="/watch/2">Second Clip</a></h3>
    <span class="dur">5m 30s</span>
  </div>
  <div class="item">
    <h3 class="title"><a href="/watch/3"></a></h3>
  </div>
</div>
</body></html>`

func scrapeSource(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Name:              "testsite",
		BaseURL:           baseURL,
		Mode:              listing.ModeScrape,
		SearchURLTemplate: baseURL + "/search?q={query}&page={page}",
		Selectors: config.Selectors{
			Container: ".results",
			Item:      ".item",
			Title:     ".title a",
			URL:       ".title a",
			Duration:  ".dur",
			Rating:    ".rate",
			Views:     ".vw",
			Author:    ".who",
			Thumbnail: "img.thumb",
		},
	}
}

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, scrapePage)
	}))
	defer srv.Close()

	src := scrapeSource(srv.URL)
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(got) != 2 {
		t.Fatalf("got %d listings, want 2", len(got))
	}
	first := got[0]
	if first.Title != "First Clip" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.URL != srv.URL+"/watch/1" {
		t.Errorf("URL = %q, want absolute", first.URL)
	}
	if first.DurationSec != 630 {
		t.Errorf("DurationSec = %d, want 630", first.DurationSec)
	}
	if first.RatingRaw != "85%" || first.ViewsRaw != "1.2M views" || first.Author != "alice" {
		t.Errorf("raw fields = %q/%q/%q", first.RatingRaw, first.ViewsRaw, first.Author)
	}
	if first.Thumbnail != srv.URL+"/t/1.jpg" {
		t.Errorf("Thumbnail = %q", first.Thumbnail)
	}
	if got[1].DurationSec != 330 {
		t.Errorf("second DurationSec = %d, want 330", got[1].DurationSec)
	}

	// The third item has an empty title: one parse issue.
	if len(issues) != 1 || issues[0].Kind != listing.IssueParse {
		t.Fatalf("issues = %+v, want one parse issue", issues)
	}
}

func TestScrapePagination(t *testing.T) {
	t.Run("next link drives page numbers", func(t *testing.T) {
		var mu sync.Mutex
		var pagesServed []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			page := r.URL.Query().Get("page")
			mu.Lock()
			pagesServed = append(pagesServed, page)
			mu.Unlock()
			fmt.Fprintf(w, `<html><body><div class="results">
				<div class="item"><h3 class="title"><a href="/watch/p%s">Page %s Clip</a></h3></div>
			</div><a class="next" href="/search?q=clip&page=2">next</a></body></html>`, page, page)
		}))
		defer srv.Close()

		src := scrapeSource(srv.URL)
		src.Selectors.NextPage = "a.next"
		l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

		got, issues := l.Fetch(context.Background(), src, "clip", 1, 2)

		if len(issues) != 0 {
			t.Fatalf("issues = %+v", issues)
		}
		if len(got) != 2 {
			t.Fatalf("got %d listings, want 2", len(got))
		}
		mu.Lock()
		defer mu.Unlock()
		if len(pagesServed) != 2 || pagesServed[0] != "1" || pagesServed[1] != "2" {
			t.Fatalf("pages served = %v", pagesServed)
		}
	})

	t.Run("pagination stops when the next link disappears", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := requests.Add(1)
			next := ""
			if n == 1 {
				next = `<a class="next" href="/search?q=clip&cursor=abc">next</a>`
			}
			fmt.Fprintf(w, `<html><body><div class="results">
				<div class="item"><h3 class="title"><a href="/watch/%d">Clip %d</a></h3></div>
			</div>%s</body></html>`, n, n, next)
		}))
		defer srv.Close()

		src := scrapeSource(srv.URL)
		// Cursor-style site: no {page} slot, the link is the only way on.
		src.SearchURLTemplate = srv.URL + "/search?q={query}"
		src.Selectors.NextPage = "a.next"
		l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

		got, issues := l.Fetch(context.Background(), src, "clip", 1, 5)

		if len(issues) != 0 {
			t.Fatalf("issues = %+v", issues)
		}
		if len(got) != 2 || requests.Load() != 2 {
			t.Fatalf("got %d listings over %d requests, want 2/2", len(got), requests.Load())
		}
	})
}

func TestScrapeWithoutNextSelectorStopsAfterOnePage(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, scrapePage)
	}))
	defer srv.Close()

	src := scrapeSource(srv.URL) // no NextPage selector
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	l.Fetch(context.Background(), src, "clip", 1, 5)

	if requests.Load() != 1 {
		t.Fatalf("server saw %d requests, want 1", requests.Load())
	}
}

func TestScrapeIssues(t *testing.T) {
	t.Run("missing container is a parse issue", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html><body><p>nothing here</p></body></html>")
		}))
		defer srv.Close()

		src := scrapeSource(srv.URL)
		l := newTestLayer(map[string]config.SourceConfig{src.Name: src})
		got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

		if len(got) != 0 {
			t.Fatalf("got %d listings, want 0", len(got))
		}
		if len(issues) != 1 || issues[0].Kind != listing.IssueParse {
			t.Fatalf("issues = %+v, want one parse issue", issues)
		}
	})

	t.Run("http error is a network issue", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		src := scrapeSource(srv.URL)
		l := newTestLayer(map[string]config.SourceConfig{src.Name: src})
		_, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

		if len(issues) != 1 || issues[0].Kind != listing.IssueNetwork {
			t.Fatalf("issues = %+v, want one network issue", issues)
		}
	})

	t.Run("missing template is a config issue", func(t *testing.T) {
		src := scrapeSource("https://example.com")
		src.SearchURLTemplate = ""
		l := newTestLayer(map[string]config.SourceConfig{src.Name: src})
		_, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

		if len(issues) != 1 || issues[0].Kind != listing.IssueConfig {
			t.Fatalf("issues = %+v, want one config issue", issues)
		}
	})
}

func TestAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"items":[
			{"snippet":{"title":"API Clip"},"link":"https://api.example.net/v/1",
			 "details":{"duration":630},"stats":{"views":"1.2M","rating":4.5}},
			{"snippet":{"title":""},"link":"https://api.example.net/v/2"}
		]}}`)
	}))
	defer srv.Close()

	src := config.SourceConfig{
		Name:        "apisite",
		BaseURL:     "https://api.example.net",
		Mode:        listing.ModeAPI,
		APIEndpoint: srv.URL + "/v1/search?q={query}&page={page}",
		APIKey:      "secret",
		APIKeyParam: "key",
		Fields: config.FieldPaths{
			Results:  "data.items",
			Title:    "snippet.title",
			URL:      "link",
			Duration: "details.duration",
			Rating:   "stats.rating",
			Views:    "stats.views",
		},
	}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1 (empty-title item skipped)", len(got))
	}
	first := got[0]
	if first.Title != "API Clip" || first.URL != "https://api.example.net/v/1" {
		t.Errorf("listing = %+v", first)
	}
	if first.DurationSec != 630 {
		t.Errorf("DurationSec = %d, want 630", first.DurationSec)
	}
	if first.RatingRaw != "4.5" || first.ViewsRaw != "1.2M" {
		t.Errorf("raw fields = %q/%q", first.RatingRaw, first.ViewsRaw)
	}
	if first.Mode != listing.ModeAPI {
		t.Errorf("Mode = %q", first.Mode)
	}
	if len(issues) != 1 || issues[0].Kind != listing.IssueParse {
		t.Fatalf("issues = %+v, want one parse issue for the empty title", issues)
	}
}

func TestAPIResultsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hits":[{"title":"Found Anyway","url":"https://x.example/1"}]}`)
	}))
	defer srv.Close()

	src := config.SourceConfig{
		Name:        "apisite",
		BaseURL:     "https://x.example",
		Mode:        listing.ModeAPI,
		APIEndpoint: srv.URL + "/search?q={query}",
		Fields: config.FieldPaths{
			Results: "data.items", // wrong on purpose
			Title:   "title",
			URL:     "url",
		},
	}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(got) != 1 || got[0].Title != "Found Anyway" {
		t.Fatalf("got = %+v, want the fallback-located listing", got)
	}
	if len(issues) != 1 || issues[0].Kind != listing.IssueConfig {
		t.Fatalf("issues = %+v, want a config issue about the results path", issues)
	}
}

func TestAPIMissingKey(t *testing.T) {
	src := config.SourceConfig{
		Name:        "apisite",
		BaseURL:     "https://x.example",
		Mode:        listing.ModeAPI,
		APIEndpoint: "https://x.example/search?q={query}",
		APIKeyParam: "key", // key required but not set
		Fields:      config.FieldPaths{Title: "title", URL: "url"},
	}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(got) != 0 {
		t.Fatalf("got %d listings, want 0", len(got))
	}
	if len(issues) != 1 || issues[0].Kind != listing.IssueQuota {
		t.Fatalf("issues = %+v, want one quota issue", issues)
	}
}

func TestUnsupportedMode(t *testing.T) {
	src := config.SourceConfig{Name: "odd", BaseURL: "https://x.example", Mode: "telepathy"}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	_, issues := l.Fetch(context.Background(), src, "clip", 1, 1)
	if len(issues) != 1 || issues[0].Kind != listing.IssueUnsupported {
		t.Fatalf("issues = %+v, want one unsupported issue", issues)
	}
}

func TestDelegatedSearch(t *testing.T) {
	const detailPage = `<html><body>
	<span class="duration">10:30</span>
	<span class="rating">92%</span>
	<span class="views">3.4M views</span>
	<span class="uploader">bob</span>
	</body></html>`

	owner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v/1" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, detailPage)
	}))
	defer owner.Close()

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>
		<div class="result">
		  <a class="result__a" href="%s/v/1">Enriched Clip</a>
		  <div class="result__snippet">first snippet</div>
		</div>
		<div class="result">
		  <a class="result__a" href="%s/v/gone">Bare Clip</a>
		  <div class="result__snippet">second snippet</div>
		</div>
		</body></html>`, owner.URL, owner.URL)
	}))
	defer provider.Close()

	src := config.SourceConfig{
		Name:    "delsite",
		BaseURL: owner.URL,
		Mode:    listing.ModeDelegated,
		Selectors: config.Selectors{
			Duration: ".duration",
			Rating:   ".rating",
			Views:    ".views",
			Author:   ".uploader",
		},
	}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})
	l.ddgEndpoint = provider.URL

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(issues) != 0 {
		t.Fatalf("issues = %+v", issues)
	}
	if len(got) != 2 {
		t.Fatalf("got %d listings, want 2", len(got))
	}

	enriched := got[0]
	if enriched.Title != "Enriched Clip" || enriched.Snippet != "first snippet" {
		t.Errorf("provider fields = %q/%q", enriched.Title, enriched.Snippet)
	}
	if enriched.Source != "delsite" || enriched.Mode != listing.ModeDelegated {
		t.Errorf("listing = %+v", enriched)
	}
	if enriched.DurationSec != 630 || enriched.RatingRaw != "92%" ||
		enriched.ViewsRaw != "3.4M views" || enriched.Author != "bob" {
		t.Errorf("detail fields = %d/%q/%q/%q, want backfill from the owner page",
			enriched.DurationSec, enriched.RatingRaw, enriched.ViewsRaw, enriched.Author)
	}

	// The second hit's detail page 404s: the listing keeps its
	// provider-supplied fields and no issue is raised.
	bare := got[1]
	if bare.Title != "Bare Clip" || bare.Snippet != "second snippet" {
		t.Errorf("provider fields = %q/%q", bare.Title, bare.Snippet)
	}
	if bare.DurationSec != 0 || bare.RatingRaw != "" || bare.ViewsRaw != "" || bare.Author != "" {
		t.Errorf("failed detail fetch must not alter the listing: %+v", bare)
	}
}

func TestDelegatedGoogleProvider(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("cx") != "cx1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[
			{"title":"CSE Clip","link":"https://clips.example.org/v/1",
			 "snippet":"from cse",
			 "pagemap":{"cse_thumbnail":[{"src":"https://clips.example.org/t/1.jpg"}]}}
		]}`)
	}))
	defer api.Close()

	src := config.SourceConfig{
		Name:     "delsite",
		BaseURL:  "https://clips.example.org",
		Mode:     listing.ModeDelegated,
		Provider: "google",
	}
	settings := config.DefaultSettings()
	settings.ScrapeDelayMax = 0
	settings.GoogleAPIKey = "k"
	settings.GoogleSearchEngineID = "cx1"
	l := NewLayer(fetch.New(2*time.Second), map[string]config.SourceConfig{src.Name: src}, settings)
	l.googleEndpoint = api.URL

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)

	if len(issues) != 0 {
		t.Fatalf("issues = %+v", issues)
	}
	if len(got) != 1 {
		t.Fatalf("got %d listings, want 1", len(got))
	}
	hit := got[0]
	if hit.Title != "CSE Clip" || hit.Snippet != "from cse" ||
		hit.Thumbnail != "https://clips.example.org/t/1.jpg" {
		t.Errorf("listing = %+v", hit)
	}
}

func TestDelegatedMissingCredentials(t *testing.T) {
	src := config.SourceConfig{
		Name:     "delsite",
		BaseURL:  "https://clips.example.org",
		Mode:     listing.ModeDelegated,
		Provider: "google",
	}
	l := newTestLayer(map[string]config.SourceConfig{src.Name: src})

	got, issues := l.Fetch(context.Background(), src, "clip", 1, 1)
	if len(got) != 0 {
		t.Fatalf("got %d listings, want 0", len(got))
	}
	if len(issues) != 1 || issues[0].Kind != listing.IssueQuota {
		t.Fatalf("issues = %+v, want one quota issue", issues)
	}
}

func TestPacerIsPerFetch(t *testing.T) {
	settings := config.DefaultSettings()
	settings.ScrapeDelayMax = time.Minute
	l := NewLayer(fetch.New(2*time.Second), nil, settings)

	a := l.newPacer()
	b := l.newPacer()
	if !a.Allow() {
		t.Fatal("a fresh pacer must allow its first request immediately")
	}
	if !b.Allow() {
		t.Fatal("pacers must not share a token bucket across sources")
	}
	if a.Allow() {
		t.Fatal("a pacer must space consecutive requests to the same source")
	}
}

func TestPoliteDelayTinyBound(t *testing.T) {
	// A sub-2ns delay ceiling leaves no room for jitter; the delay
	// must degrade to zero rather than panic.
	settings := config.DefaultSettings()
	settings.ScrapeDelayMax = time.Nanosecond
	l := NewLayer(fetch.New(2*time.Second), nil, settings)

	l.politeDelay(context.Background(), l.newPacer())
}

func TestResolveOwner(t *testing.T) {
	sites := map[string]config.SourceConfig{
		"root":   {Name: "root", BaseURL: "https://example.com"},
		"videos": {Name: "videos", BaseURL: "https://videos.example.com"},
		"other":  {Name: "other", BaseURL: "https://other.example"},
	}
	l := newTestLayer(sites)

	t.Run("longest matching host wins", func(t *testing.T) {
		owner, ok := l.resolveOwner("https://videos.example.com/watch/1")
		if !ok || owner.Name != "videos" {
			t.Fatalf("owner = %+v, %v; want videos", owner, ok)
		}
	})

	t.Run("parent domain still matches", func(t *testing.T) {
		owner, ok := l.resolveOwner("https://www.example.com/watch/1")
		if !ok || owner.Name != "root" {
			t.Fatalf("owner = %+v, %v; want root", owner, ok)
		}
	})

	t.Run("unrelated host has no owner", func(t *testing.T) {
		if _, ok := l.resolveOwner("https://elsewhere.net/x"); ok {
			t.Fatal("unrelated host should not resolve")
		}
	})

	t.Run("lookalike domain is rejected", func(t *testing.T) {
		// Shares a suffix as a string but not on a label boundary.
		if owner, ok := l.resolveOwner("https://notexample.com/x"); ok {
			t.Fatalf("lookalike resolved to %s", owner.Name)
		}
	})
}

func TestParseDDGHTML(t *testing.T) {
	html := `<html><body>
	<div class="result">
	  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fclips.example.org%2Fv%2F1&rut=abc">Wrapped Clip</a>
	  <div class="result__snippet">a wrapped redirect result</div>
	</div>
	<div class="result">
	  <a class="result__a" href="https://clips.example.org/v/2">Plain Clip</a>
	</div>
	<div class="result">
	  <a class="result__a" href="javascript:void(0)">Junk</a>
	</div>
	</body></html>`

	hits, err := parseDDGHTML([]byte(html))
	if err != nil {
		t.Fatalf("parseDDGHTML: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].URL != "https://clips.example.org/v/1" {
		t.Errorf("unwrapped URL = %q", hits[0].URL)
	}
	if hits[0].Snippet != "a wrapped redirect result" {
		t.Errorf("snippet = %q", hits[0].Snippet)
	}
	if hits[1].URL != "https://clips.example.org/v/2" {
		t.Errorf("plain URL = %q", hits[1].URL)
	}
}

func TestBuildURL(t *testing.T) {
	got := buildURL("https://x.example/s?q={query}&p={page}", "two words", 3)
	want := "https://x.example/s?q=two+words&p=3"
	if got != want {
		t.Fatalf("buildURL = %q, want %q", got, want)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Example.COM/path", "example.com"},
		{"https://videos.example.com", "videos.example.com"},
	}
	for _, tt := range tests {
		got, err := hostOf(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("hostOf(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := hostOf("not a url at all\x7f"); err == nil {
		t.Error("expected an error for a hostless string")
	}
}
