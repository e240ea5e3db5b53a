// Package adapter normalizes three structurally different retrieval
// mechanisms (static-HTML scraping, delegated search-engine lookups,
// JSON APIs) into one result shape. Fetch never fails past its
// boundary: every error becomes a typed SourceIssue and the affected
// source simply contributes fewer listings.
package adapter

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/fetch"
	"github.com/dkotenko/vidseek/internal/listing"
)

// Layer dispatches fetches to the strategy selected by each source's
// retrieval mode. It holds the full source registry because delegated
// search resolves hit URLs back to their owning source config.
type Layer struct {
	client   *fetch.Client
	sites    map[string]config.SourceConfig
	settings config.Settings
	delayMax time.Duration

	// Provider endpoints for delegated search. Fixed in production,
	// pointed at local servers in tests.
	googleEndpoint string
	bingEndpoint   string
	ddgEndpoint    string

	// names is the registry in deterministic iteration order.
	names []string
}

// NewLayer builds the adapter layer over an immutable source registry.
func NewLayer(client *fetch.Client, sites map[string]config.SourceConfig, settings config.Settings) *Layer {
	names := make([]string, 0, len(sites))
	for name := range sites {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Layer{
		client:         client,
		sites:          sites,
		settings:       settings,
		delayMax:       settings.ScrapeDelayMax,
		googleEndpoint: "https://www.googleapis.com/customsearch/v1",
		bingEndpoint:   "https://api.bing.microsoft.com/v7.0/search",
		ddgEndpoint:    "https://html.duckduckgo.com/html/",
		names:          names,
	}
}

// Fetch retrieves raw listings for one source. All failures are
// reported as issues; the listing slice may be empty or partial.
func (l *Layer) Fetch(ctx context.Context, src config.SourceConfig, query string, page, maxPages int) ([]listing.RawListing, []listing.SourceIssue) {
	if page < 1 {
		page = 1
	}
	if maxPages < 1 {
		maxPages = 1
	}
	switch src.Mode {
	case listing.ModeScrape:
		return l.scrape(ctx, src, query, page, maxPages)
	case listing.ModeDelegated:
		return l.delegated(ctx, src, query)
	case listing.ModeAPI:
		return l.api(ctx, src, query, page)
	default:
		return nil, []listing.SourceIssue{issue(src, listing.IssueUnsupported,
			"unrecognized retrieval_mode %q", src.Mode)}
	}
}

func issue(src config.SourceConfig, kind listing.IssueKind, format string, args ...any) listing.SourceIssue {
	return listing.SourceIssue{
		Source:  src.Name,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// newPacer returns a rate limiter spacing consecutive requests to one
// site. Each source fetch gets its own pacer so concurrent sources do
// not serialize through a shared token bucket.
func (l *Layer) newPacer() *rate.Limiter {
	if l.delayMax <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(l.delayMax/2), 1)
}

// politeDelay paces the next network request and adds random jitter so
// request timing never forms a burst pattern.
func (l *Layer) politeDelay(ctx context.Context, pace *rate.Limiter) {
	if err := pace.Wait(ctx); err != nil {
		return
	}
	half := int64(l.delayMax / 2)
	if half <= 0 {
		return
	}
	jitter := time.Duration(rand.Int64N(half))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// buildURL substitutes {query} and {page} into a URL template.
func buildURL(template, query string, page int) string {
	u := strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
	return strings.ReplaceAll(u, "{page}", strconv.Itoa(page))
}

// hostOf returns the lowercased host of rawURL without a www prefix.
func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// resolveURL makes href absolute against base.
func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// selText returns the trimmed text of the first match of selector, or
// "" when the selector is empty or matches nothing.
func selText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(s.Find(selector).First().Text())
}

// selAttr returns the trimmed attribute of the first match of selector.
func selAttr(s *goquery.Selection, selector, attr string) string {
	if selector == "" {
		return ""
	}
	v, _ := s.Find(selector).First().Attr(attr)
	return strings.TrimSpace(v)
}
