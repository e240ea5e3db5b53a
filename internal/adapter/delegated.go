package adapter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

// providerHit is one result from an external search provider.
type providerHit struct {
	Title     string
	URL       string
	Snippet   string
	Thumbnail string
}

// delegated runs a site-restricted query against the source's search
// provider and maps hits back onto configured sources. Hits whose
// owner is confirmed get one extra fetch of the hit page to backfill
// duration/rating/views/author from the owner's selectors; everything
// else keeps provider-supplied title and snippet only.
func (l *Layer) delegated(ctx context.Context, src config.SourceConfig, query string) ([]listing.RawListing, []listing.SourceIssue) {
	domain, err := hostOf(src.BaseURL)
	if err != nil {
		return nil, []listing.SourceIssue{issue(src, listing.IssueConfig, "bad base_url: %v", err)}
	}
	term := fmt.Sprintf("site:%s %s", domain, query)
	pace := l.newPacer()

	var hits []providerHit
	provider := src.Provider
	if provider == "" {
		provider = "ddg"
	}
	switch provider {
	case "google":
		if l.settings.GoogleAPIKey == "" || l.settings.GoogleSearchEngineID == "" {
			return nil, []listing.SourceIssue{issue(src, listing.IssueQuota,
				"google provider requires google_api_key and google_search_engine_id")}
		}
		hits, err = l.googleSearch(ctx, term)
	case "bing":
		if l.settings.BingAPIKey == "" {
			return nil, []listing.SourceIssue{issue(src, listing.IssueQuota,
				"bing provider requires bing_api_key")}
		}
		hits, err = l.bingSearch(ctx, term)
	case "ddg":
		hits, err = l.ddgSearch(ctx, term, pace)
	default:
		return nil, []listing.SourceIssue{issue(src, listing.IssueConfig,
			"unknown search provider %q", provider)}
	}
	if err != nil {
		return nil, []listing.SourceIssue{issue(src, listing.IssueNetwork,
			"%s search: %v", provider, err)}
	}

	var out []listing.RawListing
	var issues []listing.SourceIssue
	for _, hit := range hits {
		if hit.Title == "" || hit.URL == "" {
			continue
		}
		rl := listing.RawListing{
			Title:     hit.Title,
			URL:       hit.URL,
			Snippet:   hit.Snippet,
			Thumbnail: hit.Thumbnail,
			Source:    src.Name,
			Mode:      listing.ModeDelegated,
		}
		if owner, ok := l.resolveOwner(hit.URL); ok && hasDetailSelectors(owner.Selectors) {
			l.enrichFromOwner(ctx, owner, &rl, pace)
		}
		out = append(out, rl)
	}
	if len(hits) == 0 {
		slog.Debug("delegated search returned no hits",
			slog.String("source", src.Name), slog.String("provider", provider))
	}
	return out, issues
}

// hasDetailSelectors reports whether an extended-detail pass has any
// selectors to work with.
func hasDetailSelectors(s config.Selectors) bool {
	return s.Duration != "" || s.Rating != "" || s.Views != "" || s.Author != ""
}

// resolveOwner maps a hit URL to the configured source that owns its
// domain. A candidate must share the hit's registrable domain
// (necessary), and its base host must match the hit host on label
// boundaries (the confirmation check). The longest base host wins;
// ties resolve to the lexicographically smallest source name.
func (l *Layer) resolveOwner(rawURL string) (config.SourceConfig, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return config.SourceConfig{}, false
	}
	hitHost := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	hitRoot := registrableDomain(hitHost)

	var best config.SourceConfig
	bestLen := -1
	for _, name := range l.names {
		site := l.sites[name]
		siteHost, err := hostOf(site.BaseURL)
		if err != nil {
			continue
		}
		if registrableDomain(siteHost) != hitRoot {
			continue
		}
		if hitHost != siteHost &&
			!strings.HasSuffix(hitHost, "."+siteHost) &&
			!strings.HasSuffix(siteHost, "."+hitHost) {
			continue
		}
		if len(siteHost) > bestLen {
			best = site
			bestLen = len(siteHost)
		}
	}
	return best, bestLen >= 0
}

// registrableDomain returns the eTLD+1 of host, falling back to the
// host itself for names the public suffix list cannot split.
func registrableDomain(host string) string {
	root, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return root
}

// enrichFromOwner fetches the hit page once and backfills extended
// fields using the owner's selectors. Failures degrade to the
// provider-supplied fields without raising an issue.
func (l *Layer) enrichFromOwner(ctx context.Context, owner config.SourceConfig, rl *listing.RawListing, pace *rate.Limiter) {
	l.politeDelay(ctx, pace)

	body, err := l.client.GetHTML(ctx, rl.URL)
	if err != nil {
		slog.Debug("detail fetch failed, keeping provider fields",
			slog.String("url", rl.URL), slog.Any("error", err))
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		slog.Debug("detail parse failed, keeping provider fields",
			slog.String("url", rl.URL), slog.Any("error", err))
		return
	}

	sel := owner.Selectors
	root := doc.Selection
	if d := listing.ParseDuration(selText(root, sel.Duration)); d > 0 {
		rl.DurationSec = d
	}
	if r := selText(root, sel.Rating); r != "" {
		rl.RatingRaw = r
	}
	if v := selText(root, sel.Views); v != "" {
		rl.ViewsRaw = v
	}
	if a := selText(root, sel.Author); a != "" {
		rl.Author = a
	}
}
