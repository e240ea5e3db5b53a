package adapter

import (
	"context"
	"net/url"
	"strconv"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

// api queries a source's JSON endpoint and maps response fields onto
// raw listings using the source's dotted field paths. Duration, rating
// and views go through the same raw-string parsers the scrape strategy
// uses, so format stays uniform downstream.
func (l *Layer) api(ctx context.Context, src config.SourceConfig, query string, page int) ([]listing.RawListing, []listing.SourceIssue) {
	var issues []listing.SourceIssue

	if src.APIEndpoint == "" {
		return nil, append(issues, issue(src, listing.IssueConfig, "missing api_endpoint"))
	}
	if (src.APIKeyParam != "" || src.APIKeyHeader != "") && src.APIKey == "" {
		return nil, append(issues, issue(src, listing.IssueQuota, "api key required but not configured"))
	}

	endpoint := buildURL(src.APIEndpoint, query, page)
	var headers map[string]string
	switch {
	case src.APIKeyParam != "":
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, append(issues, issue(src, listing.IssueConfig, "bad api_endpoint: %v", err))
		}
		q := u.Query()
		q.Set(src.APIKeyParam, src.APIKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	case src.APIKeyHeader != "":
		headers = map[string]string{src.APIKeyHeader: src.APIKey}
	}

	var body any
	if err := l.client.GetJSON(ctx, endpoint, headers, &body); err != nil {
		return nil, append(issues, issue(src, listing.IssueNetwork, "fetch %s: %v", endpoint, err))
	}

	items, usedFallback, ok := resultsOf(body, src.Fields.Results)
	if !ok {
		return nil, append(issues, issue(src, listing.IssueParse,
			"no results array found (path %q)", src.Fields.Results))
	}
	if usedFallback {
		issues = append(issues, issue(src, listing.IssueConfig,
			"results path %q did not resolve, used first array of objects instead", src.Fields.Results))
	}

	var out []listing.RawListing
	for i, item := range items {
		obj, isObj := item.(map[string]any)
		if !isObj {
			issues = append(issues, issue(src, listing.IssueParse, "result %d is not an object", i))
			continue
		}

		title := pathString(obj, src.Fields.Title)
		link := pathString(obj, src.Fields.URL)
		if title == "" || link == "" {
			issues = append(issues, issue(src, listing.IssueParse,
				"result %d missing title or url, check field paths", i))
			continue
		}

		out = append(out, listing.RawListing{
			Title:       title,
			URL:         link,
			Thumbnail:   pathString(obj, src.Fields.Thumbnail),
			DurationSec: durationOf(obj, src.Fields.Duration),
			RatingRaw:   pathString(obj, src.Fields.Rating),
			ViewsRaw:    pathString(obj, src.Fields.Views),
			Author:      pathString(obj, src.Fields.Author),
			Source:      src.Name,
			Mode:        listing.ModeAPI,
		})
	}
	return out, issues
}

// resultsOf locates the results array: the configured path when it
// resolves to an array of objects, otherwise the first array-of-objects
// in the document. The second return reports whether the fallback ran.
func resultsOf(body any, path string) ([]any, bool, bool) {
	if path != "" {
		if v, ok := lookupPath(body, path); ok {
			if arr, ok := objectArray(v); ok {
				return arr, false, true
			}
		}
	}
	arr, ok := firstObjectArray(body)
	return arr, ok, ok
}

// durationOf reads a duration field that may be a bare number of
// seconds or a formatted string like "10:30".
func durationOf(obj map[string]any, path string) int {
	if path == "" {
		return 0
	}
	if v, ok := lookupPath(obj, path); ok {
		if n, isNum := v.(float64); isNum && n > 0 {
			return int(n)
		}
	}
	if s := pathString(obj, path); s != "" {
		d := listing.ParseDuration(s)
		if d > 0 {
			return d
		}
		// A numeric string is seconds already.
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
