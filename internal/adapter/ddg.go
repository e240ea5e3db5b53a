package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/dkotenko/vidseek/internal/fetch"
)

// ddgSearch queries the DuckDuckGo HTML lite endpoint. It needs no
// credentials, which makes it the default provider.
func (l *Layer) ddgSearch(ctx context.Context, term string, pace *rate.Limiter) ([]providerHit, error) {
	l.politeDelay(ctx, pace)

	form := url.Values{}
	form.Set("q", term)
	form.Set("kl", "us-en")

	data, err := l.client.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    l.ddgEndpoint,
		Headers: map[string]string{
			"Content-Type": "application/x-www-form-urlencoded",
			"Referer":      "https://html.duckduckgo.com/",
		},
		Body: strings.NewReader(form.Encode()),
	})
	if err != nil {
		return nil, fmt.Errorf("ddg html: %w", err)
	}
	return parseDDGHTML(data)
}

// parseDDGHTML extracts search results from the DDG HTML lite response.
func parseDDGHTML(data []byte) ([]providerHit, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ddg parse: %w", err)
	}

	var hits []providerHit
	doc.Find(".result, .web-result").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a.result__a, .result__title a, a.result-link").First()
		title := strings.TrimSpace(link.Text())
		href, ok := link.Attr("href")
		if !ok || title == "" {
			return
		}
		href = ddgUnwrapURL(href)
		if href == "" {
			return
		}
		snippet := strings.TrimSpace(s.Find(".result__snippet, .result__body").First().Text())
		hits = append(hits, providerHit{Title: title, URL: href, Snippet: snippet})
	})
	return hits, nil
}

// ddgUnwrapURL extracts the target URL from DDG redirect wrappers of
// the form //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com&rut=…
func ddgUnwrapURL(href string) string {
	if strings.Contains(href, "duckduckgo.com/l/") || strings.Contains(href, "uddg=") {
		if u, err := url.Parse(href); err == nil {
			if uddg := u.Query().Get("uddg"); uddg != "" {
				return uddg
			}
		}
	}
	if strings.HasPrefix(href, "http") {
		return href
	}
	return ""
}
