package adapter

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

// scrape fetches and parses the source's own search result pages.
// Pagination is sequential: each page is fetched only after the
// previous one yielded a next-page link (or the template has a {page}
// slot), up to maxPages pages.
func (l *Layer) scrape(ctx context.Context, src config.SourceConfig, query string, page, maxPages int) ([]listing.RawListing, []listing.SourceIssue) {
	var out []listing.RawListing
	var issues []listing.SourceIssue

	if src.SearchURLTemplate == "" {
		return nil, append(issues, issue(src, listing.IssueConfig, "missing search_url_template"))
	}
	base, err := url.Parse(src.BaseURL)
	if err != nil {
		return nil, append(issues, issue(src, listing.IssueConfig, "bad base_url: %v", err))
	}

	pace := l.newPacer()
	pageURL := buildURL(src.SearchURLTemplate, query, page)
	for fetched := 0; fetched < maxPages; fetched++ {
		l.politeDelay(ctx, pace)

		slog.Debug("scraping", slog.String("source", src.Name), slog.String("url", pageURL))
		body, err := l.client.GetHTML(ctx, pageURL)
		if err != nil {
			issues = append(issues, issue(src, listing.IssueNetwork, "fetch %s: %v", pageURL, err))
			break
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			issues = append(issues, issue(src, listing.IssueParse, "parse %s: %v", pageURL, err))
			break
		}

		container := doc.Selection
		if sel := src.Selectors.Container; sel != "" {
			c := doc.Find(sel).First()
			if c.Length() == 0 {
				issues = append(issues, issue(src, listing.IssueParse,
					"results container %q not found on %s", sel, pageURL))
				break
			}
			container = c
		}

		items := container.Find(src.Selectors.Item)
		if items.Length() == 0 {
			issues = append(issues, issue(src, listing.IssueParse,
				"no items matched %q on %s", src.Selectors.Item, pageURL))
			break
		}

		items.Each(func(i int, item *goquery.Selection) {
			title := selText(item, src.Selectors.Title)
			href := selAttr(item, src.Selectors.URL, "href")
			if title == "" || href == "" {
				issues = append(issues, issue(src, listing.IssueParse,
					"item %d missing title or url, check selectors", i))
				return
			}

			rl := listing.RawListing{
				Title:       title,
				URL:         resolveURL(base, href),
				DurationSec: listing.ParseDuration(selText(item, src.Selectors.Duration)),
				RatingRaw:   selText(item, src.Selectors.Rating),
				ViewsRaw:    selText(item, src.Selectors.Views),
				Author:      selText(item, src.Selectors.Author),
				Source:      src.Name,
				Mode:        listing.ModeScrape,
			}
			if thumb := selAttr(item, src.Selectors.Thumbnail, "src"); thumb != "" {
				rl.Thumbnail = resolveURL(base, thumb)
			}
			out = append(out, rl)
		})

		if fetched+1 >= maxPages {
			break
		}
		pageURL = l.nextPageURL(src, doc, base, query, &page)
		if pageURL == "" {
			break
		}
	}

	return out, issues
}

// nextPageURL locates the following results page. Pagination only
// happens for sources with a next-page selector: the link wins when
// present, and a {page} slot in the template covers pages where the
// link markup is missing. Returns "" when pagination ends.
func (l *Layer) nextPageURL(src config.SourceConfig, doc *goquery.Document, base *url.URL, query string, page *int) string {
	if src.Selectors.NextPage == "" {
		return ""
	}
	if href := selAttr(doc.Selection, src.Selectors.NextPage, "href"); href != "" {
		*page++
		return resolveURL(base, href)
	}
	if strings.Contains(src.SearchURLTemplate, "{page}") {
		*page++
		return buildURL(src.SearchURLTemplate, query, *page)
	}
	return ""
}
