package adapter

import (
	"context"
	"fmt"
	"net/url"
)

// googleCSEResponse is the slice of the Custom Search JSON API response
// this layer consumes.
type googleCSEResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Pagemap struct {
			CSEThumbnail []struct {
				Src string `json:"src"`
			} `json:"cse_thumbnail"`
			CSEImage []struct {
				Src string `json:"src"`
			} `json:"cse_image"`
		} `json:"pagemap"`
	} `json:"items"`
}

// googleSearch runs term through the Google Custom Search API.
// The free tier caps a single query at 10 results.
func (l *Layer) googleSearch(ctx context.Context, term string) ([]providerHit, error) {
	q := url.Values{}
	q.Set("key", l.settings.GoogleAPIKey)
	q.Set("cx", l.settings.GoogleSearchEngineID)
	q.Set("q", term)
	q.Set("num", "10")
	endpoint := l.googleEndpoint + "?" + q.Encode()

	var resp googleCSEResponse
	if err := l.client.GetJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("google cse: %w", err)
	}

	hits := make([]providerHit, 0, len(resp.Items))
	for _, item := range resp.Items {
		hit := providerHit{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
		}
		if len(item.Pagemap.CSEThumbnail) > 0 {
			hit.Thumbnail = item.Pagemap.CSEThumbnail[0].Src
		} else if len(item.Pagemap.CSEImage) > 0 {
			hit.Thumbnail = item.Pagemap.CSEImage[0].Src
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
