package adapter

import (
	"context"
	"fmt"
	"net/url"
)

// bingResponse is the slice of the Bing Web Search v7 response this
// layer consumes.
type bingResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

// bingSearch runs term through the Bing Web Search API.
func (l *Layer) bingSearch(ctx context.Context, term string) ([]providerHit, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("count", "50")
	q.Set("responseFilter", "Webpages")
	endpoint := l.bingEndpoint + "?" + q.Encode()

	headers := map[string]string{
		"Ocp-Apim-Subscription-Key": l.settings.BingAPIKey,
	}
	var resp bingResponse
	if err := l.client.GetJSON(ctx, endpoint, headers, &resp); err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}

	hits := make([]providerHit, 0, len(resp.WebPages.Value))
	for _, item := range resp.WebPages.Value {
		hits = append(hits, providerHit{
			Title:   item.Name,
			URL:     item.URL,
			Snippet: item.Snippet,
		})
	}
	return hits, nil
}
