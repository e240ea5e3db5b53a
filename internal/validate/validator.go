// Package validate checks that listing URLs still resolve. HEAD first,
// a streaming GET as fallback for targets that block HEAD, concurrent
// across URLs with a bounded worker count and its own timeout,
// independent of the adapters' fetch timeouts.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dkotenko/vidseek/internal/fetch"
	"github.com/dkotenko/vidseek/internal/listing"
)

// Result is the outcome of validating one URL.
type Result struct {
	Valid      bool   `json:"valid"`
	StatusCode int    `json:"status_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Validator performs lightweight existence checks.
type Validator struct {
	client  *http.Client
	workers int
}

// New creates a validator with a per-request timeout and a worker cap.
func New(timeout time.Duration, workers int) *Validator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if workers <= 0 {
		workers = 20
	}
	return &Validator{
		client:  &http.Client{Timeout: timeout},
		workers: workers,
	}
}

// Validate checks a single URL. 2xx/3xx with a plausible content type
// is valid; 4xx/5xx, timeouts and connection errors are invalid with
// the status or error captured in Reason.
func (v *Validator) Validate(ctx context.Context, url string) Result {
	if url == "" {
		return Result{Valid: false, Reason: "empty url"}
	}

	resp, err := v.do(ctx, http.MethodHead, url)
	if err != nil {
		// HEAD refused or timed out; a streaming GET settles it.
		return v.fallbackGet(ctx, url, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusMethodNotAllowed:
		return v.fallbackGet(ctx, url, fmt.Errorf("head status %d", resp.StatusCode))
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		if plausibleContentType(resp.Header.Get("Content-Type")) {
			return Result{Valid: true, StatusCode: resp.StatusCode}
		}
		return v.fallbackGet(ctx, url, fmt.Errorf("content type %q", resp.Header.Get("Content-Type")))
	default:
		return Result{Valid: false, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
}

// fallbackGet issues a GET and closes the body immediately, so only
// headers travel.
func (v *Validator) fallbackGet(ctx context.Context, url string, cause error) Result {
	resp, err := v.do(ctx, http.MethodGet, url)
	if err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("head: %v; get: %v", cause, err)}
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Valid: true, StatusCode: resp.StatusCode}
	}
	return Result{Valid: false, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
}

func (v *Validator) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetch.RandomUserAgent())
	return v.client.Do(req)
}

// plausibleContentType accepts anything a listing page or media file
// would serve. An absent header passes: plenty of servers omit it on
// HEAD responses.
func plausibleContentType(ct string) bool {
	if ct == "" {
		return true
	}
	ct = strings.ToLower(ct)
	for _, ok := range []string{"video", "html", "application", "image"} {
		if strings.Contains(ct, ok) {
			return true
		}
	}
	return false
}

// Partition splits scored listings into link-valid and link-broken,
// preserving the input (score) order in both halves.
func (v *Validator) Partition(ctx context.Context, items []listing.ScoredListing) (valid, broken []listing.ScoredListing) {
	if len(items) == 0 {
		return nil, nil
	}

	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range items {
		g.Go(func() error {
			results[i] = v.Validate(gctx, items[i].URL)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	for i, item := range items {
		if results[i].Valid {
			valid = append(valid, item)
		} else {
			slog.Debug("broken link",
				slog.String("url", item.URL), slog.String("reason", results[i].Reason))
			broken = append(broken, item)
		}
	}
	return valid, broken
}
