package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

// aggregate fans one query out to every selected source concurrently
// and merges the results. Each source runs under its own deadline so a
// stalled site cannot hold the whole request hostage; adapters report
// their failures as issues, never as errors.
func (s *Service) aggregate(ctx context.Context, query string, sources []config.SourceConfig, maxPages int) ([]listing.RawListing, []listing.SourceIssue) {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		raw    []listing.RawListing
		issues []listing.SourceIssue
	)

	for _, src := range sources {
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()
			metrics.SourceFetches.Add(1)

			srcCtx, cancel := context.WithTimeout(ctx, s.settings.SourceTimeout)
			defer cancel()

			start := time.Now()
			// Adapters paginate internally from page one; the bundle's
			// page windows the merged ranking, not per-source fetches.
			got, srcIssues := s.layer.Fetch(srcCtx, src, query, 1, maxPages)

			if srcCtx.Err() != nil && len(got) == 0 && len(srcIssues) == 0 {
				srcIssues = append(srcIssues, listing.SourceIssue{
					Source:  src.Name,
					Kind:    listing.IssueNetwork,
					Message: "source timed out",
				})
			}

			slog.Debug("source fetched",
				slog.String("source", src.Name),
				slog.Int("listings", len(got)),
				slog.Int("issues", len(srcIssues)),
				slog.Duration("elapsed", time.Since(start)))

			mu.Lock()
			raw = append(raw, got...)
			issues = append(issues, srcIssues...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	return raw, issues
}
