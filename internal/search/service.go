// Package search composes the adapter layer, ranking engine, link
// validator and result cache into the one operation this system
// exposes: Search. Everything below this boundary recovers into
// per-source diagnostics; only request-shape validation errors
// propagate to the caller.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkotenko/vidseek/internal/adapter"
	"github.com/dkotenko/vidseek/internal/cache"
	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/fetch"
	"github.com/dkotenko/vidseek/internal/listing"
	"github.com/dkotenko/vidseek/internal/rank"
	"github.com/dkotenko/vidseek/internal/validate"
)

// Validation errors: the only failures that reach the caller.
var (
	ErrEmptyQuery = errors.New("search: query must not be empty")
	ErrNoSources  = errors.New("search: at least one source is required")
)

// Options control one search request.
type Options struct {
	UseCache        bool
	CheckLinks      bool
	MaxPagesPerSite int
}

// Request is one search invocation.
type Request struct {
	Query   string
	Sources []string
	Page    int
	Options Options
}

// Service owns an immutable configuration snapshot and the subsystems
// built from it.
type Service struct {
	sites     map[string]config.SourceConfig
	settings  config.Settings
	layer     *adapter.Layer
	cache     *cache.Cache
	validator *validate.Validator
}

// New builds a service from a source registry and settings. Zero or
// negative settings fall back to documented defaults so a partially
// populated Settings cannot produce instant timeouts or a zero page
// size. A configured but unreachable L2 cache store degrades to
// memory-only with a warning rather than failing startup.
func New(sites map[string]config.SourceConfig, settings config.Settings) *Service {
	defaults := config.DefaultSettings()
	if settings.SourceTimeout <= 0 {
		settings.SourceTimeout = defaults.SourceTimeout
	}
	if settings.ResultsPerPage <= 0 {
		settings.ResultsPerPage = defaults.ResultsPerPage
	}
	if settings.MaxPagesPerSite <= 0 {
		settings.MaxPagesPerSite = defaults.MaxPagesPerSite
	}

	client := fetch.New(settings.FetchTimeout)

	var store cache.Store
	switch {
	case settings.RedisURL != "":
		st, err := cache.NewRedisStore(settings.RedisURL)
		if err != nil {
			slog.Warn("cache: redis unavailable, using memory only", slog.Any("error", err))
		} else {
			store = st
		}
	case settings.CachePath != "":
		st, err := cache.NewSQLiteStore(settings.CachePath)
		if err != nil {
			slog.Warn("cache: sqlite unavailable, using memory only", slog.Any("error", err))
		} else {
			store = st
		}
	}

	return &Service{
		sites:     sites,
		settings:  settings,
		layer:     adapter.NewLayer(client, sites, settings),
		cache:     cache.New(settings.CacheExpiry, settings.CacheMaxEntries, store, 5*time.Minute),
		validator: validate.New(settings.LinkTimeout, settings.LinkWorkers),
	}
}

// Close releases the cache and its store.
func (s *Service) Close() error { return s.cache.Close() }

// DefaultOptions returns request options seeded from settings.
func (s *Service) DefaultOptions() Options {
	return Options{
		UseCache:        true,
		CheckLinks:      s.settings.CheckLinks,
		MaxPagesPerSite: s.settings.MaxPagesPerSite,
	}
}

// Search runs the full pipeline: cache lookup, concurrent per-source
// fetch, ranking and deduplication, link validation, pagination.
// A request yielding zero valid listings is not an error; the bundle's
// diagnostics explain what happened.
func (s *Service) Search(ctx context.Context, req Request) (*listing.SearchBundle, error) {
	start := time.Now()
	metrics.SearchRequests.Add(1)

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(req.Sources) == 0 {
		return nil, ErrNoSources
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	opts := req.Options
	if opts.MaxPagesPerSite < 1 {
		opts.MaxPagesPerSite = s.settings.MaxPagesPerSite
	}

	if opts.UseCache {
		if rec, ok := s.cache.Get(ctx, query, req.Sources, page); ok {
			bundle := rec.Bundle
			bundle.Diagnostics.ServedFromCache = true
			bundle.Diagnostics.ElapsedSeconds = time.Since(start).Seconds()
			slog.Info("search served from cache",
				slog.String("query", query), slog.Int("page", page))
			return &bundle, nil
		}
	}

	selected, issues := s.selectSources(req.Sources)
	raw, fetchIssues := s.aggregate(ctx, query, selected, opts.MaxPagesPerSite)
	issues = append(issues, fetchIssues...)
	metrics.RawListings.Add(int64(len(raw)))
	metrics.SourceIssues.Add(int64(len(issues)))

	ranked := rank.Rank(raw, query, rank.Options{
		Weights:             s.settings.Weights,
		Multipliers:         s.multipliers(),
		SimilarityThreshold: s.settings.TitleSimilarity,
	})

	valid := ranked
	var broken []listing.ScoredListing
	if opts.CheckLinks {
		metrics.LinkChecks.Add(int64(len(ranked)))
		valid, broken = s.validator.Partition(ctx, ranked)
	}

	bundle := s.paginate(query, req.Sources, valid, broken, page)
	bundle.Diagnostics = listing.Diagnostics{
		RequestID:      uuid.NewString(),
		Issues:         issues,
		RawCount:       len(raw),
		RankedCount:    len(ranked),
		ElapsedSeconds: time.Since(start).Seconds(),
	}

	slog.Info("search complete",
		slog.String("query", query),
		slog.Int("raw", len(raw)),
		slog.Int("valid", len(valid)),
		slog.Int("broken", len(broken)),
		slog.Int("issues", len(issues)),
		slog.Duration("elapsed", time.Since(start)))

	// Successful aggregations are cached even when the lookup was
	// bypassed, so the next cached request benefits.
	s.cache.Set(ctx, query, req.Sources, page, bundle)

	return bundle, nil
}

// selectSources resolves names against the registry; unknown names
// become config issues instead of failing the request.
func (s *Service) selectSources(names []string) ([]config.SourceConfig, []listing.SourceIssue) {
	var selected []config.SourceConfig
	var issues []listing.SourceIssue
	for _, name := range names {
		src, ok := s.sites[name]
		if !ok {
			issues = append(issues, listing.SourceIssue{
				Source:  name,
				Kind:    listing.IssueConfig,
				Message: "source not configured",
			})
			continue
		}
		selected = append(selected, src)
	}
	return selected, issues
}

func (s *Service) multipliers() map[string]float64 {
	m := make(map[string]float64, len(s.sites))
	for name, src := range s.sites {
		m[name] = src.Multiplier()
	}
	return m
}

// paginate windows valid listings to the configured page size. Pages
// past the end yield an empty window with the requested page number
// kept, so callers see where they are.
func (s *Service) paginate(query string, sources []string, valid, broken []listing.ScoredListing, page int) *listing.SearchBundle {
	perPage := s.settings.ResultsPerPage
	totalValid := len(valid)
	totalPages := 1
	if totalValid > 0 {
		totalPages = (totalValid + perPage - 1) / perPage
	}

	startIdx := (page - 1) * perPage
	var window []listing.ScoredListing
	if startIdx < totalValid {
		endIdx := startIdx + perPage
		if endIdx > totalValid {
			endIdx = totalValid
		}
		window = valid[startIdx:endIdx]
	}

	return &listing.SearchBundle{
		Query:          query,
		Sources:        sources,
		ValidListings:  window,
		BrokenListings: broken,
		Pagination: listing.Pagination{
			CurrentPage:       page,
			TotalPages:        totalPages,
			TotalValidResults: totalValid,
			ResultsPerPage:    perPage,
		},
	}
}

// CacheStats exposes cache state for administrative use.
func (s *Service) CacheStats() cache.Stats { return s.cache.Stats() }

// CacheClear clears cached results; empty query and sources clear all.
func (s *Service) CacheClear(ctx context.Context, query string, sources []string) {
	s.cache.Clear(ctx, query, sources)
}
