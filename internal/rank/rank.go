// Package rank turns a flat list of raw listings into an ordered,
// deduplicated result set. It is pure CPU work over already-fetched
// data: no I/O, no shared state.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
)

// Fallback normalized values, chosen so missing data neither buries
// nor boosts a listing.
const (
	defaultNormViews   = 0.3 // views absent or unparseable
	zeroViewsNorm      = 0.1 // views present but zero/negative
	viewsBaselineLog10 = 7.0 // 10,000,000 views = 1.0 when the set max is degenerate
	durationTolerance  = 5   // seconds
)

// Options configures one ranking pass.
type Options struct {
	Weights config.Weights

	// Multipliers maps source name to its popularity multiplier;
	// missing sources default to 1.0.
	Multipliers map[string]float64

	// SimilarityThreshold is the minimum title similarity for two
	// listings to be considered duplicates. Zero means 0.85.
	SimilarityThreshold float64

	// Similar overrides the title-similarity function. Nil means
	// normalized Levenshtein ratio.
	Similar func(a, b string) float64
}

// Rank scores, normalizes and deduplicates listings for query.
// The output is one ScoredListing per duplicate group, ordered by
// final score descending with encounter order breaking ties.
func Rank(listings []listing.RawListing, query string, opts Options) []listing.ScoredListing {
	if len(listings) == 0 {
		return nil
	}
	if opts.SimilarityThreshold <= 0 || opts.SimilarityThreshold > 1 {
		opts.SimilarityThreshold = 0.85
	}
	if opts.Similar == nil {
		opts.Similar = levenshteinRatio
	}

	maxViews := maxViewCount(listings)

	scored := make([]listing.ScoredListing, 0, len(listings))
	for _, rl := range listings {
		s := listing.ScoredListing{
			RawListing:       rl,
			RelevanceScore:   Relevance(rl.Title, query),
			NormalizedRating: listing.NormalizeRating(rl.RatingRaw),
			NormalizedViews:  normalizeViews(rl.ViewsRaw, maxViews),
		}

		multiplier := 1.0
		if m, ok := opts.Multipliers[rl.Source]; ok && m > 0 {
			multiplier = m
		}
		w := opts.Weights
		s.FinalScore = (s.RelevanceScore*w.Relevance +
			s.NormalizedRating*w.Rating +
			s.NormalizedViews*w.Views) *
			(1 + (multiplier-1)*w.MultiplierEffect)

		scored = append(scored, s)
	}

	primaries := dedupe(scored, opts)

	sort.SliceStable(primaries, func(i, j int) bool {
		return primaries[i].FinalScore > primaries[j].FinalScore
	})
	return primaries
}

// Relevance scores how well title matches query. The base score is 1;
// each query token found in the title adds 1, plus 0.5 when the title
// starts with it and 0.5 per repeat occurrence; a verbatim phrase
// match adds 2; token coverage contributes 4×(matched/total).
// An empty query yields exactly 1.
func Relevance(title, query string) float64 {
	query = strings.TrimSpace(query)
	if query == "" {
		return 1
	}

	tokens := strings.Fields(strings.ToLower(query))
	lowTitle := strings.ToLower(title)

	matched := 0
	bonus := 0.0
	for _, tok := range tokens {
		n := strings.Count(lowTitle, tok)
		if n == 0 {
			continue
		}
		matched++
		bonus += 1
		if strings.HasPrefix(lowTitle, tok) {
			bonus += 0.5
		}
		bonus += 0.5 * float64(n-1)
	}
	if strings.Contains(lowTitle, strings.ToLower(query)) {
		bonus += 2
	}

	return 1 + 4*float64(matched)/float64(len(tokens)) + bonus
}

// normalizeViews maps a raw view-count string onto [0,1] on a log10
// scale relative to maxViews, falling back to a fixed ten-million-view
// baseline when the set's max is degenerate.
func normalizeViews(raw string, maxViews int64) float64 {
	if strings.TrimSpace(raw) == "" {
		return defaultNormViews
	}
	v, ok := listing.ParseViews(raw)
	if !ok {
		return defaultNormViews
	}
	if v <= 0 {
		return zeroViewsNorm
	}

	denom := viewsBaselineLog10
	if maxViews > 1 {
		denom = math.Log10(float64(maxViews) + 1)
	}
	nv := math.Log10(float64(v)+1) / denom
	if nv > 1 {
		return 1
	}
	if nv < 0 {
		return 0
	}
	return nv
}

func maxViewCount(listings []listing.RawListing) int64 {
	var maxViews int64
	for _, rl := range listings {
		if v, ok := listing.ParseViews(rl.ViewsRaw); ok && v > maxViews {
			maxViews = v
		}
	}
	return maxViews
}
