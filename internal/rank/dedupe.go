package rank

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/dkotenko/vidseek/internal/listing"
)

// Stop words stripped before title comparison. Short connectives only;
// anything heavier starts merging genuinely different titles.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"in": true, "on": true, "of": true, "to": true,
}

// dedupe groups scored listings that are the same logical item found
// on different sources: normalized titles similar at or above the
// threshold, and durations within tolerance when both are known.
// Each group's highest-scoring member becomes the primary; the rest
// become its alternates, ordered by descending score.
func dedupe(scored []listing.ScoredListing, opts Options) []listing.ScoredListing {
	type group struct {
		members []listing.ScoredListing
		title   string // normalized title of the first member
	}
	var groups []*group

	for _, s := range scored {
		norm := NormalizeTitle(s.Title)
		placed := false
		for _, g := range groups {
			if norm == "" || g.title == "" {
				continue
			}
			if opts.Similar(norm, g.title) < opts.SimilarityThreshold {
				continue
			}
			if !durationsCompatible(s, g.members) {
				continue
			}
			g.members = append(g.members, s)
			placed = true
			break
		}
		if !placed {
			groups = append(groups, &group{members: []listing.ScoredListing{s}, title: norm})
		}
	}

	out := make([]listing.ScoredListing, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.members, func(i, j int) bool {
			return g.members[i].FinalScore > g.members[j].FinalScore
		})
		primary := g.members[0]
		for _, alt := range g.members[1:] {
			if alt.URL == primary.URL {
				continue // same link found twice is not an alternate
			}
			primary.Alternates = append(primary.Alternates, alt.RawListing)
		}
		out = append(out, primary)
	}
	return out
}

// durationsCompatible holds when s's duration is within tolerance of
// every member whose duration is known. Unknown durations (0) group on
// title similarity alone.
func durationsCompatible(s listing.ScoredListing, members []listing.ScoredListing) bool {
	if s.DurationSec == 0 {
		return true
	}
	for _, m := range members {
		if m.DurationSec == 0 {
			continue
		}
		diff := s.DurationSec - m.DurationSec
		if diff < 0 {
			diff = -diff
		}
		if diff > durationTolerance {
			return false
		}
	}
	return true
}

// NormalizeTitle lowercases, strips punctuation and stop words, and
// collapses whitespace for title comparison.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	words := strings.Fields(b.String())
	kept := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// levenshteinRatio is the default title-similarity function: edit
// distance normalized by the longer string, 1.0 meaning identical.
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longer := la
	if lb > longer {
		longer = lb
	}
	if longer == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longer)
}
