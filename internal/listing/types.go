// Package listing defines the result data model shared by every layer:
// raw items produced by source adapters, scored items produced by the
// ranking engine, and the bundle returned to callers. It also hosts the
// raw-string parsers (duration, rating, views) so scrape and API
// adapters feed the ranker in one uniform format.
package listing

// RetrievalMode selects how a source's listings are fetched.
type RetrievalMode string

const (
	ModeScrape    RetrievalMode = "scrape"
	ModeDelegated RetrievalMode = "delegated_search"
	ModeAPI       RetrievalMode = "api"
)

// IssueKind classifies a contained per-source failure.
type IssueKind string

const (
	IssueConfig      IssueKind = "config"
	IssueNetwork     IssueKind = "network"
	IssueParse       IssueKind = "parse"
	IssueQuota       IssueKind = "quota"
	IssueUnsupported IssueKind = "unsupported"
)

// SourceIssue is a per-source diagnostic. Issues accumulate in the
// bundle; they are never raised past the orchestrator boundary.
type SourceIssue struct {
	Source  string    `json:"source"`
	Kind    IssueKind `json:"kind"`
	Message string    `json:"message"`
}

// RawListing is one unprocessed item returned by a source adapter.
// Immutable once created. DurationSec 0 means unknown.
type RawListing struct {
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Snippet     string        `json:"snippet,omitempty"` // provider-supplied, delegated search only
	DurationSec int           `json:"duration_sec,omitempty"`
	RatingRaw   string        `json:"rating_raw,omitempty"` // source-native string, e.g. "85%" or "4.5/5"
	ViewsRaw    string        `json:"views_raw,omitempty"`  // source-native string, e.g. "1.2M"
	Author      string        `json:"author,omitempty"`
	Source      string        `json:"source"`
	Mode        RetrievalMode `json:"retrieval_mode"`
}

// ScoredListing is a deduplicated group's primary listing with its
// scores and the lower-ranked duplicates found on other sources.
type ScoredListing struct {
	RawListing

	RelevanceScore   float64 `json:"relevance_score"`
	NormalizedRating float64 `json:"normalized_rating"` // always in [0,1]
	NormalizedViews  float64 `json:"normalized_views"`  // always in [0,1]
	FinalScore       float64 `json:"final_score"`

	// Alternates never include the primary; ordered by descending
	// final score.
	Alternates []RawListing `json:"alternates,omitempty"`
}

// Pagination describes the window of valid listings in a bundle.
type Pagination struct {
	CurrentPage       int `json:"current_page"`
	TotalPages        int `json:"total_pages"`
	TotalValidResults int `json:"total_valid_results"`
	ResultsPerPage    int `json:"results_per_page"`
}

// Diagnostics carries per-source issues and request bookkeeping.
type Diagnostics struct {
	RequestID       string        `json:"request_id"`
	Issues          []SourceIssue `json:"issues,omitempty"`
	RawCount        int           `json:"raw_count"`
	RankedCount     int           `json:"ranked_count"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	ServedFromCache bool          `json:"served_from_cache"`
}

// SearchBundle is the unit returned to the caller and stored in cache.
type SearchBundle struct {
	Query          string          `json:"query"`
	Sources        []string        `json:"sources"`
	ValidListings  []ScoredListing `json:"valid_listings"`
	BrokenListings []ScoredListing `json:"broken_listings,omitempty"`
	Pagination     Pagination      `json:"pagination"`
	Diagnostics    Diagnostics     `json:"diagnostics"`
}
