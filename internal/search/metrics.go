package search

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Operational counters, atomic for thread-safe access from concurrent
// aggregations.
var metrics struct {
	SearchRequests atomic.Int64
	SourceFetches  atomic.Int64
	SourceIssues   atomic.Int64
	LinkChecks     atomic.Int64
	RawListings    atomic.Int64
}

// Metrics returns a snapshot of all counters.
func Metrics() map[string]int64 {
	return map[string]int64{
		"search_requests": metrics.SearchRequests.Load(),
		"source_fetches":  metrics.SourceFetches.Load(),
		"source_issues":   metrics.SourceIssues.Load(),
		"link_checks":     metrics.LinkChecks.Load(),
		"raw_listings":    metrics.RawListings.Load(),
	}
}

// FormatMetrics renders counters as one "name value" pair per line.
func FormatMetrics() string {
	m := Metrics()
	keys := []string{"search_requests", "source_fetches", "source_issues", "link_checks", "raw_listings"}
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}
