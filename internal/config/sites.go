package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dkotenko/vidseek/internal/listing"
)

// Selectors are CSS selectors for scrape-mode sources and for the
// extended-detail pass of delegated-search sources.
type Selectors struct {
	Container string `yaml:"results_container"` // defaults to the document body
	Item      string `yaml:"result_item"`
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Thumbnail string `yaml:"thumbnail"`
	Duration  string `yaml:"duration"`
	Rating    string `yaml:"rating"`
	Views     string `yaml:"views"`
	Author    string `yaml:"author"`
	NextPage  string `yaml:"next_page"`
}

// FieldPaths are dotted JSON paths for api-mode sources, e.g.
// "data.items" or "statistics.viewCount".
type FieldPaths struct {
	Results   string `yaml:"results"` // path to the results array; empty = scan for one
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Thumbnail string `yaml:"thumbnail"`
	Duration  string `yaml:"duration"`
	Rating    string `yaml:"rating"`
	Views     string `yaml:"views"`
	Author    string `yaml:"author"`
}

// SourceConfig describes one configured content origin. Immutable for
// the duration of a request.
type SourceConfig struct {
	Name    string                `yaml:"name"`
	BaseURL string                `yaml:"base_url"`
	Mode    listing.RetrievalMode `yaml:"retrieval_mode"`

	// scrape mode: template with {query} and optional {page}.
	SearchURLTemplate string `yaml:"search_url_template"`

	// delegated_search mode: which provider runs the site: query.
	// One of "google", "bing", "ddg"; defaults to "ddg".
	Provider string `yaml:"provider"`

	// api mode.
	APIEndpoint  string     `yaml:"api_endpoint"` // template with {query} and optional {page}
	APIKey       string     `yaml:"api_key"`
	APIKeyParam  string     `yaml:"api_key_param"`  // attach key as ?param=
	APIKeyHeader string     `yaml:"api_key_header"` // attach key as a header
	Fields       FieldPaths `yaml:"fields"`

	Selectors Selectors `yaml:"selectors"`

	// PopularityMultiplier nudges ranking up or down, typically 0.5-1.5.
	PopularityMultiplier float64 `yaml:"popularity_multiplier"`
}

// Multiplier returns the popularity multiplier, defaulting to 1.0.
func (s SourceConfig) Multiplier() float64 {
	if s.PopularityMultiplier <= 0 {
		return 1.0
	}
	return s.PopularityMultiplier
}

// Validate reports the first structural problem with the config.
func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source missing name")
	}
	if s.BaseURL == "" {
		return fmt.Errorf("source %s: missing base_url", s.Name)
	}
	switch s.Mode {
	case listing.ModeScrape:
		if s.SearchURLTemplate == "" {
			return fmt.Errorf("source %s: scrape mode requires search_url_template", s.Name)
		}
		if s.Selectors.Item == "" || s.Selectors.Title == "" || s.Selectors.URL == "" {
			return fmt.Errorf("source %s: scrape mode requires result_item, title and url selectors", s.Name)
		}
	case listing.ModeDelegated:
		switch s.Provider {
		case "", "google", "bing", "ddg":
		default:
			return fmt.Errorf("source %s: unknown provider %q", s.Name, s.Provider)
		}
	case listing.ModeAPI:
		if s.APIEndpoint == "" {
			return fmt.Errorf("source %s: api mode requires api_endpoint", s.Name)
		}
		if s.Fields.Title == "" || s.Fields.URL == "" {
			return fmt.Errorf("source %s: api mode requires title and url field paths", s.Name)
		}
	case "":
		return fmt.Errorf("source %s: missing retrieval_mode", s.Name)
	default:
		// Left to the adapter layer, which reports it as an
		// unsupported-mode issue instead of failing the load.
	}
	return nil
}

// LoadSites reads the source registry from a YAML file keyed by source
// name. Individually invalid sources are skipped with an error list so
// one bad entry does not take the registry down.
func LoadSites(path string) (map[string]SourceConfig, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read sites %s: %w", path, err)
	}

	var raw map[string]SourceConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse sites %s: %w", path, err)
	}

	sites := make(map[string]SourceConfig, len(raw))
	var bad []error
	for key, src := range raw {
		if src.Name == "" {
			src.Name = key
		}
		if err := src.Validate(); err != nil {
			bad = append(bad, err)
			continue
		}
		sites[src.Name] = src
	}
	return sites, bad, nil
}

// WriteExampleSites writes a starter sites file showing all three
// retrieval modes, mirroring what a fresh install needs to edit.
func WriteExampleSites(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite %s", path)
	}
	return os.WriteFile(path, []byte(exampleSites), 0o644)
}

var exampleSites = strings.TrimLeft(`
example_scrape:
  name: example_scrape
  base_url: https://videos.example.com
  retrieval_mode: scrape
  search_url_template: https://videos.example.com/search?q={query}&page={page}
  popularity_multiplier: 1.0
  selectors:
    results_container: .search-results
    result_item: .result-item
    title: .video-title
    url: .video-title a
    thumbnail: .thumb img
    duration: .duration
    rating: .rating
    views: .views
    author: .author
    next_page: .pagination .next

example_delegated:
  name: example_delegated
  base_url: https://clips.example.org
  retrieval_mode: delegated_search
  provider: ddg
  popularity_multiplier: 0.9
  selectors:
    title: h1.title
    duration: .meta .duration
    rating: .meta .rating
    views: .meta .views
    author: .meta .uploader

example_api:
  name: example_api
  base_url: https://api.example.net
  retrieval_mode: api
  api_endpoint: https://api.example.net/v1/search?q={query}&page={page}
  api_key_param: key
  popularity_multiplier: 1.2
  fields:
    results: data.items
    title: snippet.title
    url: link
    thumbnail: snippet.thumbnail
    duration: contentDetails.duration
    rating: statistics.rating
    views: statistics.viewCount
    author: snippet.channel
`, "\n")
