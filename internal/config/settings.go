// Package config loads the source registry and runtime settings.
// Both are read once into an immutable snapshot that is passed into
// the search service; nothing reads shared mutable config mid-request.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the scoring weights used by the ranking engine.
// They are not required to sum to 1.
type Weights struct {
	Relevance        float64 `yaml:"relevance_weight" json:"relevance_weight"`
	Rating           float64 `yaml:"rating_weight" json:"rating_weight"`
	Views            float64 `yaml:"views_weight" json:"views_weight"`
	MultiplierEffect float64 `yaml:"multiplier_effect" json:"multiplier_effect"`
}

// DefaultWeights returns the documented default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Relevance:        0.50,
		Rating:           0.30,
		Views:            0.10,
		MultiplierEffect: 0.10,
	}
}

// Settings is the runtime configuration snapshot.
type Settings struct {
	GoogleAPIKey         string `yaml:"google_api_key"`
	GoogleSearchEngineID string `yaml:"google_search_engine_id"`
	BingAPIKey           string `yaml:"bing_api_key"`

	ResultsPerPage  int  `yaml:"results_per_page"`
	MaxPagesPerSite int  `yaml:"max_pages_per_site"`
	CheckLinks      bool `yaml:"check_links"`

	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	SourceTimeout   time.Duration `yaml:"source_timeout"`
	ScrapeDelayMax  time.Duration `yaml:"scrape_delay_max"` // upper bound of the randomized inter-page delay
	LinkTimeout     time.Duration `yaml:"link_timeout"`
	LinkWorkers     int           `yaml:"link_workers"`
	TitleSimilarity float64       `yaml:"title_similarity"` // dedup threshold in (0,1]

	CacheExpiry     time.Duration `yaml:"cache_expiry"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	RedisURL        string        `yaml:"redis_url"`   // optional L2
	CachePath       string        `yaml:"cache_path"`  // optional SQLite L2; ignored when redis_url is set

	Weights Weights `yaml:"scoring_weights"`
}

// DefaultSettings returns settings with all documented defaults.
func DefaultSettings() Settings {
	return Settings{
		ResultsPerPage:  100,
		MaxPagesPerSite: 1,
		CheckLinks:      true,
		FetchTimeout:    15 * time.Second,
		SourceTimeout:   45 * time.Second,
		ScrapeDelayMax:  2 * time.Second,
		LinkTimeout:     8 * time.Second,
		LinkWorkers:     20,
		TitleSimilarity: 0.85,
		CacheExpiry:     10 * time.Minute,
		CacheMaxEntries: 1000,
		Weights:         DefaultWeights(),
	}
}

// LoadSettings reads settings from a YAML file, layering the file over
// defaults and environment variables over the file. A missing file is
// not an error: defaults apply.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			slog.Debug("settings file absent, using defaults", slog.String("path", path))
		case err != nil:
			return s, fmt.Errorf("read settings %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	// Credentials prefer the environment so keys stay out of files.
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		s.GoogleAPIKey = v
	}
	if v := os.Getenv("GOOGLE_SEARCH_ENGINE_ID"); v != "" {
		s.GoogleSearchEngineID = v
	}
	if v := os.Getenv("BING_API_KEY"); v != "" {
		s.BingAPIKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		s.RedisURL = v
	}

	if s.ResultsPerPage <= 0 {
		s.ResultsPerPage = 100
	}
	if s.MaxPagesPerSite <= 0 {
		s.MaxPagesPerSite = 1
	}
	if s.TitleSimilarity <= 0 || s.TitleSimilarity > 1 {
		s.TitleSimilarity = 0.85
	}
	if s.Weights == (Weights{}) {
		s.Weights = DefaultWeights()
	}
	return s, nil
}
