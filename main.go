// vidseek — multi-source video listing metasearch.
//
// Queries configured sites through scraping, delegated web search, or
// JSON APIs, then merges, ranks, deduplicates, and link-checks the
// results into a single listing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkotenko/vidseek/internal/config"
	"github.com/dkotenko/vidseek/internal/listing"
	"github.com/dkotenko/vidseek/internal/search"
)

var version = "dev"

var (
	flagSites    string
	flagSettings string
	flagVerbose  bool
)

func main() {
	root := &cobra.Command{
		Use:           "vidseek",
		Short:         "Search video listings across configured sites",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVar(&flagSites, "sites", "sites.yaml", "path to the site registry")
	root.PersistentFlags().StringVar(&flagSettings, "settings", "settings.yaml", "path to runtime settings")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(searchCmd(), sourcesCmd(), cacheCmd(), metricsCmd(), initCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newService loads config files and constructs the search service.
func newService() (*search.Service, map[string]config.SourceConfig, error) {
	settings, err := config.LoadSettings(flagSettings)
	if err != nil {
		return nil, nil, err
	}
	sites, warns, err := config.LoadSites(flagSites)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warns {
		slog.Warn("site config skipped", slog.Any("error", w))
	}
	return search.New(sites, settings), sites, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func searchCmd() *cobra.Command {
	var (
		sources    []string
		page       int
		noCache    bool
		noCheck    bool
		maxPages   int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a search across the given sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, sites, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()

			if len(sources) == 0 {
				for name := range sites {
					sources = append(sources, name)
				}
				sort.Strings(sources)
			}

			ctx, cancel := signalContext()
			defer cancel()

			opts := svc.DefaultOptions()
			opts.UseCache = !noCache
			if noCheck {
				opts.CheckLinks = false
			}
			if maxPages > 0 {
				opts.MaxPagesPerSite = maxPages
			}

			bundle, err := svc.Search(ctx, search.Request{
				Query:   strings.Join(args, " "),
				Sources: sources,
				Page:    page,
				Options: opts,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(bundle)
			}
			printBundle(bundle)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "source names to query (default: all configured)")
	cmd.Flags().IntVarP(&page, "page", "p", 1, "result page")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().BoolVar(&noCheck, "no-check-links", false, "skip link validation")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "pages to fetch per scraped site")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the full bundle as JSON")
	return cmd
}

func printBundle(b *listing.SearchBundle) {
	p := b.Pagination
	fmt.Printf("%d results for %q (page %d/%d", p.TotalValidResults, b.Query, p.CurrentPage, p.TotalPages)
	if b.Diagnostics.ServedFromCache {
		fmt.Print(", cached")
	}
	fmt.Printf(", %.2fs)\n\n", b.Diagnostics.ElapsedSeconds)

	for i, l := range b.ValidListings {
		rank := (p.CurrentPage-1)*p.ResultsPerPage + i + 1
		fmt.Printf("%3d. %s\n", rank, l.Title)
		fmt.Printf("     %s\n", l.URL)
		detail := fmt.Sprintf("     [%s] score %.3f", l.Source, l.FinalScore)
		if l.DurationSec > 0 {
			detail += fmt.Sprintf("  %dm%02ds", l.DurationSec/60, l.DurationSec%60)
		}
		if len(l.Alternates) > 0 {
			detail += fmt.Sprintf("  +%d duplicate(s)", len(l.Alternates))
		}
		fmt.Println(detail)
	}

	if n := len(b.BrokenListings); n > 0 {
		fmt.Printf("\n%d listing(s) dropped with broken links\n", n)
	}
	for _, iss := range b.Diagnostics.Issues {
		fmt.Printf("issue [%s] %s: %s\n", iss.Kind, iss.Source, iss.Message)
	}
}

func sourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(*cobra.Command, []string) error {
			sites, warns, err := config.LoadSites(flagSites)
			if err != nil {
				return err
			}
			for _, w := range warns {
				slog.Warn("site config skipped", slog.Any("error", w))
			}
			names := make([]string, 0, len(sites))
			for name := range sites {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				src := sites[name]
				fmt.Printf("%-20s %-18s %s\n", name, src.Mode, src.BaseURL)
			}
			return nil
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(*cobra.Command, []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()
			st := svc.CacheStats()
			fmt.Printf("entries  %d (%d active, %d expired)\n", st.Total, st.Active, st.Expired)
			fmt.Printf("size     %d bytes\n", st.SizeBytes)
			fmt.Printf("hits     %d\n", st.Hits)
			fmt.Printf("misses   %d\n", st.Misses)
			return nil
		},
	})

	var clearSources []string
	clear := &cobra.Command{
		Use:   "clear [query]",
		Short: "Clear cached results (all when no query is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := newService()
			if err != nil {
				return err
			}
			defer svc.Close()
			ctx, cancel := signalContext()
			defer cancel()
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			svc.CacheClear(ctx, query, clearSources)
			return nil
		},
	}
	clear.Flags().StringSliceVarP(&clearSources, "source", "s", nil, "source names the cached request used")
	cmd.AddCommand(clear)

	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "metrics",
		Short:  "Dump process counters",
		Hidden: true,
		RunE: func(*cobra.Command, []string) error {
			fmt.Print(search.FormatMetrics())
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write an example site registry to the --sites path",
		RunE: func(*cobra.Command, []string) error {
			if _, err := os.Stat(flagSites); err == nil {
				return fmt.Errorf("%s already exists", flagSites)
			}
			if err := config.WriteExampleSites(flagSites); err != nil {
				return err
			}
			fmt.Println("wrote", flagSites)
			return nil
		},
	}
}
