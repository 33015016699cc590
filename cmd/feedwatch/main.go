package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/TobiSchelling/feedwatch/internal/collect"
	"github.com/TobiSchelling/feedwatch/internal/config"
	"github.com/TobiSchelling/feedwatch/internal/database"
	"github.com/TobiSchelling/feedwatch/internal/enrich"
	"github.com/TobiSchelling/feedwatch/internal/fetch"
	"github.com/TobiSchelling/feedwatch/internal/llm"
	"github.com/TobiSchelling/feedwatch/internal/pipeline"
	"github.com/TobiSchelling/feedwatch/internal/report"
	"github.com/TobiSchelling/feedwatch/internal/scheduler"
	"github.com/TobiSchelling/feedwatch/internal/search"
	"github.com/TobiSchelling/feedwatch/internal/server"
	"github.com/TobiSchelling/feedwatch/internal/summarize"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "feedwatch",
	Short:   "RSS aggregation with keyword watches and daily briefings",
	Long:    "feedwatch polls RSS feeds, keeps a deduplicated snapshot of recent items, and writes LLM briefings for the keywords you watch.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if strings.EqualFold(cfg.Logging.Level, "DEBUG") {
			verbose = true
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(articlesCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(watchesCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("feedwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/feedwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}
		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure seed feeds and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		fmt.Printf("Today: %s\n", database.GetToday())
		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Printf("  Sources: %d\n", stats.Sources)
		fmt.Printf("  Watches: %d\n", stats.Watches)
		fmt.Printf("  Snapshot items: %d\n", stats.SnapshotItems)
		fmt.Printf("  Report logs: %d\n", stats.ReportLogs)
		fmt.Printf("  Keyword alerts: %d\n", stats.KeywordAlerts)
		return nil
	},
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one fetch cycle: fetch -> aggregate -> match",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := app.pipeline.RunCycle(ctx)
		printSteps(result)
		if err != nil {
			return err
		}
		fmt.Printf("\nSnapshot: %d items, %d new, %d report entries written.\n", result.Snapshot, len(result.New), result.Entries)
		return nil
	},
}

func printSteps(result *pipeline.Result) {
	if result == nil {
		return
	}
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
		if step.Summary != "" {
			fmt.Printf("  %s\n", step.Summary)
		}
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		}
	}
}

// --- serve command ---

var (
	servePort   int
	serveNoPoll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server and the periodic fetch loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		srv, err := server.New(app.db, app.pipeline)
		if err != nil {
			return err
		}
		if app.search != nil {
			srv.Search = app.search
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := scheduler.New("fetch", cfg.Fetch.Interval.Duration, func(ctx context.Context) error {
			result, err := app.pipeline.RunCycle(ctx)
			if err != nil {
				return err
			}
			for _, step := range result.Steps {
				if step.Err != nil {
					log.Printf("%s: %v", step.Name, step.Err)
				}
			}
			return nil
		})
		srv.Refresh = sched.TryRun
		if !serveNoPoll {
			sched.Start(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		err = srv.Serve(ctx, fmt.Sprintf("localhost:%d", port))
		stop()
		sched.Wait()
		return err
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-poll", false, "Serve without the periodic fetch loop")
}

// --- articles command ---

var articlesLimit int

var articlesCmd = &cobra.Command{
	Use:   "articles",
	Short: "List the current snapshot, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.LoadSnapshot()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Snapshot is empty. Run 'feedwatch run' first.")
			return nil
		}
		for i, it := range items {
			if articlesLimit > 0 && i >= articlesLimit {
				fmt.Printf("... %d more\n", len(items)-articlesLimit)
				break
			}
			fmt.Printf("%s  [%s] %s\n", it.PublishedAt.Local().Format("2006-01-02 15:04"), it.SourceTitle, it.Title)
			fmt.Printf("    %s\n", it.Link)
		}
		return nil
	},
}

func init() {
	articlesCmd.Flags().IntVarP(&articlesLimit, "limit", "n", 30, "Maximum number of items to print (0 for all)")
}

// --- search command ---

var searchK int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank the current snapshot by similarity to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if app.search == nil {
			return fmt.Errorf("semantic search is disabled: set summarization.embedding_model")
		}
		items, err := app.pipeline.GetArticles()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Snapshot is empty. Run 'feedwatch run' first.")
			return nil
		}

		results, err := app.search.Search(cmd.Context(), items, strings.Join(args, " "), searchK)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.3f  [%s] %s\n", r.Score, r.SourceTitle, r.Title)
			fmt.Printf("       %s\n", r.Link)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchK, "top", "k", search.DefaultK, "Number of results")
}

// --- report command ---

var reportModel string

var reportCmd = &cobra.Command{
	Use:   "report [watch-id] [links...]",
	Short: "Generate (or show the cached) briefing for a watch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp()
		if err != nil {
			return err
		}
		defer app.Close()

		rep, err := app.pipeline.GenerateReport(cmd.Context(), args[0], args[1:], llm.ParseModel(reportModel))
		if err != nil {
			return err
		}
		fmt.Printf("# %s · %s\n\n%s\n", rep.WatchName, database.FormatDateDisplay(rep.Date), rep.Narrative)
		if len(rep.Links) > 0 {
			fmt.Println("\nSources:")
			for _, l := range rep.Links {
				fmt.Printf("  %s\n", l)
			}
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportModel, "model", "m", "", "Model as backend-name, e.g. groq-llama3-8b-8192")
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the feed registry",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sources, err := db.ListSources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No sources. Add one with: feedwatch sources add <title> <url>")
			return nil
		}
		for _, s := range sources {
			fmt.Printf("  %-20s %s\n", s.ID, s.Title)
			fmt.Printf("  %-20s %s\n", "", s.FeedURL)
		}
		return nil
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add [title] [url]",
	Short: "Register a feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		id := database.SourceIDFromTitle(args[0])
		if existing, err := db.GetSource(id); err != nil {
			return err
		} else if existing != nil {
			return fmt.Errorf("source %s already exists", id)
		}
		src, err := db.InsertSource(database.Source{Title: args[0], FeedURL: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("Added source %s: %s\n", src.ID, src.FeedURL)
		return nil
	},
}

var (
	sourceTitle string
	sourceURL   string
)

var sourcesUpdateCmd = &cobra.Command{
	Use:   "update [id]",
	Short: "Change a feed's title or url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		var title, url *string
		if cmd.Flags().Changed("title") {
			title = &sourceTitle
		}
		if cmd.Flags().Changed("url") {
			url = &sourceURL
		}
		if err := db.UpdateSource(args[0], title, url); err != nil {
			return fmt.Errorf("updating source %s: %w", args[0], err)
		}
		fmt.Printf("Updated source %s\n", args[0])
		return nil
	},
}

var sourcesRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Unregister a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteSource(args[0]); err != nil {
			return fmt.Errorf("removing source %s: %w", args[0], err)
		}
		fmt.Printf("Removed source %s\n", args[0])
		return nil
	},
}

func init() {
	sourcesUpdateCmd.Flags().StringVar(&sourceTitle, "title", "", "New title")
	sourcesUpdateCmd.Flags().StringVar(&sourceURL, "url", "", "New feed url")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(sourcesUpdateCmd)
	sourcesCmd.AddCommand(sourcesRemoveCmd)
}

// --- watches command ---

var watchesCmd = &cobra.Command{
	Use:     "watches",
	Aliases: []string{"projects"},
	Short:   "Manage keyword watches",
}

var watchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watches and their latest briefing",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		watches, err := db.ListWatches()
		if err != nil {
			return err
		}
		if len(watches) == 0 {
			fmt.Println("No watches. Add one with: feedwatch watches add <keyword> [name]")
			return nil
		}

		cache := report.NewCache(db)
		sort.SliceStable(watches, func(i, j int) bool { return watches[i].Name < watches[j].Name })
		for _, w := range watches {
			latest := "never"
			if r, err := cache.Latest(w.ID); err == nil && r != nil {
				latest = r.Date
			}
			fmt.Printf("  %s  %-20s keyword=%q  last briefing: %s\n", w.ID, w.Name, w.Keyword, latest)
		}
		return nil
	},
}

var watchesAddCmd = &cobra.Command{
	Use:   "add [keyword] [name]",
	Short: "Watch a keyword",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		w := database.Watch{Keyword: args[0]}
		if len(args) > 1 {
			w.Name = args[1]
		}
		created, err := db.InsertWatch(w)
		if err != nil {
			return err
		}
		fmt.Printf("Added watch %s: %q\n", created.ID, created.Keyword)
		return nil
	},
}

var watchesRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Stop watching a keyword",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteWatch(args[0]); err != nil {
			return fmt.Errorf("removing watch %s: %w", args[0], err)
		}
		fmt.Printf("Removed watch %s\n", args[0])
		return nil
	},
}

func init() {
	watchesCmd.AddCommand(watchesListCmd)
	watchesCmd.AddCommand(watchesAddCmd)
	watchesCmd.AddCommand(watchesRemoveCmd)
}

// --- wiring ---

type app struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	search   *search.Index // nil when no embedding model is configured
}

func (a *app) Close() error { return a.db.Close() }

// newApp opens the database and wires the fetch, summarization and report
// stages from the loaded config.
func newApp() (*app, error) {
	db, err := openDB()
	if err != nil {
		return nil, err
	}

	sum := cfg.Summarization
	backend, err := llm.ParseBackend(sum.Provider)
	if err != nil {
		db.Close()
		return nil, err
	}
	router := llm.NewRouter(llm.RouterConfig{
		Default:      backend,
		OllamaModel:  sum.Model,
		OllamaURL:    sum.OllamaURL,
		OpenAIModel:  sum.OpenAIModel,
		OpenAIKeyEnv: sum.APIKeyEnv,
		GroqKeyEnv:   sum.GroqAPIKeyEnv,
		Wrap: func(p llm.Provider) llm.Provider {
			return llm.RetryOnRateLimit(llm.Paced(p, sum.RequestsPerMinute), sum.RateLimitBackoff.Duration)
		},
	})

	extractor := fetch.NewExtractor(cfg.Fetch.Timeout.Duration, cfg.Fetch.UserAgent)
	images := &enrich.Resolver{
		Brands:      enrich.NewBrandCache(enrich.NewLogoService(cfg.Images.BrandLookupURL, cfg.Images.BrandTimeout.Duration)),
		Placeholder: cfg.Images.PlaceholderURL,
		Verbose:     verbose,
	}
	if cfg.Images.ExtractPages {
		images.Extractor = extractor
	}

	fetcher := collect.NewFetcher(cfg.Fetch, images)
	collector := collect.NewCollector(fetcher, cfg.Fetch.Concurrency)

	gen := report.NewGenerator(db, report.NewCache(db), router, extractor, report.Options{
		Summarize: summarize.Options{
			ChunkSize:    sum.ChunkSize,
			ChunkOverlap: sum.ChunkOverlap,
			MaxTokens:    sum.MaxTokens / 2,
		},
		Concurrency: sum.Concurrency,
		MaxTokens:   sum.MaxTokens,
	})

	a := &app{db: db, pipeline: pipeline.New(db, collector, gen, llm.Model{})}
	if sum.EmbeddingModel != "" {
		a.search = search.NewIndex(llm.NewOllamaEmbedder(sum.EmbeddingModel, sum.OllamaURL))
	}
	return a, nil
}

// openDB opens the database in the data directory and seeds the source
// registry from the config on first use.
func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(filepath.Join(dataDir, "feedwatch.db"))
	if err != nil {
		return nil, err
	}

	seed := make([]database.Source, 0, len(cfg.Sources))
	for _, f := range cfg.Sources {
		seed = append(seed, database.Source{ID: f.ID, Title: f.Title, FeedURL: f.URL})
	}
	if n, err := db.SeedSources(seed); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding sources: %w", err)
	} else if n > 0 {
		log.Printf("Seeded %d sources from config", n)
	}
	return db, nil
}
