package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/app/api"
	"github.com/ksteinarsson/vaxta-crawler/internal/app/scraper"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/ai"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/config"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/fetch"
	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vaxta-crawler",
		Short:        "Crawls Icelandic bank interest rates into one canonical schema",
		SilenceUsage: true,
	}
	root.AddCommand(crawlCmd(), serveCmd())
	return root
}

func crawlCmd() *cobra.Command {
	var bankID string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the pipeline once and print the records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, env, err := buildService(ctx)
			if err != nil {
				return err
			}
			defer env.cleanup()

			results := map[string]scraper.Result{}
			if bankID != "" {
				res, err := svc.GetRates(ctx, bankID, true)
				if err != nil {
					return err
				}
				results[bankID] = res
			} else {
				results = svc.CrawlAll(ctx)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			for _, id := range svc.BankIDs() {
				if res, ok := results[id]; ok {
					if err := enc.Encode(res.Record); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bankID, "bank", "", "crawl a single bank instead of all")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve rate records over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, env, err := buildService(cmd.Context())
			if err != nil {
				return err
			}
			defer env.cleanup()

			return api.NewServer(svc, env.logger.Named("api")).ListenAndServe(env.cfg.HTTPAddr)
		},
	}
}

// env bundles what the commands need besides the service itself.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	cleanup func()
}

// buildService wires config, logging, persistence, acquisition and the
// optional generative fallback into one Service.
func buildService(ctx context.Context) (*scraper.Service, *env, error) {
	cfg := config.Load()
	logger := newLogger()
	cleanups := []func(){func() { _ = logger.Sync() }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		cleanups = append(cleanups, pool.Close)
	}

	pg := store.NewPostgres(pool, logger.Named("store"))
	if err := pg.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	opts := []scraper.ServiceOption{
		scraper.WithThreshold(cfg.NullThreshold),
		scraper.WithCacheTTL(cfg.CacheTTL),
		scraper.WithKeepLatest(cfg.KeepLatest),
	}

	if cfg.EnableAI && cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("gemini"))
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() { _ = gemini.Close() })
		opts = append(opts, scraper.WithFallback(ai.NewExtractor(gemini, logger.Named("ai"))))
	} else {
		logger.Info("generative fallback disabled",
			zap.Bool("enabled", cfg.EnableAI), zap.Bool("key_present", cfg.GeminiAPIKey != ""))
	}

	client := fetch.NewClient(logger.Named("fetch"))
	scrapers := scraper.All(client, logger.Named("scraper"))
	svc := scraper.NewService(pg, scrapers, logger.Named("service"), opts...)
	return svc, &env{cfg: cfg, logger: logger, cleanup: cleanup}, nil
}

func newLogger() *zap.Logger {
	if os.Getenv("ENV") == "production" {
		logger, err := zap.NewProduction()
		if err == nil {
			return logger
		}
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}
