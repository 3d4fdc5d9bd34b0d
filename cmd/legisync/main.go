package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opendiscourse/legisync/internal/ingest"
	"github.com/opendiscourse/legisync/internal/store"
	"github.com/opendiscourse/legisync/pkg/config"
	"github.com/opendiscourse/legisync/pkg/govinfo"
	"github.com/opendiscourse/legisync/pkg/logger"
	"github.com/opendiscourse/legisync/pkg/models"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string

	root := &cobra.Command{
		Use:   "legisync",
		Short: "Legisync - resumable ingestion of legislative data into PostgreSQL",
		Long: `Legisync ingests paginated collections from the GovInfo API into
PostgreSQL. Runs are rate limited, batched, and resumable: an interrupted
run continues from the last committed batch.`,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML configuration file (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("legisync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "collections",
		Short: "Sync the collection catalog from the remote source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configFile, func(ctx context.Context, app *app) error {
				summary, err := app.engine.SyncCollections(ctx)
				if err != nil {
					return err
				}
				printCatalogSummary(summary)
				if len(summary.Errors) > 0 {
					return fmt.Errorf("catalog sync finished with %d errors", len(summary.Errors))
				}
				return nil
			})
		},
	})

	var (
		batchSize  int
		maxRecords int
		startDate  string
		endDate    string
		workers    int
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest CODE",
		Short: "Ingest packages from one collection",
		Long: `Ingest packages from the named collection (e.g. BILLS, CREC),
resuming after the last successfully committed batch.

Example:
  legisync ingest BILLS --batch-size 100 --start-date 2024-01-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configFile, func(ctx context.Context, app *app) error {
				opts := ingest.Options{
					Code:       args[0],
					BatchSize:  batchSize,
					MaxRecords: maxRecords,
					StartDate:  startDate,
					EndDate:    endDate,
					Workers:    workers,
					QueueSize:  app.cfg.Ingest.QueueSize,
					MaxErrors:  app.cfg.Ingest.MaxErrorsReported,
				}
				if opts.BatchSize == 0 {
					opts.BatchSize = app.cfg.Ingest.BatchSize
				}
				if opts.Workers == 0 {
					opts.Workers = app.cfg.Ingest.Workers
				}

				summary, err := app.engine.IngestCollection(ctx, opts)
				if err != nil {
					return err
				}
				printRunSummary(summary)
				if summary.ErrorCount > 0 {
					return fmt.Errorf("run finished with %d errors", summary.ErrorCount)
				}
				return nil
			})
		},
	}
	ingestCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per fetch, up to the API maximum of 1000")
	ingestCmd.Flags().IntVar(&maxRecords, "max-records", 0, "Stop after this many records (0 ingests to end of stream)")
	ingestCmd.Flags().StringVar(&startDate, "start-date", "", "Only fetch packages modified on or after this date (YYYY-MM-DD)")
	ingestCmd.Flags().StringVar(&endDate, "end-date", "", "Only fetch packages modified on or before this date (YYYY-MM-DD)")
	ingestCmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent record workers")
	root.AddCommand(ingestCmd)

	var detailsWorkers int
	var detailsCode string
	detailsCmd := &cobra.Command{
		Use:   "details ID [ID...]",
		Short: "Fetch and store full metadata for explicit package IDs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configFile, func(ctx context.Context, app *app) error {
				w := detailsWorkers
				if w == 0 {
					w = app.cfg.Ingest.Workers
				}
				summary, err := app.engine.IngestPackageDetails(ctx, detailsCode, args, w)
				if err != nil {
					return err
				}
				printRunSummary(summary)
				if summary.ErrorCount > 0 {
					return fmt.Errorf("run finished with %d errors", summary.ErrorCount)
				}
				return nil
			})
		},
	}
	detailsCmd.Flags().StringVar(&detailsCode, "collection", "", "Collection code to file the packages under")
	detailsCmd.Flags().IntVar(&detailsWorkers, "workers", 0, "Number of concurrent fetch workers")
	root.AddCommand(detailsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "test-api",
		Short: "Check connectivity to the remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGateway(configFile, func(ctx context.Context, _ *config.Config, gateway *govinfo.Client) error {
				collections, err := gateway.Collections(ctx)
				if err != nil {
					return err
				}
				stats := gateway.Stats()
				fmt.Printf("API reachable: %d collections available\n", len(collections))
				fmt.Printf("Requests:      %d (%d failed)\n", stats.TotalRequests, stats.FailedRequests)
				fmt.Printf("Rate limit:    %d/%d this window\n",
					stats.RateLimit.RequestsThisWindow, stats.RateLimit.MaxPerWindow)
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show stored row counts and ingestion log totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(configFile, func(ctx context.Context, app *app) error {
				counts, err := app.store.Counts(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Collections:  %d\n", counts.Collections)
				fmt.Printf("Packages:     %d\n", counts.Packages)
				fmt.Printf("Log entries:  %d\n", counts.LogEntries)
				if len(counts.PackagesByCollection) > 0 {
					fmt.Println("Packages per collection:")
					for code, n := range counts.PackagesByCollection {
						fmt.Printf("  %-12s %d\n", code, n)
					}
				}
				return nil
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles the wired components of one CLI invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *ingest.Engine
}

// withGateway loads configuration, initializes logging, and wires the
// API gateway. SIGINT/SIGTERM cancel the context. Commands that never
// touch the database use it directly.
func withGateway(configFile string, fn func(ctx context.Context, cfg *config.Config, gateway *govinfo.Client) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Encoding:    cfg.Log.Encoding,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := govinfo.NewClient(ctx, govinfo.Config{
		BaseURL:            cfg.API.BaseURL,
		APIKey:             cfg.API.APIKey,
		UserAgent:          cfg.API.UserAgent,
		RequestTimeout:     cfg.API.RequestTimeout,
		MaxRetries:         cfg.API.MaxRetries,
		RetryBaseDelay:     cfg.API.RetryBaseDelay,
		MinInterval:        cfg.RateLimit.MinInterval,
		MaxRequestsPerHour: cfg.RateLimit.MaxRequestsPerHour,
		SessionPoolMin:     cfg.Ingest.SessionPoolMin,
		SessionPoolMax:     cfg.Ingest.SessionPoolMax,
	}, logger.Get())
	if err != nil {
		return err
	}
	defer gateway.Close()

	return fn(ctx, cfg, gateway)
}

// withApp wires the full stack: gateway, store, and engine. A run is
// stopped at the next batch boundary when the context is cancelled.
func withApp(configFile string, fn func(ctx context.Context, app *app) error) error {
	return withGateway(configFile, func(ctx context.Context, cfg *config.Config, gateway *govinfo.Client) error {
		st, err := store.Connect(ctx, store.Config{
			DSN:            cfg.Database.DSN,
			MinConns:       cfg.Database.MinConns,
			MaxConns:       cfg.Database.MaxConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		}, logger.Get())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}

		return fn(ctx, &app{
			cfg:    cfg,
			store:  st,
			engine: ingest.NewEngine(gateway, st, st, logger.Get()),
		})
	})
}

func printRunSummary(s *models.RunSummary) {
	fmt.Printf("Collection:   %s\n", s.CollectionCode)
	fmt.Printf("Ingested:     %d\n", s.TotalIngested)
	fmt.Printf("  inserted:   %d\n", s.Inserted)
	fmt.Printf("  updated:    %d\n", s.Updated)
	fmt.Printf("  duplicates: %d\n", s.DuplicatesSkipped)
	fmt.Printf("Batches:      %d\n", s.BatchesCompleted)
	fmt.Printf("Last offset:  %d\n", s.LastOffset)
	fmt.Printf("Duration:     %s (%.1f records/s)\n", s.Duration.Round(time.Millisecond), s.Throughput)
	if s.ErrorCount > 0 {
		fmt.Printf("Errors:       %d\n", s.ErrorCount)
		for _, msg := range s.Errors {
			fmt.Printf("  - %s\n", msg)
		}
		if s.ErrorCount > len(s.Errors) {
			fmt.Printf("  ... and %d more\n", s.ErrorCount-len(s.Errors))
		}
	}
}

func printCatalogSummary(s *models.CatalogSummary) {
	fmt.Printf("Collections:  %d\n", s.TotalCollections)
	fmt.Printf("  inserted:   %d\n", s.Inserted)
	fmt.Printf("  updated:    %d\n", s.Updated)
	for _, msg := range s.Errors {
		fmt.Printf("  - %s\n", msg)
	}
}
