package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pricesync/config"
	"pricesync/internal/pricesync/collector"
	"pricesync/internal/pricesync/fetcher"
	"pricesync/internal/pricesync/registry"
	"pricesync/internal/pricesync/scheduler"
	"pricesync/logger"
	"pricesync/pkg/storage/sqlstore"
)

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "pricesync [--tickers SYMBOL...]",
		Short: "Sync daily price bars for tracked tickers",
		Long: `Fetch daily price history for every ticker in the store, starting after
the latest stored date, and insert it without duplicates.

Examples:
  # Sync all tickers, 50 per chunk, confirming each chunk after the first
  pricesync

  # Sync two tickers only
  pricesync --tickers AAPL MSFT

  # Walk the chunks without fetching or writing anything
  pricesync --dry-run --chunk-size 100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile, args)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("chunk-size", 50, "Number of tickers per chunk")
	flags.StringSlice("tickers", nil, "Only sync these tickers (e.g. --tickers AAPL MSFT)")
	flags.Bool("dry-run", false, "Check watermarks and chunking without fetching or saving")
	flags.String("db-path", "StockData.db", "Path to the SQLite database")
	flags.Bool("yes", false, "Process every chunk without asking")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&configFile, "config", "", "Config file (default ./config.yaml)")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and adds positional arguments to the
// ticker filter, so "--tickers AAPL MSFT" selects both symbols. Positional
// symbols without --tickers are rejected.
func loadConfig(cmd *cobra.Command, configFile string, args []string) (*config.Config, error) {
	if len(args) > 0 && !cmd.Flags().Changed("tickers") {
		return nil, fmt.Errorf("unexpected arguments %v (did you mean --tickers %s?)", args, strings.Join(args, " "))
	}

	// viper config
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	cfg.AddTickers(args...)
	return cfg, nil
}

func run(cfg *config.Config) error {
	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, cfg.Store)
	if err != nil {
		log.Error("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return fmt.Errorf("failed to open store: %w", err)
	}

	var f collector.Fetcher
	if !cfg.Sync.DryRun {
		provider, err := fetcher.NewProvider(cfg.Provider)
		if err != nil {
			store.Close()
			log.Error("failed to set up provider", zap.String("provider", cfg.Provider.Name), zap.Error(err))
			return err
		}
		f = fetcher.New(provider, fetcher.PolicyFrom(cfg.Provider), log)
	}

	c := &collector.Collector{
		Options: collector.Options{
			ChunkSize:    cfg.Sync.ChunkSize,
			Symbols:      cfg.Sync.Tickers,
			DryRun:       cfg.Sync.DryRun,
			StorePath:    storePath(cfg.Store),
			RequestDelay: cfg.Sync.RequestDelay,
			AssumeYes:    cfg.Sync.Yes,
		},
		Registry: &registry.Registry{Lister: store, Logger: log},
		Store:    store,
		Fetcher:  f,
		Gate:     &scheduler.PromptGate{In: os.Stdin, Out: os.Stdout, Logger: log},
		Out:      os.Stdout,
		Logger:   log,
	}
	defer c.Close()

	sum, err := c.Run(ctx)
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return err
	}
	if errors.Is(sum.Empty, registry.ErrNoMatchingTickers) || errors.Is(sum.Empty, registry.ErrNoTickers) {
		log.Info("nothing to do", zap.Error(sum.Empty))
	}
	return nil
}

func storePath(cfg config.StoreConfig) string {
	if cfg.Driver == config.DriverSQLite {
		return cfg.Path
	}
	return ""
}
