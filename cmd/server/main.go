package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"healthmap/internal/api"
	"healthmap/internal/config"
	"healthmap/internal/engine"
	"healthmap/internal/logging"
	"healthmap/internal/metrics"
	"healthmap/internal/source"
)

type options struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "healthmap",
		Short:        "Serve health indicators joined to world boundaries",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "healthmap.yaml", "config file (missing file uses defaults)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the API and load data in the background",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and join the sources once, print coverage and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, opts)
		},
	})
	return root
}

func setup(opts *options) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// pipeline returns the load function shared by serve and check.
func pipeline(cfg *config.Config, logger *zap.Logger) func(context.Context) (*engine.Dataset, error) {
	opener := source.NewOpener(source.S3Options{
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
		PathStyle: cfg.S3.PathStyle,
	})
	return func(ctx context.Context) (*engine.Dataset, error) {
		opts := cfg.PipelineOptions()
		if cfg.Data.Aliases != "" {
			rc, err := opener.Open(ctx, cfg.Data.Aliases)
			if err != nil {
				return nil, fmt.Errorf("open aliases: %w", err)
			}
			defer rc.Close()
			if opts.Aliases, err = engine.ParseAliases(rc); err != nil {
				return nil, fmt.Errorf("aliases %s: %w", cfg.Data.Aliases, err)
			}
			logger.Debug("alias table loaded",
				zap.String("uri", cfg.Data.Aliases),
				zap.Int("version", opts.Aliases.Version()),
				zap.Int("entries", opts.Aliases.Len()))
		}
		return engine.Build(ctx, opener, opts)
	}
}

func report(logger *zap.Logger, ds *engine.Dataset) {
	cov := ds.Coverage
	logger.Info("pipeline loaded",
		zap.Int("indicator_rows", cov.IndicatorRows),
		zap.Int("skipped_rows", ds.Stats.Skipped),
		zap.Int("matched_rows", cov.MatchedRows),
		zap.Float64("coverage", cov.Ratio),
		zap.Int("boundaries", cov.BoundaryRows),
		zap.String("join", string(ds.JoinMode)),
		zap.Duration("took", ds.LoadTime))
	if len(cov.Unmatched) > 0 {
		logger.Warn("indicator names without a boundary", zap.Strings("names", cov.Unmatched))
	}
	if len(cov.StaleAliases) > 0 {
		logger.Warn("aliases not present in indicator data", zap.Strings("sources", cov.StaleAliases))
	}
}

func runServe(ctx context.Context, opts *options) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. The API is live immediately and answers 503 until data is loaded.
	h := api.NewHandler(nil, engine.NewCache(cfg.Cache.MaxEntries), metrics.New())
	e := api.NewServer(h, api.ServerOptions{
		RateLimit:   cfg.Server.RateLimit,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, logger)

	// 2. Load in the background.
	load := pipeline(cfg, logger)
	go func() {
		logger.Info("loading sources",
			zap.String("indicators", cfg.Data.Indicators),
			zap.String("boundaries", cfg.Data.Boundaries))
		ds, err := h.Load(ctx, load)
		if err != nil {
			logger.Error("pipeline failed", zap.Error(err))
		}
		if ds != nil {
			report(logger, ds)
		}
	}()

	// 3. Serve until interrupted.
	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		errc <- e.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}

// runCheck fails on a data error or an empty join so it can gate deploys.
func runCheck(cmd *cobra.Command, opts *options) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ds, err := pipeline(cfg, logger)(cmd.Context())
	if ds != nil {
		report(logger, ds)
		out, merr := json.MarshalIndent(ds.Coverage, "", "  ")
		if merr != nil {
			return merr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return err
}
