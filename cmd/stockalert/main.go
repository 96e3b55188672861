// Package main provides the stockalert CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/stockalert/internal/api"
	"github.com/good-yellow-bee/stockalert/internal/api/health"
	"github.com/good-yellow-bee/stockalert/internal/batch"
	"github.com/good-yellow-bee/stockalert/internal/logging"
	"github.com/good-yellow-bee/stockalert/internal/metrics"
	"github.com/good-yellow-bee/stockalert/pkg/config"
)

var (
	configFile string
	dsn        string
	verbose    bool
	output     string
)

var rootCmd = &cobra.Command{
	Use:   "stockalert",
	Short: "stockalert - tenant-scoped stock alert engine",
	Long: `stockalert evaluates inventory and service-level alert rules for every
active tenant on a fixed interval, suppresses repeated alerts, records an
audit entry per firing and notifies recipients over WhatsApp, email and Slack.

Examples:
  # Run the scheduler, HTTP API and metrics server
  stockalert serve -c configs/stockalert.yaml

  # Run a single batch tick and print the report
  stockalert tick -o csv

  # Show which rules of a tenant would fire right now
  stockalert evaluate --tenant acme`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, HTTP API and metrics server",
	RunE:  runServe,
}

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one batch tick across all active tenants",
	RunE:  runTick,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Dry-run every active rule of a tenant without recording or notifying",
	RunE:  runEvaluate,
}

var testRuleCmd = &cobra.Command{
	Use:   "test-rule",
	Short: "Fire a rule on demand, bypassing deduplication",
	RunE:  runTestRule,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load tenants, products, sales and rules from a YAML fixture",
	RunE:  runSeed,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("output") && output == "json" {
			data, _ := json.MarshalIndent(config.GetBuildInfo(), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.VersionString())
	},
}

var (
	tenantID string
	ruleID   string
	note     string
	seedFile string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "database DSN (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "output format (json, csv)")

	evaluateCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	evaluateCmd.MarkFlagRequired("tenant")

	testRuleCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	testRuleCmd.Flags().StringVar(&ruleID, "rule", "", "rule ID")
	testRuleCmd.Flags().StringVar(&note, "note", "", "note attached to the test alert")
	testRuleCmd.MarkFlagRequired("tenant")
	testRuleCmd.MarkFlagRequired("rule")

	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "fixture file")
	seedCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(serveCmd, tickCmd, evaluateCmd, testRuleCmd, migrateCmd, seedCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func exporter(cmd *cobra.Command) (*batch.Exporter, error) {
	format, ok := batch.ParseExportFormat(output)
	if !ok {
		return nil, fmt.Errorf("unsupported output format: %s", output)
	}
	return batch.NewExporter(format, cmd.OutOrStdout()), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	srv, err := api.New(&api.Config{
		Address:        cfg.Server.HTTPAddress,
		RequestTimeout: cfg.RequestTimeout(),
		Verbose:        cfg.Verbose,
	}, a.service, a.store.AlertEvents(), log)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewDatabaseChecker(a.store))
	if a.redis != nil {
		srv.RegisterHealthChecker(health.NewRedisChecker(a.redis))
	}

	scheduler := a.newScheduler()

	log.Info("starting stockalert", zap.String("version", config.Version))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.Server.MetricsAddress != "-" {
		metricsSrv := metrics.NewServer(cfg.Server.MetricsAddress, log)
		g.Go(metricsSrv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	stats := scheduler.Stats()
	log.Info("stockalert stopped",
		zap.Int64("ticks_started", stats.Started.Load()),
		zap.Int64("ticks_skipped", stats.Skipped.Load()),
		zap.Int64("ticks_failed", stats.Failed.Load()),
	)
	a.logEngineStats("engine stats")
	return nil
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	exp, err := exporter(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.newScheduler().RunOnce(ctx)
	if err != nil {
		if errors.Is(err, batch.ErrTickLocked) {
			a.logger.Info("another replica is running the tick")
			return nil
		}
		return fmt.Errorf("run tick: %w", err)
	}
	a.logEngineStats("engine stats")
	return exp.ExportReport(report)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	exp, err := exporter(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	firings, err := a.service.EvaluateAllAlerts(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("evaluate tenant %s: %w", tenantID, err)
	}
	return exp.ExportFirings(firings)
}

func runTestRule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.service.TestRule(ctx, tenantID, ruleID, note)
	if res == nil {
		return fmt.Errorf("test rule: %w", err)
	}
	if err != nil {
		a.logger.Warn("test rule completed with errors", zap.Error(err))
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if encErr := encoder.Encode(res); encErr != nil {
		return encErr
	}
	return err
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	return store.Close()
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	fixture, err := LoadFixture(seedFile)
	if err != nil {
		return err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signalContext()
	defer stop()

	counts, err := fixture.Apply(ctx, store, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("fixture loaded",
		zap.String("file", seedFile),
		zap.Int("tenants", counts.Tenants),
		zap.Int("products", counts.Products),
		zap.Int("sales", counts.Sales),
		zap.Int("rules", counts.Rules),
	)
	return nil
}
