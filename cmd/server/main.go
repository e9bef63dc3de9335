// Command server runs the askdb HTTP API: natural-language questions in,
// validated read-only SQL results out.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"askdb/internal/api"
	"askdb/internal/config"
	"askdb/internal/db"
	"askdb/internal/db/repository"
	"askdb/internal/domain"
	"askdb/internal/execute"
	"askdb/internal/generate"
	"askdb/internal/maintenance"
	"askdb/internal/meter"
	"askdb/internal/pattern"
	"askdb/internal/pipeline"
	"askdb/internal/resultcache"
	"askdb/internal/schema"
	"askdb/internal/sqlsafe"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "askdb-server",
		Short:         "Natural-language query API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "environment file loaded before configuration")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.janitor.Start(); err != nil {
		return fmt.Errorf("start maintenance janitor: %w", err)
	}
	defer app.janitor.Stop()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr, "simulation", cfg.SimulationMode, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// app bundles everything that needs closing at shutdown.
type app struct {
	handler http.Handler
	janitor *maintenance.Janitor

	writeDB *sql.DB
	readDB  *sql.DB
	targets *db.ConnectionRegistry
}

func (a *app) Close() {
	_ = a.targets.Close()
	_ = a.readDB.Close()
	_ = a.writeDB.Close()
}

// buildApp wires the full pipeline: metastore, target registry, schema
// cache, matcher, generator, validator, executor, result cache, meter,
// history, HTTP handler, and the maintenance janitor.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	writeDB, err := db.OpenSQLite(cfg.MetaDBPath, "write", 0)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	readDB, err := db.OpenSQLite(cfg.MetaDBPath, "read", 4)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open metastore read pool: %w", err)
	}
	if err := db.RunMigrations(writeDB); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("migrate metastore: %w", err)
	}

	targets, err := openTargets(ctx, cfg, logger)
	if err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}

	usageRepo := repository.NewUsageRepo(writeDB)
	historyWrites := repository.NewHistoryRepo(writeDB)
	historyReads := repository.NewHistoryRepo(readDB)

	schemaCache := schema.NewCache(
		schema.NewSQLIntrospector(targets, logger),
		schema.WithTTL(cfg.SchemaTTL),
		schema.WithProbeTimeout(cfg.SchemaProbeTimeout),
		schema.WithLogger(logger),
	)

	results := resultcache.New(cfg.ResultCacheCapacity)
	schemaCache.OnInvalidate(func(connectionID string) {
		if n := results.Invalidate(connectionID); n > 0 {
			logger.Info("dropped cached results after schema change",
				"connection_id", connectionID, "count", n)
		}
	})

	specs := pattern.DefaultLibrary()
	if cfg.PatternLibraryPath != "" {
		specs, err = pattern.LoadLibrary(cfg.PatternLibraryPath)
		if err != nil {
			targets.Close()
			writeDB.Close()
			readDB.Close()
			return nil, fmt.Errorf("load pattern library: %w", err)
		}
	}
	matcher, err := pattern.NewMatcher(specs, logger)
	if err != nil {
		targets.Close()
		writeDB.Close()
		readDB.Close()
		return nil, fmt.Errorf("compile pattern library: %w", err)
	}

	tokenMeter := meter.New(usageRepo, meter.Limits{
		HourlyTokens:  cfg.HourlyTokens,
		DailyTokens:   cfg.DailyTokens,
		MonthlyTokens: cfg.MonthlyTokens,
	}, meter.WithLogger(logger))

	generator := generate.New(newCompleter(cfg), tokenMeter, generate.Options{
		Model:               cfg.Completion.Model,
		MaxCompletionTokens: cfg.Completion.MaxCompletionTokens,
		ContextTokenBudget:  cfg.Completion.ContextTokenBudget,
		PromptCostPer1K:     cfg.Completion.PromptCostPer1K,
		CompletionCostPer1K: cfg.Completion.CompletionCostPer1K,
	}, logger)

	validator := sqlsafe.New(sqlsafe.Config{
		Denylist:        cfg.DenylistExtra,
		MaxJoins:        cfg.MaxJoins,
		MaxNestingDepth: cfg.MaxNestingDepth,
	})

	var executor domain.Executor
	if cfg.SimulationMode {
		executor = execute.NewSimulatedExecutor(schemaCache, logger)
	} else {
		executor = execute.NewLiveExecutor(targets, cfg.ExecTimeout, logger)
	}

	pipe := pipeline.New(pipeline.Options{
		Schemas:   schemaCache,
		Matcher:   matcher,
		Generator: generator,
		Validator: validator,
		Executor:  executor,
		Results:   results,
		History:   historyWrites,
		MaxRows:   cfg.MaxRows,
		Logger:    logger,
	})

	handler := api.NewHandler(pipe, historyReads, schemaCache, targets, tokenMeter, logger)
	router := handler.Router(api.RouterConfig{
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	janitor := maintenance.NewJanitor(schemaCache, usageRepo, maintenance.Config{
		UsageRetention: time.Duration(cfg.UsageRetentionDays) * 24 * time.Hour,
	}, logger)

	return &app{
		handler: router,
		janitor: janitor,
		writeDB: writeDB,
		readDB:  readDB,
		targets: targets,
	}, nil
}

func newCompleter(cfg *config.Config) domain.Completer {
	if cfg.Completion.Configured() {
		return generate.NewHTTPCompleter(cfg.Completion.APIURL, cfg.Completion.APIKey, cfg.Completion.Model, 30*time.Second)
	}
	return generate.NewStubCompleter()
}

// openTargets opens every configured target database and registers it. With
// no targets configured it seeds an in-memory demo schema so the pipeline is
// usable out of the box (simulation mode is forced on by the config loader in
// that case).
func openTargets(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.ConnectionRegistry, error) {
	targets := db.NewConnectionRegistry()

	if len(cfg.TargetDSNs) == 0 {
		demo, err := seedDemoTarget(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed demo target: %w", err)
		}
		targets.Register("demo", demo)
		logger.Info("no targets configured, registered in-memory demo schema", "connection_id", "demo")
		return targets, nil
	}

	for id, dsn := range cfg.TargetDSNs {
		conn, err := sql.Open("duckdb", dsn)
		if err != nil {
			targets.Close()
			return nil, fmt.Errorf("open target %q: %w", id, err)
		}
		if err := conn.PingContext(ctx); err != nil {
			logger.Warn("target unreachable at startup", "connection_id", id, "error", err)
		}
		targets.Register(id, conn)
		logger.Info("registered target", "connection_id", id)
	}
	return targets, nil
}

// seedDemoTarget builds a small retail schema in an in-memory SQLite
// database. Only introspection reads it; results come from the simulated
// executor.
func seedDemoTarget(ctx context.Context) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", "file:askdb_demo?mode=memory&cache=shared")
	if err != nil {
		return nil, err
	}
	// Keep one connection alive so the shared in-memory database survives.
	conn.SetMaxIdleConns(1)

	ddl := []string{
		`CREATE TABLE customers (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT,
			country TEXT,
			created_at TEXT
		)`,
		`CREATE TABLE products (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			price REAL,
			category TEXT
		)`,
		`CREATE TABLE orders (
			id INTEGER PRIMARY KEY,
			customer_id INTEGER REFERENCES customers(id),
			product_id INTEGER REFERENCES products(id),
			amount REAL,
			status TEXT,
			ordered_at TEXT
		)`,
	}
	for _, stmt := range ddl {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
