package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/framewell/dbsvc/internal/demo"
	"github.com/framewell/dbsvc/pkg/crud"
	"github.com/framewell/dbsvc/pkg/metrics"
	"github.com/framewell/dbsvc/pkg/rest"
	"github.com/framewell/dbsvc/pkg/schema"

	mw "github.com/framewell/dbsvc/pkg/httputil/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Starts the REST gateway exposing CRUD operations over the configured PostgreSQL schema`,
	Run:   runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("pg.connString", "c", "", "PostgreSQL connection string")
	f.String("pg.schema", "", "PostgreSQL schema to expose (default public)")
	f.StringP("server.listenAddr", "l", "", "server listen address")
	f.String("server.baseURL", "", "base URL for API endpoints")
	f.Bool("metrics.enabled", false, "serve Prometheus metrics")
	f.String("metrics.addr", "", "metrics listen address")
	f.Bool("demo", false, "apply the bundled Shot/Asset demo schema on startup")

	viper.BindPFlags(f)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger := newLogger(logLevel)
	defer logger.Sync() //nolint:errcheck

	connString := cfg.PG.ConnString
	if s := viper.GetString("pg.connString"); s != "" {
		connString = s
	}
	if connString == "" {
		connString = os.Getenv("DBSVC_PG_CONNSTRING")
	}
	if connString == "" {
		logger.Fatal("PostgreSQL connection string required")
	}
	if s := viper.GetString("server.listenAddr"); s != "" {
		cfg.Server.ListenAddr = s
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectWithRetry(ctx, connString, logger)
	defer pool.Close()

	if cfg.Demo || viper.GetBool("demo") {
		if err := demo.Apply(ctx, pool); err != nil {
			logger.Fatal("failed to apply demo schema", zap.Error(err))
		}
	}

	catalog := schema.NewCatalog(pool, cfg.PG.Schema, logger)
	if err := catalog.Init(ctx); err != nil {
		logger.Fatal("failed to initialize schema catalog", zap.Error(err))
	}
	defer catalog.Close()

	executor := crud.New(pool, catalog, logger)
	server := rest.NewServer(executor, catalog, cfg.Server.BaseURL, logger)
	server.AddMiddleware(
		mw.RequestID,
		mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}),
	)

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled || viper.GetBool("metrics.enabled") {
		metrics.StartServer(ctx, &wg, &metrics.ServerOpts{Addr: cfg.Metrics.Addr}, logger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()
	wg.Wait()
	logger.Info("server stopped")
}

// connectWithRetry keeps dialing the store with exponential backoff so a
// slow-starting database does not kill the process.
func connectWithRetry(ctx context.Context, connString string, logger *zap.Logger) *pgxpool.Pool {
	var pool *pgxpool.Pool
	operation := func() error {
		var err error
		pool, err = pgxpool.New(ctx, connString)
		if err != nil {
			return err
		}
		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		logger.Fatal("failed to connect to store", zap.Error(err))
	}
	return pool
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
