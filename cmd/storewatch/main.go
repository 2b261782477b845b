package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/storewatch/storewatch/pkg/httpapi"
	"github.com/storewatch/storewatch/pkg/ingest"
	"github.com/storewatch/storewatch/pkg/jobs"
	"github.com/storewatch/storewatch/pkg/logger"
	"github.com/storewatch/storewatch/pkg/metrics"
	"github.com/storewatch/storewatch/pkg/obstore"
	obsmemory "github.com/storewatch/storewatch/pkg/obstore/memory"
	obspostgres "github.com/storewatch/storewatch/pkg/obstore/postgres"
	"github.com/storewatch/storewatch/pkg/report"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
)

const (
	defaultListenAddr      = "0.0.0.0:5000"
	defaultMetricsAddr     = "0.0.0.0:0"
	defaultDataDir         = "data"
	defaultReportsDir      = "reports"
	defaultWorkers         = 16
	defaultTimezone        = "America/Chicago"
	defaultShutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP server listen address")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	dataDirFlag := flag.String("data-dir", defaultDataDir, "Directory with the source CSV dumps")
	reportsDirFlag := flag.String("reports-dir", defaultReportsDir, "Directory for generated report artifacts")
	databaseURLFlag := flag.String("database-url", "", "Postgres connection URL (or set DATABASE_URL env var; empty runs in-memory)")
	migrateFlag := flag.Bool("migrate", false, "run database migrations on startup")
	workersFlag := flag.Int("workers", defaultWorkers, "concurrent stores per report run")
	defaultTimezoneFlag := flag.String("default-timezone", defaultTimezone, "timezone for stores without a timezone row")
	loadDataFlag := flag.Bool("load-data", true, "ingest CSV dumps on startup when tables are empty")
	flag.Parse()

	// Load .env file. godotenv does not override existing env vars, so
	// process env and explicit exports take precedence.
	_ = godotenv.Load()

	if envDatabaseURL := os.Getenv("DATABASE_URL"); envDatabaseURL != "" {
		*databaseURLFlag = envDatabaseURL
	}

	log := logger.New(*verboseFlag)
	log.Info("storewatch starting",
		"version", version,
		"commit", commit,
		"listen_addr", *listenAddrFlag,
		"postgres", *databaseURLFlag != "",
	)

	sentryDSN := os.Getenv("SENTRY_DSN")
	if sentryDSN != "" {
		sentryEnv := os.Getenv("SENTRY_ENVIRONMENT")
		if sentryEnv == "" {
			sentryEnv = "development"
		}
		release := version
		if commit != "none" {
			release = version + "-" + commit
		}
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         sentryDSN,
			Environment: sentryEnv,
			Release:     release,
		}); err != nil {
			log.Warn("sentry initialization failed", "error", err)
		} else {
			log.Info("sentry initialized", "environment", sentryEnv, "release", release)
			defer sentry.Flush(2 * time.Second)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigCh
		log.Info("received signal", "signal", sig.String())
		cancel()
	}()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	metricsServerErrCh := make(chan error, 1)
	if *metricsAddrFlag != "" {
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
			}
		}()
	}

	var store obstore.Store
	var writer obstore.Writer
	if *databaseURLFlag != "" {
		if *migrateFlag {
			if err := obspostgres.RunMigrations(ctx, log, *databaseURLFlag); err != nil {
				return err
			}
		}
		pool, err := pgxpool.New(ctx, *databaseURLFlag)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping postgres: %w", err)
		}
		pg, err := obspostgres.NewStore(obspostgres.StoreConfig{
			Logger:          log,
			Pool:            pool,
			DefaultTimezone: *defaultTimezoneFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create postgres store: %w", err)
		}
		store, writer = pg, pg
		log.Info("postgres store initialized")
	} else {
		mem, err := obsmemory.NewStore(obsmemory.StoreConfig{
			Logger:          log,
			DefaultTimezone: *defaultTimezoneFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create in-memory store: %w", err)
		}
		store, writer = mem, mem
		log.Info("in-memory store initialized")
	}

	if *loadDataFlag {
		loader, err := ingest.NewLoader(ingest.Config{
			Logger:  log,
			Writer:  writer,
			DataDir: *dataDirFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create loader: %w", err)
		}
		if err := loader.LoadAll(ctx); err != nil {
			return fmt.Errorf("failed to load source data: %w", err)
		}
	}

	generator, err := report.New(report.Config{
		Logger:  log,
		Clock:   clockwork.NewRealClock(),
		Store:   store,
		Workers: *workersFlag,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to create report generator: %w", err)
	}

	server, err := httpapi.NewServer(httpapi.Config{
		Logger:     log,
		Registry:   jobs.NewRegistry(clockwork.NewRealClock()),
		Generator:  generator,
		ReportsDir: *reportsDirFlag,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	handler := server.Router()
	if sentryDSN != "" {
		sentryHandler := sentryhttp.New(sentryhttp.Options{
			Repanic: true, // Re-panic after capturing so Recoverer can handle it
		})
		handler = sentryHandler.Handle(handler)
	}

	httpServer := &http.Server{
		Addr:              *listenAddrFlag,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "address", *listenAddrFlag)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down HTTP server cleanly", "error", err)
		}
		return nil
	case err := <-serverErrCh:
		log.Error("HTTP server error causing shutdown", "error", err)
		return err
	case err := <-metricsServerErrCh:
		log.Error("metrics server error causing shutdown", "error", err)
		return err
	}
}
