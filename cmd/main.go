package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"contentdrive/internal/config"
	"contentdrive/internal/handler"
	"contentdrive/internal/logging"
	"contentdrive/internal/repository"
	"contentdrive/internal/repository/memory"
	"contentdrive/internal/service"
	"contentdrive/internal/storage"
)

func connectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxAttempts int, delay time.Duration, logger logging.Logger) (*sqlx.DB, error) {
	var (
		db  *sqlx.DB
		err error
	)
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", cfg.GetDSN())
		if err == nil {
			return db, nil
		}

		logger.Warn(ctx, "failed to connect to database", "attempt", i+1, "max_attempts", maxAttempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}

func runMigrations(ctx context.Context, cfg config.DatabaseConfig, dir string, logger logging.Logger) error {
	m, err := migrate.New("file://"+dir, cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		logger.Warn(ctx, "found dirty migration state, forcing version", "version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func newRouter(h *handler.Handler, logger logging.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", handler.HeaderUserID, handler.HeaderLockToken},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug(r.Context(), "request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/v1", h.Routes())
	return r
}

func main() {
	configPath := flag.String("config", ".app.env", "path to the config file")
	migrationsDir := flag.String("migrations", "migrations", "directory with SQL migrations")
	flag.Parse()

	appConfig, err := config.NewConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(os.Stdout, appConfig.Logging.Level, appConfig.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appConfig, *migrationsDir, logger); err != nil {
		logger.Error(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "server exited properly")
}

func run(ctx context.Context, appConfig *config.Config, migrationsDir string, logger logging.Logger) error {
	var db *sqlx.DB
	if appConfig.NeedsDatabase() {
		var err error
		db, err = connectWithRetry(ctx, appConfig.Database, 5, 5*time.Second, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		db.SetMaxOpenConns(appConfig.Database.MaxOpenConns)
		db.SetMaxIdleConns(appConfig.Database.MaxIdleConns)
		db.SetConnMaxLifetime(appConfig.Database.ConnMaxLifetime)

		if err := runMigrations(ctx, appConfig.Database, migrationsDir, logger); err != nil {
			return err
		}
	}

	var store repository.Store
	switch appConfig.Metadata.Type {
	case config.MetadataMemory:
		store = memory.NewStore()
	default:
		store = repository.NewPostgresStore(db)
	}

	engine, err := storage.NewEngine(ctx, appConfig.Storage, db)
	if err != nil {
		return fmt.Errorf("failed to create storage engine: %w", err)
	}
	logger.Info(ctx, "backends ready", "metadata", appConfig.Metadata.Type, "storage", appConfig.Storage.Type)

	detector := service.SniffingDetector{}
	docs := service.NewDocumentService(store, engine, detector, logger)
	versions := service.NewVersionService(store, engine, detector, logger)
	locks := service.NewConcurrencyControl(store, logger)
	archive := service.NewArchiveService(store, engine, logger)
	cleanup := service.NewCleanupService(store, engine, logger)

	if _, err := docs.GetOrCreateRoot(ctx, ""); err != nil {
		return err
	}

	h := handler.NewHandler(docs, versions, locks, archive, cleanup, appConfig.Server.MaxBodyBytes, logger)
	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           newRouter(h, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "starting HTTP server", "port", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if appConfig.Cleanup.Enabled {
		g.Go(func() error {
			return cleanup.Run(gctx, appConfig.Cleanup.Interval, appConfig.Cleanup.CycleLength)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
