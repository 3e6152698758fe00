package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/db"
	"github.com/yourorg/scan-aggregator/internal/logging"
	s3c "github.com/yourorg/scan-aggregator/internal/s3"
	"github.com/yourorg/scan-aggregator/internal/scanners"
	"github.com/yourorg/scan-aggregator/internal/score"
	"github.com/yourorg/scan-aggregator/internal/worker"
)

func main() {
	// Try current directory and one level up (in case run from cmd/worker).
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	prof, err := loadProfile(cfg.ScoringProfile)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Pool.Close()
	if err := store.Ping(ctx); err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if !isInsufficientPrivilege(err) {
			return err
		}
		logger.Warnf("ensure schema skipped due insufficient privilege: %v", err)
	}

	s3, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		return err
	}

	if cfg.HTTPAddr != "" {
		go serveHealth(ctx, cfg.HTTPAddr, store, logger)
	}

	r := worker.NewRunner(cfg, store, s3, scanners.FromConfig(cfg.Tools, logger), prof, logger)
	logger.Infof("worker starting with id=%s concurrency=%d profile=%s", r.WorkerID(), cfg.WorkerConcurrency, prof.Version)

	r.RecoverStaleJobs(ctx)
	return r.RunForever(ctx)
}

func loadProfile(path string) (score.Profile, error) {
	if path == "" {
		return score.Default(), nil
	}
	return score.Load(path)
}

// serveHealth answers /healthz with 503 while the database is unreachable.
func serveHealth(ctx context.Context, addr string, store *db.Store, logger *zap.SugaredLogger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		dbCtx, dbCancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer dbCancel()
		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(dbCtx); err != nil {
			logger.Warnf("healthz: db ping failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"db unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	s := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shctx)
	}()
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("health server: %v", err)
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
