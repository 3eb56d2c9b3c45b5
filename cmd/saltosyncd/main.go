package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"saltosync/internal/churchtools"
	"saltosync/internal/config"
	"saltosync/internal/database"
	"saltosync/internal/metrics"
	"saltosync/internal/reconcile"
	"saltosync/internal/salto"
	syncer "saltosync/internal/sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SALTOSYNC_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Str("log_level", cfg.LogLevel).Msg("bad log level")
	}
	logger = logger.Level(level)

	if cfg.ChurchTools.LoginToken == "" {
		logger.Fatal().Msg("set churchtools.login_token in config")
	}
	if len(cfg.Rooms) == 0 {
		logger.Fatal().Msg("no rooms configured, nothing to sync")
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	ctClient := churchtools.NewClient(cfg.ChurchTools.Host, cfg.ChurchTools.LoginToken, cfg.ChurchTools.RequestsPerSec, logger)
	var rdb *redis.Client
	if cfg.Redis.Address != "" && cfg.Redis.CacheTTLSeconds > 0 {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		ctClient.UseRedisCache(rdb, cfg.CacheTTL())
	}

	saltoClient := salto.NewClient(cfg.Salto.BaseURL, cfg.Salto.Username, cfg.Salto.Password, cfg.Salto.InsecureSkipVerify, logger)

	engine := reconcile.NewEngine(db, saltoClient, ctClient, db, cfg.RoomZones(), cfg.ChurchTools.GroupTokenPrefix, logger)
	bookingSync := syncer.NewSyncer(ctClient, db, cfg.ResourceIDs(), cfg.Prehold(), cfg.Posthold(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		go startBackupLoop(ctx, db, cfg, &logger)
	}

	logger.Info().
		Str("host", cfg.ChurchTools.Host).
		Int("rooms", len(cfg.Rooms)).
		Dur("interval", cfg.SyncInterval()).
		Msg("booking to access-grant sync started")

	runLoop(ctx, engine, bookingSync, cfg.SyncInterval(), &logger)
	logger.Info().Msg("shutting down")
}

// runLoop runs one pass immediately, then on every tick until the context
// is cancelled. Passes never overlap a tick; the next one waits.
func runLoop(ctx context.Context, engine *reconcile.Engine, bookingSync *syncer.Syncer, interval time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runOnce(ctx, engine, bookingSync, logger)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func runOnce(ctx context.Context, engine *reconcile.Engine, bookingSync *syncer.Syncer, logger *zerolog.Logger) {
	now := time.Now().UTC()

	// A failed fetch is not fatal: reconciliation still runs from the last
	// good cache snapshot.
	if err := bookingSync.SyncBookings(ctx, now); err != nil {
		logger.Warn().Err(err).Msg("failed to sync bookings cache")
	}
	if pruned, err := bookingSync.Prune(ctx, now); err != nil {
		logger.Warn().Err(err).Msg("failed to prune bookings cache")
	} else if pruned > 0 {
		logger.Info().Int64("pruned", pruned).Msg("pruned expired bookings")
	}

	summary, err := engine.Run(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("reconciliation run aborted")
		metrics.IncRun("error")
		return
	}

	metrics.IncRun("ok")
	metrics.AddStagingMutations("inserted", summary.Inserted)
	metrics.AddStagingMutations("updated", summary.Updated)
	metrics.AddStagingMutations("revoked", summary.Revoked)
	metrics.AddStagingMutations("unchanged", summary.Unchanged)
	metrics.AddResolutionFailures(len(summary.ResolutionFailures))
	metrics.AddStagingWriteErrors(summary.WriteErrors)

	for _, failure := range summary.ResolutionFailures {
		logger.Warn().Str("run_id", summary.RunID).Msg(failure)
	}
}

func startBackupLoop(ctx context.Context, db *database.DB, cfg *config.Config, logger *zerolog.Logger) {
	if cfg.Backup.Path == "" {
		cfg.Backup.Path = "backups"
	}
	if cfg.Backup.IntervalHours <= 0 {
		cfg.Backup.IntervalHours = 24
	}
	if cfg.Backup.RetentionDays <= 0 {
		cfg.Backup.RetentionDays = 14
	}

	if err := os.MkdirAll(cfg.Backup.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("failed to create backup directory")
		return
	}

	interval := time.Duration(cfg.Backup.IntervalHours) * time.Hour
	retention := time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runBackupTask(db, cfg, retention, logger)
		case <-ctx.Done():
			return
		}
	}
}

func runBackupTask(db *database.DB, cfg *config.Config, retention time.Duration, logger *zerolog.Logger) {
	timestamp := time.Now().Format("20060102_150405")
	dest := filepath.Join(cfg.Backup.Path, fmt.Sprintf("saltosync_%s.db", timestamp))

	logger.Info().Str("path", dest).Msg("starting database backup")
	if err := db.Backup(dest); err != nil {
		logger.Error().Err(err).Msg("backup failed")
	}

	deleted, err := db.CleanupBackups(cfg.Backup.Path, retention)
	if err != nil {
		logger.Error().Err(err).Msg("backup cleanup failed")
	} else if deleted > 0 {
		logger.Info().Int("deleted", deleted).Msg("cleaned up old backups")
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
