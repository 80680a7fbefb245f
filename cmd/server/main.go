package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tutupkas/backend/internal/cache"
	"tutupkas/backend/internal/config"
	"tutupkas/backend/internal/domain"
	"tutupkas/backend/internal/httpapi"
	"tutupkas/backend/internal/service"
	"tutupkas/backend/internal/store"
	"tutupkas/backend/internal/store/memory"
	pgstore "tutupkas/backend/internal/store/postgres"
	sqlitestore "tutupkas/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("repository unavailable", zap.Error(err))
	}

	drafts := cache.DraftCache(cache.NewMemoryDraftCache())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisDraftCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, keeping wizard drafts in memory", zap.Error(err))
			_ = redisCache.Close()
		} else {
			drafts = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("draft cache: redis", zap.String("addr", cfg.RedisAddr))
		}
	} else {
		logger.Info("draft cache: memory")
	}

	svc := service.New(repo, drafts, time.Duration(cfg.DraftTTLMinutes)*time.Minute, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo, logger)
	api := httpapi.New(svc, auth, cfg.AllowedOrigins, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("till settlement backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// openRepository picks postgres, then sqlite, then memory. A configured
// database that cannot be reached is fatal rather than silently replaced.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, []func() error, error) {
	closers := make([]func() error, 0, 2)

	var repo store.Repository
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		repo = lite
		closers = append(closers, lite.Close)
		logger.Info("repository: sqlite", zap.String("path", cfg.SQLitePath))
	default:
		users, err := demoUsers(cfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("repository: in-memory")
		return memory.NewSeeded(users), closers, nil
	}

	if cfg.SeedDemo {
		users, err := demoUsers(cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.SeedDemo(ctx, repo, users); err != nil {
			return nil, nil, fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info("demo catalog seeded")
	}
	return repo, closers, nil
}

func demoUsers(cfg config.Config) ([]domain.UserAccount, error) {
	adminPassword := cfg.SeedAdminPassword
	cashierPassword := cfg.SeedCashierPassword
	if adminPassword == "" {
		adminPassword = "admin123"
	}
	if cashierPassword == "" {
		cashierPassword = "kasir123"
	}
	return store.DemoUsers(adminPassword, cashierPassword)
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !cfg.IsProduction() {
		return nil
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return fmt.Errorf("production requires DATABASE_URL or SQLITE_PATH")
	}
	if cfg.SeedDemo && (len(cfg.SeedAdminPassword) < 12 || len(cfg.SeedCashierPassword) < 12) {
		return fmt.Errorf("SEED_DEMO in production requires SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD of at least 12 characters")
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("ALLOWED_ORIGINS must not be * in production")
		}
	}
	return nil
}
