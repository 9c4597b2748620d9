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

	"github.com/rs/zerolog"

	"obar/backend/internal/cache"
	"obar/backend/internal/config"
	"obar/backend/internal/httpapi"
	"obar/backend/internal/logging"
	"obar/backend/internal/service"
	"obar/backend/internal/store"
	"obar/backend/internal/store/memory"
	pgstore "obar/backend/internal/store/postgres"
	sqlitestore "obar/backend/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info")
		bootLogger.Fatal().Err(err).Msg("load configuration")
	}
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open repository")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	blacklist := cache.TokenBlacklist(cache.NewMemoryTokenBlacklist())
	if cfg.RedisAddr != "" {
		redisBlacklist := cache.NewRedisTokenBlacklist(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisBlacklist.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, token blacklist kept in memory")
			_ = redisBlacklist.Close()
		} else {
			blacklist = redisBlacklist
			closers = append(closers, redisBlacklist.Close)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("token blacklist: redis")
		}
	} else {
		logger.Info().Msg("token blacklist: memory")
	}

	svc := service.New(repo,
		service.WithLogger(logger),
		service.WithWindows(cfg.GiftWindow(), cfg.UndoWindow()),
	)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo, blacklist)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("obar backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close error")
		}
	}

	logger.Info().Msg("server stopped")
}

// openRepository picks postgres, then sqlite, then the seeded in-memory
// store. A configured database that cannot be reached is an error.
func openRepository(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Repository, func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		logger.Info().Msg("repository: postgres")
		return pg, pg.Close, nil
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("repository: sqlite")
		return lite, lite.Close, nil
	default:
		mem, err := memory.NewSeeded(cfg.SeedAdminPIN, cfg.SeedCustomerPIN, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("seed memory store: %w", err)
		}
		logger.Info().Msg("repository: in-memory")
		return mem, nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	for key, pin := range map[string]string{
		"SEED_ADMIN_PIN":    cfg.SeedAdminPIN,
		"SEED_CUSTOMER_PIN": cfg.SeedCustomerPIN,
	} {
		if pin == "" {
			continue
		}
		if len(pin) < 6 {
			return fmt.Errorf("%s must be at least 6 digits", key)
		}
		if err := validatePINStrength(pin); err != nil {
			return fmt.Errorf("%s is too weak: %w", key, err)
		}
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "121212": true,
		"112233": true, "123123": true, "102030": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
