package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tiendapos/backend/internal/backend"
	"tiendapos/backend/internal/backend/memory"
	pgbackend "tiendapos/backend/internal/backend/postgres"
	"tiendapos/backend/internal/cache"
	"tiendapos/backend/internal/config"
	"tiendapos/backend/internal/httpapi"
	"tiendapos/backend/internal/pos"
	"tiendapos/backend/internal/service"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var gateway backend.Gateway
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgbackend.New(ctx, cfg.DatabaseURL, cfg.CompanyID, cfg.PriceListID)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		gateway = pg
		closers = append(closers, pg.Close)
		log.Println("gateway: postgres")
	} else {
		gateway = memory.NewSeeded(cfg.WarehouseID, cfg.DocSeries)
		log.Println("gateway: in-memory (demo mode)")
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop stats cache", err)
		} else {
			statsCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("stats cache: redis")
		}
	} else {
		log.Println("stats cache: noop")
	}

	hub := pos.NewHub(nil)
	svc := service.New(hub, gateway, statsCache, nil, cfg.WarehouseID, cfg.StatsPollInterval)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, cfg.LoginRatePerMin)

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	go svc.RunStatsPoller(pollCtx, cfg.StatsPollInterval)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stopPoller()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// validateSecurityConfig enforces a real token secret whenever the server is
// pointed at a real database. Demo mode (in-memory gateway) only warns, so a
// bare `go run ./cmd/server` still works on a developer laptop.
func validateSecurityConfig(cfg config.Config) error {
	if cfg.DatabaseURL != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters when DATABASE_URL is configured")
	}
	if cfg.AuthSecret == "" {
		log.Println("WARNING: AUTH_SECRET is empty, tokens are signed with a development secret")
	}
	return nil
}
