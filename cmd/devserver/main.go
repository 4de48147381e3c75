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

	"github.com/spf13/pflag"

	"attendance.org/internal/auth"
	"attendance.org/internal/config"
	"attendance.org/internal/devserver"
	"attendance.org/internal/obs"
	"attendance.org/internal/store"
)

var version = "0.1.0"

func main() {
	var (
		configPath = pflag.String("config", "", "path to YAML config (default $PUNCH_CONFIG)")
		email      = pflag.String("seed-email", envOr("PUNCH_DEV_EMAIL", "employee@example.com"), "email of the seeded employee")
		password   = pflag.String("seed-password", envOr("PUNCH_DEV_PASSWORD", "changeme"), "password of the seeded employee")
		employeeID = pflag.String("seed-employee-id", "emp-1", "employee id of the seeded employee")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, "devserver")

	ctx := context.Background()
	backend, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	secret, err := auth.SecretFromEnv()
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	issuer, err := auth.NewIssuer(secret,
		auth.WithIssuer("attendance-devserver"),
		auth.WithAccessTTL(cfg.Server.AccessTTL),
		auth.WithRefreshTTL(cfg.Server.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}
	dir := auth.NewDirectory()
	if err := dir.Add(*email, *employeeID, *password); err != nil {
		log.Fatalf("seed employee: %v", err)
	}

	api, err := devserver.New(devserver.Config{
		Issuer:                issuer,
		Directory:             dir,
		Store:                 backend,
		TimezoneOffsetMinutes: cfg.Shift.TimezoneOffsetMinutes,
		RateBurst:             max(1, int(2*cfg.Server.RateLimit)),
		RatePerSecond:         cfg.Server.RateLimit,
		Version:               version,
	})
	if err != nil {
		log.Fatalf("devserver: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("devserver starting", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"storage": cfg.Storage.Driver,
		"email":   *email,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("devserver shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if err := backend.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close storage: %v\n", err)
	}
	obs.Info("devserver stopped", nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
