package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"devflow/api/internal/app"
	"devflow/api/internal/config"
	"devflow/api/internal/media"
	"devflow/api/internal/session"
	"devflow/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewWithSessionStore(cfg, dataStore, redisStore)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.New(cfg, dataStore)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaService, err := media.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicURL)
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		if err := mediaService.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: avatar bucket check failed: %v", err)
		}
		service = service.WithMedia(mediaService)
	} else {
		log.Printf("Avatar storage not configured, uploads disabled")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.OpTimeout)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("DevFlow API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
