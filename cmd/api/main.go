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

	"mastoblog/api/internal/app"
	"mastoblog/api/internal/archive"
	"mastoblog/api/internal/classify"
	"mastoblog/api/internal/config"
	"mastoblog/api/internal/media"
	"mastoblog/api/internal/preview"
	"mastoblog/api/internal/scheduler"
	"mastoblog/api/internal/search"
	"mastoblog/api/internal/store"
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

	domains := classify.DefaultDomains()
	if strings.TrimSpace(cfg.DomainsFile) != "" {
		loaded, err := classify.LoadDomains(cfg.DomainsFile)
		if err != nil {
			log.Fatalf("domain config %s failed: %v", cfg.DomainsFile, err)
		}
		domains = loaded
	}
	classifier := classify.NewClassifier(domains)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var previewCache *preview.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		previewCache, err = preview.NewCache(cfg.RedisURL, cfg.PreviewTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer previewCache.Close()
	}
	var browser *preview.Browser
	if cfg.PreviewBrowser {
		browser, err = preview.NewBrowser()
		if err != nil {
			log.Printf("WARNING: browser previews disabled: %v", err)
		}
	}
	previewService := preview.NewService(previewCache, browser)

	var mediaMirror *media.Mirror
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		mediaMirror, err = media.NewMirror(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
	}

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		archiveService = archive.New(cfg.ArchiveDir)
	}

	service := app.New(cfg, dataStore, classifier, searchService, previewService, mediaMirror, archiveService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	sched := scheduler.New()
	if err := sched.AddIntervalJob("sync", cfg.SyncInterval, service.RunScheduledSync); err != nil {
		log.Fatalf("scheduler setup failed: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("mastoblog API listening on %s", cfg.Addr)
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
