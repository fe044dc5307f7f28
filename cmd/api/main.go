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

	"farmstall/internal/config"
	"farmstall/internal/handler"
	"farmstall/internal/middleware"
	"farmstall/internal/repository"
	"farmstall/internal/router"
	"farmstall/internal/service"
	"farmstall/pkg/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Infow("starting", "app", cfg.App.Name, "version", cfg.App.Version, "env", cfg.App.Environment)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatalw("failed to open store", "type", cfg.Store.Type, "error", err)
	}
	defer store.Close()
	log.Infow("store initialized", "type", cfg.Store.Type)

	loc, err := cfg.App.Location()
	if err != nil {
		log.Fatalw("invalid time zone", "zone", cfg.App.TimeZone, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	inventoryService := service.NewInventoryService(store, log)
	stopInventory, err := inventoryService.Subscribe(ctx)
	if err != nil {
		log.Fatalw("failed to subscribe to inventory", "error", err)
	}
	defer stopInventory()

	batchWorkflow := service.NewBatchWorkflow(store, inventoryService, log)
	stopBatch, err := batchWorkflow.Subscribe(ctx)
	if err != nil {
		log.Fatalw("failed to subscribe to batch slot", "error", err)
	}
	defer stopBatch()
	cancel()

	healthHandler := handler.New(cfg.App.Name, cfg.App.Version,
		handler.ReadinessCheck{Name: "inventory", Ready: inventoryService.Ready})

	keys := cfg.Auth.Keys()
	if len(keys) == 0 {
		log.Warnw("API_KEYS is empty, the API is open to anyone who can reach it")
	}
	authMiddleware := middleware.NewAuthMiddleware(middleware.AuthConfig{
		APIKeys:     keys,
		PublicPaths: []string{"/api/v1/health", "/api/v1/ready"},
	})

	r := router.New(router.Config{
		Logger:           log,
		Handler:          healthHandler,
		InventoryHandler: handler.NewInventoryHandler(inventoryService),
		BatchHandler:     handler.NewBatchHandler(batchWorkflow),
		ReportHandler:    handler.NewReportHandler(inventoryService, loc),
		AdminHandler:     handler.NewAdminHandler(store, cfg.Store.Type, inventoryService, batchWorkflow),
		AuthMiddleware:   authMiddleware,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	})

	srv := newServer(cfg.Server, r)

	go func() {
		log.Infow("server listening", "addr", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("shutting down server")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server shutdown error", "error", err)
	}

	log.Infow("server stopped")
}

// newServer builds the HTTP server. Request contexts are cancelled as soon as
// Shutdown starts so open event streams end instead of holding it up.
func newServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	base, cancel := context.WithCancel(context.Background())

	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return base },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

func openStore(cfg *config.Config, log *logger.Logger) (repository.DocumentStore, error) {
	sqlOpts := repository.SQLOptions{
		PollInterval: cfg.Store.PollInterval,
		Logger:       log,
	}

	switch cfg.Store.Type {
	case config.StoreMemory:
		return repository.NewMemoryStore(log), nil
	case config.StorePostgres:
		return repository.NewPostgresStore(cfg.Store.PostgresDSN(), sqlOpts)
	case config.StoreMySQL:
		return repository.NewMySQLStore(cfg.Store.MySQLDSN(), sqlOpts)
	case config.StoreRedis:
		return repository.NewRedisStore(repository.RedisStoreConfig{
			Addr:      cfg.Store.RedisAddress(),
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisPrefix,
			Logger:    log,
		})
	default:
		return repository.NewSQLiteStore(cfg.Store.SQLitePath, sqlOpts)
	}
}
