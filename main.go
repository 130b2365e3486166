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

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nordby/teamline/api"
	"github.com/nordby/teamline/config"
	"github.com/nordby/teamline/domain"
	"github.com/nordby/teamline/hub"
	"github.com/nordby/teamline/source"
	"github.com/nordby/teamline/store"
	"github.com/nordby/teamline/stream"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting teamline...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Runner URL: %s", cfg.RunnerURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize runner client (event source)
	runnerClient := source.NewClient(cfg.RunnerURL, cfg.RunnerTimeout)
	runner := api.RunnerFunc(func(ctx context.Context, req *domain.RunRequest) (source.EventSource, error) {
		return runnerClient.Open(ctx, req)
	})

	// Initialize live stream processor
	processor := stream.New(db, cfg.MaxRetryAttempts)

	// Initialize session hub
	sessionHub := hub.New()
	go sessionHub.Run()

	// Initialize handlers
	h := api.NewHandler(db, runner, processor, sessionHub, cfg)

	// Create Echo server
	server := echo.New()
	server.HideBanner = true

	// Middleware
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	// Register routes
	h.RegisterRoutes(server)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down teamline...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Teamline stopped")
}
