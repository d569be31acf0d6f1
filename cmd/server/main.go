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

	"github.com/oneclicktag/server/internal/api"
	"github.com/oneclicktag/server/internal/config"
	"github.com/oneclicktag/server/internal/database"
	"github.com/oneclicktag/server/internal/google"
	"github.com/oneclicktag/server/internal/integration"
	"github.com/oneclicktag/server/internal/jobs"
	"github.com/oneclicktag/server/internal/progress"
	"github.com/oneclicktag/server/internal/reconcile"
	"github.com/oneclicktag/server/internal/tokens"
	"github.com/oneclicktag/server/internal/websocket"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Get underlying SQL database for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(cfg.JWTSecret, cfg.CORSOrigins)
	go hub.Run()

	// Google API clients
	oauthClient := google.NewOAuth(cfg.Google)
	ledger := tokens.NewLedger(db, oauthClient)
	gtm := reconcile.NewGTM(google.NewTagManager())
	ga4 := reconcile.NewGA4(google.NewAnalyticsAdmin())
	ads := reconcile.NewAds(google.NewAds(cfg.Google))

	// Progress broker and integration service
	broker := progress.NewBroker()
	svc := integration.NewService(db, oauthClient, ledger, gtm, ga4, ads, broker, hub, cfg.Google.CallTimeout)

	// Initialize job scheduler
	scheduler := jobs.NewScheduler(db, broker, svc)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, db, hub, svc)

	// Create HTTP server. WriteTimeout stays unset: the progress stream
	// holds its response open for the length of a connect flow.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
