package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nortesoft/catasync/internal/bulksync"
	"github.com/nortesoft/catasync/internal/config"
	"github.com/nortesoft/catasync/internal/database"
	"github.com/nortesoft/catasync/internal/handlers"
	"github.com/nortesoft/catasync/internal/models"
	"github.com/nortesoft/catasync/internal/stockcache"
	ws "github.com/nortesoft/catasync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-migrate schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.UserAuth{},

		// Catalog
		&models.Product{},
		&models.Category{},
		&models.PriceList{},
		&models.ProductPrice{},
		&models.ProductStock{},

		// Sync pipeline
		&models.SyncSession{},
		&models.SyncSessionBatch{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Wire the pipeline
	catalog, sessions := bulksync.NewStore(db)

	cache := stockcache.New(time.Duration(cfg.Cache.TTLMinutes)*time.Minute, cfg.Cache.MaxEntries)

	hub := ws.NewHub()
	go hub.Run()

	manager := bulksync.NewManager(catalog, sessions, cfg.Sync, hub)
	manager.StartHousekeeping()
	log.Printf("✅ Sync manager ready (cleanup every %dmin, purge after %d days)",
		cfg.Sync.CleanupIntervalMin, cfg.Sync.CleanupDays)

	// 5. HTTP router
	router := handlers.NewRouter(db, cfg, manager, catalog, cache, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// 6. Start server with graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	manager.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
