package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nortesoft/catasync/internal/bulksync"
	"github.com/nortesoft/catasync/internal/config"
	"github.com/nortesoft/catasync/internal/database"
	"github.com/nortesoft/catasync/internal/middleware"
	"github.com/nortesoft/catasync/internal/stockcache"
	ws "github.com/nortesoft/catasync/internal/websocket"
)

// Router wraps the mux router with all routes registered
type Router struct {
	*mux.Router
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, cfg *config.Config, manager *bulksync.Manager, catalog bulksync.CatalogStore, cache stockcache.Cache, hub *ws.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := NewAuthHandler(db, cfg.JWTSecret)
	r.HandleFunc("/auth/login", auth.Login).Methods("POST")

	// Bulk sync routes (protected)
	syncRouter := r.PathPrefix("/api/sync").Subrouter()
	syncRouter.Use(middleware.Auth(cfg.JWTSecret))
	NewSyncHandler(manager, catalog, cache).RegisterRoutes(syncRouter)

	// Public catalog read path
	catalogRouter := r.PathPrefix("/api/catalog").Subrouter()
	NewCatalogHandler(catalog, cache).RegisterRoutes(catalogRouter)

	// Backoffice progress push
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ws.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
