package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nortesoft/catasync/internal/bulksync"
	"github.com/nortesoft/catasync/internal/stockcache"
)

// SyncHandler exposes the bulk synchronization pipeline
type SyncHandler struct {
	manager *bulksync.Manager
	catalog bulksync.CatalogStore
	cache   stockcache.Cache
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(manager *bulksync.Manager, catalog bulksync.CatalogStore, cache stockcache.Cache) *SyncHandler {
	return &SyncHandler{
		manager: manager,
		catalog: catalog,
		cache:   cache,
	}
}

// RegisterRoutes registers sync routes on the (already protected) subrouter
func (sh *SyncHandler) RegisterRoutes(r *mux.Router) {
	// Session lifecycle
	r.HandleFunc("/sessions", sh.StartSession).Methods("POST")
	r.HandleFunc("/sessions", sh.ListSessions).Methods("GET")
	r.HandleFunc("/sessions/{id}", sh.GetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}/batches", sh.SubmitBatch).Methods("POST")
	r.HandleFunc("/sessions/{id}/finish", sh.FinishSession).Methods("POST")

	// Reporting and maintenance
	r.HandleFunc("/stats", sh.GetStats).Methods("GET")
	r.HandleFunc("/cleanup", sh.Cleanup).Methods("POST")

	// Cache control
	r.HandleFunc("/cache/stats", sh.CacheStats).Methods("GET")
	r.HandleFunc("/cache/invalidate", sh.InvalidateCache).Methods("POST")
}

// StartSession opens a new sync session
func (sh *SyncHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var in bulksync.StartInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.IP == "" {
		in.IP = r.RemoteAddr
	}

	out, err := sh.manager.Start(in)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

// SubmitBatch submits one batch of bulk records to a session
func (sh *SyncHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var in bulksync.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in.SessionID = mux.Vars(r)["id"]

	resp, err := sh.manager.SubmitBatch(in)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// FinishSession closes a session with one of the terminal states. On a
// successful completada the company's stock is pushed into the cache so
// the public catalog serves fresh values without a store round-trip.
func (sh *SyncHandler) FinishSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		FinalState string `json:"finalState"`
		Company    int64  `json:"company"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID := mux.Vars(r)["id"]

	out, err := sh.manager.Finish(sessionID, in.FinalState, in.Company)
	if err != nil {
		respondSyncError(w, err)
		return
	}

	if out.FinalState == string(bulksync.StateCompleted) {
		sh.warmCache(sessionID)
	}

	respondJSON(w, http.StatusOK, out)
}

// warmCache pushes the session company's fresh stock into the cache.
// Best-effort: the store remains the source of truth.
func (sh *SyncHandler) warmCache(sessionID string) {
	companyID, err := sh.manager.Company(sessionID)
	if err != nil {
		return
	}
	stocks, err := sh.catalog.ProductStocks(companyID)
	if err != nil {
		return
	}

	sh.cache.SetBatch(companyID, stocks)

	var inStock []int64
	for pid, qty := range stocks {
		if qty > 0 {
			inStock = append(inStock, pid)
		}
	}
	sh.cache.SetProductIDsWithStock(companyID, inStock)
}

// GetSession returns full status, metrics and error detail for a session
func (sh *SyncHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	status, err := sh.manager.Status(mux.Vars(r)["id"])
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ListSessions returns stored sessions with pagination and state filter
func (sh *SyncHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, _ := strconv.ParseInt(q.Get("company"), 10, 64)
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	sessions, total, err := sh.manager.List(companyID, q.Get("state"), page, pageSize)
	if err != nil {
		respondSyncError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    total,
	})
}

// GetStats returns aggregate statistics over a trailing N-day window
func (sh *SyncHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	report, err := sh.manager.Stats(days)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Cleanup purges terminal sessions older than N days
func (sh *SyncHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Days int `json:"days"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in)
	}

	deleted, err := sh.manager.Cleanup(in.Days)
	if err != nil {
		respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
	})
}

// CacheStats returns the stock cache's operational counters
func (sh *SyncHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sh.cache.Stats())
}

// InvalidateCache drops cache entries, fully or for one company
func (sh *SyncHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Company int64 `json:"company"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&in)
	}

	if in.Company > 0 {
		sh.cache.InvalidateCompany(in.Company)
	} else {
		sh.cache.InvalidateAll()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// respondSyncError maps pipeline errors onto HTTP statuses
func respondSyncError(w http.ResponseWriter, err error) {
	var vErr *bulksync.ValidationError
	switch {
	case errors.As(err, &vErr):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, bulksync.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, bulksync.ErrSessionNotActive),
		errors.Is(err, bulksync.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case bulksync.IsUnavailable(err):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
