package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/nortesoft/catasync/internal/bulksync"
	"github.com/nortesoft/catasync/internal/stockcache"
)

// CatalogHandler serves the public catalog's stock reads: cache first,
// store fallback. A cold cache degrades freshness, never availability.
type CatalogHandler struct {
	catalog bulksync.CatalogStore
	cache   stockcache.Cache
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(catalog bulksync.CatalogStore, cache stockcache.Cache) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, cache: cache}
}

// RegisterRoutes registers catalog routes
func (ch *CatalogHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/{company}/products/in-stock", ch.InStockProducts).Methods("GET")
	r.HandleFunc("/{company}/stock/{product}", ch.GetStock).Methods("GET")
}

// InStockProducts lists the product ids with stock for a company. The
// secondary index avoids scanning the full catalog on every request.
func (ch *CatalogHandler) InStockProducts(w http.ResponseWriter, r *http.Request) {
	companyID, err := strconv.ParseInt(mux.Vars(r)["company"], 10, 64)
	if err != nil || companyID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid company id")
		return
	}

	if ch.cache.IsWarm(companyID) {
		if ids, ok := ch.cache.GetProductIDsWithStock(companyID); ok {
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"company":    companyID,
				"productIds": ids,
				"source":     "cache",
			})
			return
		}
	}

	stocks, err := ch.catalog.ProductStocks(companyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := make([]int64, 0, len(stocks))
	for pid, qty := range stocks {
		if qty > 0 {
			ids = append(ids, pid)
		}
	}

	// Repopulate so the next request is a cache hit
	ch.cache.SetBatch(companyID, stocks)
	ch.cache.SetProductIDsWithStock(companyID, ids)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"company":    companyID,
		"productIds": ids,
		"source":     "store",
	})
}

// GetStock returns one product's quantity for a company
func (ch *CatalogHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	companyID, err := strconv.ParseInt(vars["company"], 10, 64)
	if err != nil || companyID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid company id")
		return
	}
	productID, err := strconv.ParseInt(vars["product"], 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if qty, ok := ch.cache.Get(companyID, productID); ok {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"company":  companyID,
			"product":  productID,
			"quantity": qty,
			"source":   "cache",
		})
		return
	}

	qty, err := ch.catalog.GetStock(companyID, productID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ch.cache.Set(companyID, productID, qty)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"company":  companyID,
		"product":  productID,
		"quantity": qty,
		"source":   "store",
	})
}
