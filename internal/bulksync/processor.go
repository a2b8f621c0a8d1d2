package bulksync

import (
	"fmt"
	"log"

	"github.com/nortesoft/catasync/internal/models"
)

// ListStats are per-price-list upsert counters. A failure on one list
// never blocks the same product's other lists.
type ListStats struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// CategoryStats tracks categories auto-created for ids that arrived
// ahead of the upstream category feed.
type CategoryStats struct {
	Created    int     `json:"created"`
	CreatedIDs []int64 `json:"createdIds,omitempty"`
}

// BatchStats are the aggregate counters for one batch. Processed counts
// every record examined, including ones that failed; Errors counts
// records with at least one failure.
type BatchStats struct {
	Processed int                  `json:"processed"`
	New       int                  `json:"new"`
	Updated   int                  `json:"updated"`
	Errors    int                  `json:"errors"`
	PerList   map[int64]*ListStats `json:"perListStats"`
}

// BatchResult is the outcome of reconciling one batch.
type BatchResult struct {
	BatchNumber      int           `json:"batchNumber"`
	Stats            BatchStats    `json:"statistics"`
	Errors           []RecordError `json:"errorDetails,omitempty"`
	Categories       CategoryStats `json:"categoriesInfo"`
	Duplicate        bool          `json:"duplicate,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
}

// Processor reconciles batches of bulk records against the catalog.
type Processor struct {
	store        CatalogStore
	maxBatchSize int
}

// NewProcessor creates a batch processor. maxBatchSize 0 falls back to
// the platform default of 1000 records.
func NewProcessor(store CatalogStore, maxBatchSize int) *Processor {
	if maxBatchSize <= 0 {
		maxBatchSize = 1000
	}
	return &Processor{store: store, maxBatchSize: maxBatchSize}
}

// Process reconciles one batch. Records are handled in order; a failure
// on one record is collected and the next record proceeds. Only a
// durable-store outage aborts the batch, returning the partial result
// alongside ErrStoreUnavailable.
func (p *Processor) Process(companyID int64, batchNumber int, stockOnly bool, records []BulkProductRecord) (*BatchResult, error) {
	if len(records) > p.maxBatchSize {
		return nil, newValidationError("products", "batch of %d records exceeds limit %d", len(records), p.maxBatchSize)
	}

	result := &BatchResult{
		BatchNumber: batchNumber,
		Stats:       BatchStats{PerList: make(map[int64]*ListStats)},
	}

	for idx, rec := range records {
		result.Stats.Processed++

		failed, err := p.processRecord(companyID, batchNumber, idx, stockOnly, &rec, result)
		if failed {
			result.Stats.Errors++
		}
		if err != nil {
			// Store outage: stop here, surface what was computed so far.
			log.Printf("⚠️ Batch %d aborted at record %d: %v", batchNumber, idx, err)
			return result, fmt.Errorf("batch %d record %d: %w", batchNumber, idx, ErrStoreUnavailable)
		}
	}

	return result, nil
}

// processRecord reconciles a single record. It reports whether the
// record had at least one failure, and returns an error only when the
// store itself is unavailable.
func (p *Processor) processRecord(companyID int64, batchNumber, idx int, stockOnly bool, rec *BulkProductRecord, result *BatchResult) (bool, error) {
	if err := rec.Validate(stockOnly); err != nil {
		result.Errors = append(result.Errors, RecordError{
			BatchNumber: batchNumber,
			Index:       idx,
			ProductCode: rec.Code,
			Description: rec.Description,
			Type:        RecordErrorValidation,
			Message:     err.Error(),
		})
		return true, nil
	}

	failed := false
	collect := func(errType, msg string) {
		failed = true
		result.Errors = append(result.Errors, RecordError{
			BatchNumber: batchNumber,
			Index:       idx,
			ProductCode: rec.Code,
			Description: rec.Description,
			Type:        errType,
			Message:     msg,
		})
	}

	// Category resolution: a missing category is created, not an error.
	// Keeps ingestion tolerant of a category catalog that lags the feed.
	if !stockOnly && rec.CategoryID != nil {
		if err := p.ensureCategory(companyID, *rec.CategoryID, result); err != nil {
			if IsUnavailable(err) {
				return failed, err
			}
			collect(RecordErrorCategory, err.Error())
		}
	}

	product, err := p.upsertProduct(companyID, stockOnly, rec, result)
	if err != nil {
		if IsUnavailable(err) {
			return true, err
		}
		collect(RecordErrorProduct, err.Error())
		return true, nil
	}

	if !stockOnly {
		if err := p.applyPrices(product.ID, rec, collect, result); err != nil {
			return true, err
		}
	}

	for _, stock := range rec.Stocks {
		if err := p.store.UpsertStock(stock.CompanyID, product.ID, stock.Quantity); err != nil {
			if IsUnavailable(err) {
				return true, err
			}
			collect(RecordErrorStock, fmt.Sprintf("company %d: %v", stock.CompanyID, err))
		}
	}

	return failed, nil
}

// ensureCategory auto-creates the referenced category when missing.
func (p *Processor) ensureCategory(companyID, categoryID int64, result *BatchResult) error {
	exists, err := p.store.CategoryExists(companyID, categoryID)
	if err != nil || exists {
		return err
	}

	category := &models.Category{
		ID:          categoryID,
		CompanyID:   companyID,
		Name:        fmt.Sprintf("Categoria %d", categoryID),
		AutoCreated: true,
	}
	if err := p.store.CreateCategory(category); err != nil {
		return err
	}

	result.Categories.Created++
	result.Categories.CreatedIDs = append(result.Categories.CreatedIDs, categoryID)
	return nil
}

// upsertProduct inserts or updates the catalog row for the record's
// business key. New vs updated is decided by the lookup, never inferred
// from timestamps.
func (p *Processor) upsertProduct(companyID int64, stockOnly bool, rec *BulkProductRecord, result *BatchResult) (*models.Product, error) {
	existing, err := p.store.GetProductByCode(companyID, rec.Code)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		product := &models.Product{
			CompanyID:    companyID,
			Code:         rec.Code,
			Description:  rec.Description,
			CategoryID:   rec.CategoryID,
			GroupCode:    rec.GroupCode,
			SubgroupCode: rec.SubgroupCode,
			Available:    rec.Available,
			Visible:      rec.Visible,
		}
		if err := p.store.CreateProduct(product); err != nil {
			return nil, err
		}
		result.Stats.New++
		return product, nil
	}

	if !stockOnly {
		existing.Description = rec.Description
		existing.CategoryID = rec.CategoryID
		existing.GroupCode = rec.GroupCode
		existing.SubgroupCode = rec.SubgroupCode
		existing.Available = rec.Available
		existing.Visible = rec.Visible
		if err := p.store.UpdateProduct(existing); err != nil {
			return nil, err
		}
	}
	result.Stats.Updated++
	return existing, nil
}

// applyPrices fans one record's prices out across its price lists,
// keeping independent counters per list.
func (p *Processor) applyPrices(productID int64, rec *BulkProductRecord, collect func(string, string), result *BatchResult) error {
	for _, entry := range rec.Prices {
		stats := result.Stats.PerList[entry.PriceListID]
		if stats == nil {
			stats = &ListStats{}
			result.Stats.PerList[entry.PriceListID] = stats
		}

		if err := entry.validate(); err != nil {
			stats.Errors++
			collect(RecordErrorPrice, fmt.Sprintf("list %d: %v", entry.PriceListID, err))
			continue
		}

		created, err := p.store.UpsertPrice(productID, entry.PriceListID, entry.Price, entry.EffectiveDate)
		if err != nil {
			if IsUnavailable(err) {
				return err
			}
			stats.Errors++
			collect(RecordErrorPrice, fmt.Sprintf("list %d: %v", entry.PriceListID, err))
			continue
		}
		if created {
			stats.New++
		} else {
			stats.Updated++
		}
	}
	return nil
}
