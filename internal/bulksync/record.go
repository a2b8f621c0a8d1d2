package bulksync

import (
	"time"

	"github.com/shopspring/decimal"
)

// Numeric bounds for incoming records. Values outside are rejections,
// not clamps; a price at or above maxPrice almost always means the
// source feed lost a decimal separator.
var (
	maxPrice = decimal.NewFromInt(1000000)
)

const maxStockQuantity = 1000000

// PriceEntry is one (price list, price) pair on an incoming record.
type PriceEntry struct {
	PriceListID   int64           `json:"priceListId"`
	Price         decimal.Decimal `json:"price"`
	EffectiveDate *time.Time      `json:"effectiveDate,omitempty"`
}

// StockEntry is one (company, quantity) pair on an incoming record.
type StockEntry struct {
	CompanyID int64   `json:"companyId"`
	Quantity  float64 `json:"quantity"`
}

// BulkProductRecord is one normalized row from the ERP export. It is
// transient: reconciled into one product row, zero-or-more price rows
// and zero-or-more stock rows, never persisted as-is.
type BulkProductRecord struct {
	Code         int64        `json:"code"`
	Description  string       `json:"description"`
	CategoryID   *int64       `json:"categoryId,omitempty"`
	GroupCode    string       `json:"groupCode,omitempty"`
	SubgroupCode string       `json:"subgroupCode,omitempty"`
	Available    bool         `json:"available"`
	Visible      bool         `json:"visible"`
	Prices       []PriceEntry `json:"prices,omitempty"`
	Stocks       []StockEntry `json:"stocks,omitempty"`
}

// Validate checks one record before reconciliation. In stock-only mode
// description, category and price checks are skipped and the stock
// payload becomes mandatory.
func (r *BulkProductRecord) Validate(stockOnly bool) error {
	if r.Code <= 0 {
		return newValidationError("code", "product code must be a positive integer, got %d", r.Code)
	}

	if stockOnly {
		if len(r.Stocks) == 0 {
			return newValidationError("stocks", "stock-only mode requires at least one stock entry")
		}
	} else if r.Description == "" {
		return newValidationError("description", "description is required")
	}

	for i, s := range r.Stocks {
		if s.CompanyID <= 0 {
			return newValidationError("stocks", "entry %d: company id must be positive, got %d", i, s.CompanyID)
		}
		if s.Quantity < 0 {
			return newValidationError("stocks", "entry %d: quantity cannot be negative: %g", i, s.Quantity)
		}
		if s.Quantity > maxStockQuantity {
			return newValidationError("stocks", "entry %d: quantity %g exceeds limit %d", i, s.Quantity, maxStockQuantity)
		}
	}

	return nil
}

// validate checks one price entry at fan-out time. A bad entry fails
// only that price list, never the whole record: the product row has
// already been reconciled when prices are applied.
func (p *PriceEntry) validate() error {
	if p.PriceListID <= 0 {
		return newValidationError("priceListId", "price list id must be positive, got %d", p.PriceListID)
	}
	if p.Price.IsNegative() {
		return newValidationError("price", "price cannot be negative: %s", p.Price)
	}
	if p.Price.GreaterThanOrEqual(maxPrice) {
		return newValidationError("price", "price %s exceeds limit %s", p.Price, maxPrice)
	}
	return nil
}
