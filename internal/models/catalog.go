package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is one catalog row, scoped to its owning company.
// Code is the ERP-side business key (company-independent positive integer).
type Product struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	CompanyID    int64     `gorm:"not null;uniqueIndex:idx_product_company_code" json:"companyId"`
	Code         int64     `gorm:"not null;uniqueIndex:idx_product_company_code" json:"code"`
	Description  string    `json:"description"`
	CategoryID   *int64    `gorm:"index" json:"categoryId,omitempty"`
	GroupCode    string    `json:"groupCode"`
	SubgroupCode string    `json:"subgroupCode"`
	Available    bool      `gorm:"default:true" json:"available"`
	Visible      bool      `gorm:"default:true" json:"visible"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`

	Prices []ProductPrice `gorm:"foreignKey:ProductID" json:"prices,omitempty"`
	Stocks []ProductStock `gorm:"foreignKey:ProductID" json:"stocks,omitempty"`
}

func (Product) TableName() string { return "products" }

// Category groups products. AutoCreated marks rows created by the sync
// pipeline for category ids that arrived before the category feed.
type Category struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CompanyID   int64     `gorm:"index" json:"companyId"`
	Name        string    `json:"name"`
	AutoCreated bool      `gorm:"default:false" json:"autoCreated"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Category) TableName() string { return "categories" }

// PriceList is a named pricing scope; a product carries independent
// prices per list.
type PriceList struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	CompanyID int64     `gorm:"index" json:"companyId"`
	Code      string    `gorm:"index" json:"code"`
	Name      string    `json:"name"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func (PriceList) TableName() string { return "price_lists" }

// ProductPrice is one product's price on one price list.
type ProductPrice struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	ProductID     int64           `gorm:"not null;uniqueIndex:idx_price_product_list" json:"productId"`
	PriceListID   int64           `gorm:"not null;uniqueIndex:idx_price_product_list" json:"priceListId"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	EffectiveDate *time.Time      `json:"effectiveDate,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (ProductPrice) TableName() string { return "product_prices" }

// ProductStock is one product's stock quantity at one company.
type ProductStock struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	CompanyID int64     `gorm:"not null;uniqueIndex:idx_stock_company_product" json:"companyId"`
	ProductID int64     `gorm:"not null;uniqueIndex:idx_stock_company_product" json:"productId"`
	Quantity  float64   `gorm:"not null;default:0" json:"quantity"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ProductStock) TableName() string { return "product_stocks" }
