package bulksync

import (
	"fmt"
	"time"

	"github.com/nortesoft/catasync/internal/database"
	"github.com/nortesoft/catasync/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogStore is the durable catalog the processor reconciles against.
// It stays the single source of truth; the stock cache is a side
// structure with no authority.
type CatalogStore interface {
	// GetProductByCode returns nil, nil when the code is unseen for the
	// company scope.
	GetProductByCode(companyID, code int64) (*models.Product, error)
	CreateProduct(p *models.Product) error
	UpdateProduct(p *models.Product) error

	CategoryExists(companyID, categoryID int64) (bool, error)
	CreateCategory(c *models.Category) error

	// GetPriceList resolves an active price-list code within a company
	// scope; nil, nil when no such list exists.
	GetPriceList(companyID int64, code string) (*models.PriceList, error)

	// UpsertPrice reports whether a new price row was created.
	UpsertPrice(productID, priceListID int64, price decimal.Decimal, effective *time.Time) (bool, error)
	UpsertStock(companyID, productID int64, quantity float64) error

	// ProductStocks returns all stock quantities for a company, used by
	// the catalog read path on cache miss and to push fresh values into
	// the cache after a session finishes.
	ProductStocks(companyID int64) (map[int64]float64, error)

	// GetStock returns one product's quantity, 0 when no row exists.
	GetStock(companyID, productID int64) (float64, error)
}

// SessionStore persists sessions and the durable duplicate-batch ledger.
type SessionStore interface {
	SaveSession(s *models.SyncSession) error
	GetSession(id string) (*models.SyncSession, error)
	ListSessions(companyID int64, state string, limit, offset int) ([]models.SyncSession, int64, error)
	SessionsSince(since time.Time) ([]models.SyncSession, error)
	SessionBatches(sessionID string) ([]models.SyncSessionBatch, error)

	// InsertBatch conditionally inserts a ledger row; it reports false
	// when the (session, batch number) pair already exists.
	InsertBatch(b *models.SyncSessionBatch) (bool, error)

	// DeleteTerminalBefore purges terminal sessions (and their ledgers)
	// whose end timestamp is older than cutoff. All-or-nothing.
	DeleteTerminalBefore(cutoff time.Time) (int64, error)
}

// gormStore implements both stores on the shared GORM connection.
type gormStore struct {
	db *database.DB
}

// NewStore creates the GORM-backed catalog and session stores.
func NewStore(db *database.DB) (CatalogStore, SessionStore) {
	s := &gormStore{db: db}
	return s, s
}

func (s *gormStore) GetProductByCode(companyID, code int64) (*models.Product, error) {
	var p models.Product
	err := s.db.Where("company_id = ? AND code = ?", companyID, code).First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup product %d: %w", code, err)
	}
	return &p, nil
}

func (s *gormStore) CreateProduct(p *models.Product) error {
	return s.db.Create(p).Error
}

func (s *gormStore) UpdateProduct(p *models.Product) error {
	return s.db.Save(p).Error
}

func (s *gormStore) CategoryExists(companyID, categoryID int64) (bool, error) {
	var count int64
	err := s.db.Model(&models.Category{}).
		Where("id = ? AND company_id = ?", categoryID, companyID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *gormStore) CreateCategory(c *models.Category) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(c).Error
}

func (s *gormStore) GetPriceList(companyID int64, code string) (*models.PriceList, error) {
	var pl models.PriceList
	err := s.db.Where("company_id = ? AND code = ? AND active = true", companyID, code).First(&pl).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup price list %q: %w", code, err)
	}
	return &pl, nil
}

func (s *gormStore) UpsertPrice(productID, priceListID int64, price decimal.Decimal, effective *time.Time) (bool, error) {
	var existing models.ProductPrice
	err := s.db.Where("product_id = ? AND price_list_id = ?", productID, priceListID).
		First(&existing).Error

	if err == gorm.ErrRecordNotFound {
		row := models.ProductPrice{
			ProductID:     productID,
			PriceListID:   priceListID,
			Price:         price,
			EffectiveDate: effective,
		}
		return true, s.db.Create(&row).Error
	}
	if err != nil {
		return false, err
	}

	existing.Price = price
	existing.EffectiveDate = effective
	return false, s.db.Save(&existing).Error
}

func (s *gormStore) UpsertStock(companyID, productID int64, quantity float64) error {
	row := models.ProductStock{
		CompanyID: companyID,
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&row).Error
}

func (s *gormStore) ProductStocks(companyID int64) (map[int64]float64, error) {
	var rows []models.ProductStock
	if err := s.db.Where("company_id = ?", companyID).Find(&rows).Error; err != nil {
		return nil, err
	}
	stocks := make(map[int64]float64, len(rows))
	for _, r := range rows {
		stocks[r.ProductID] = r.Quantity
	}
	return stocks, nil
}

func (s *gormStore) GetStock(companyID, productID int64) (float64, error) {
	var row models.ProductStock
	err := s.db.Where("company_id = ? AND product_id = ?", companyID, productID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Quantity, nil
}

func (s *gormStore) SaveSession(sess *models.SyncSession) error {
	return s.db.Save(sess).Error
}

func (s *gormStore) GetSession(id string) (*models.SyncSession, error) {
	var sess models.SyncSession
	err := s.db.Where("id = ?", id).First(&sess).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *gormStore) ListSessions(companyID int64, state string, limit, offset int) ([]models.SyncSession, int64, error) {
	q := s.db.Model(&models.SyncSession{})
	if companyID > 0 {
		q = q.Where("company_id = ?", companyID)
	}
	if state != "" {
		q = q.Where("state = ?", state)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sessions []models.SyncSession
	err := q.Order("started_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	return sessions, total, err
}

func (s *gormStore) SessionsSince(since time.Time) ([]models.SyncSession, error) {
	var sessions []models.SyncSession
	err := s.db.Where("started_at >= ?", since).Order("started_at ASC").Find(&sessions).Error
	return sessions, err
}

func (s *gormStore) SessionBatches(sessionID string) ([]models.SyncSessionBatch, error) {
	var batches []models.SyncSessionBatch
	err := s.db.Where("session_id = ?", sessionID).Order("batch_number ASC").Find(&batches).Error
	return batches, err
}

func (s *gormStore) InsertBatch(b *models.SyncSessionBatch) (bool, error) {
	tx := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(b)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (s *gormStore) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	terminal := []string{
		models.SessionStateCompleted,
		models.SessionStateError,
		models.SessionStateCancelled,
	}

	var deleted int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&models.SyncSession{}).
			Where("state IN ? AND COALESCE(finished_at, started_at) < ?", terminal, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("session_id IN ?", ids).Delete(&models.SyncSessionBatch{}).Error; err != nil {
			return err
		}

		res := tx.Where("id IN ?", ids).Delete(&models.SyncSession{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
