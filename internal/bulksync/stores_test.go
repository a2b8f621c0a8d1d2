package bulksync

import (
	"fmt"
	"sync"
	"time"

	"github.com/nortesoft/catasync/internal/models"
	"github.com/shopspring/decimal"
)

// memCatalog is an in-memory CatalogStore for tests.
type memCatalog struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*models.Product
	byCode     map[string]int64 // company:code -> product id
	categories map[string]bool
	priceLists map[string]*models.PriceList // company:code
	prices     map[string]decimal.Decimal   // productID:listID
	stocks     map[string]float64           // company:productID
	down       bool
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		byID:       make(map[int64]*models.Product),
		byCode:     make(map[string]int64),
		categories: make(map[string]bool),
		priceLists: make(map[string]*models.PriceList),
		prices:     make(map[string]decimal.Decimal),
		stocks:     make(map[string]float64),
	}
}

func codeKey(companyID, code int64) string  { return fmt.Sprintf("%d:%d", companyID, code) }
func pairKey(a, b int64) string             { return fmt.Sprintf("%d:%d", a, b) }

func (m *memCatalog) GetProductByCode(companyID, code int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrStoreUnavailable
	}
	id, ok := m.byCode[codeKey(companyID, code)]
	if !ok {
		return nil, nil
	}
	p := *m.byID[id]
	return &p, nil
}

func (m *memCatalog) CreateProduct(p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	m.nextID++
	p.ID = m.nextID
	cp := *p
	m.byID[p.ID] = &cp
	m.byCode[codeKey(p.CompanyID, p.Code)] = p.ID
	return nil
}

func (m *memCatalog) UpdateProduct(p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memCatalog) CategoryExists(companyID, categoryID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, ErrStoreUnavailable
	}
	return m.categories[pairKey(companyID, categoryID)], nil
}

func (m *memCatalog) CreateCategory(c *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	m.categories[pairKey(c.CompanyID, c.ID)] = true
	return nil
}

func (m *memCatalog) GetPriceList(companyID int64, code string) (*models.PriceList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrStoreUnavailable
	}
	pl, ok := m.priceLists[fmt.Sprintf("%d:%s", companyID, code)]
	if !ok {
		return nil, nil
	}
	cp := *pl
	return &cp, nil
}

func (m *memCatalog) UpsertPrice(productID, priceListID int64, price decimal.Decimal, effective *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return false, ErrStoreUnavailable
	}
	k := pairKey(productID, priceListID)
	_, existed := m.prices[k]
	m.prices[k] = price
	return !existed, nil
}

func (m *memCatalog) UpsertStock(companyID, productID int64, quantity float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrStoreUnavailable
	}
	m.stocks[pairKey(companyID, productID)] = quantity
	return nil
}

func (m *memCatalog) ProductStocks(companyID int64) (map[int64]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrStoreUnavailable
	}
	out := make(map[int64]float64)
	for k, qty := range m.stocks {
		var c, p int64
		fmt.Sscanf(k, "%d:%d", &c, &p)
		if c == companyID {
			out[p] = qty
		}
	}
	return out, nil
}

func (m *memCatalog) GetStock(companyID, productID int64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, ErrStoreUnavailable
	}
	return m.stocks[pairKey(companyID, productID)], nil
}

func (m *memCatalog) productCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// seed inserts a product directly, bypassing the processor.
func (m *memCatalog) seed(companyID, code int64, description string) *models.Product {
	p := &models.Product{CompanyID: companyID, Code: code, Description: description}
	_ = m.CreateProduct(p)
	return p
}

func (m *memCatalog) seedPriceList(companyID int64, code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceLists[fmt.Sprintf("%d:%s", companyID, code)] = &models.PriceList{
		ID:        int64(len(m.priceLists) + 1),
		CompanyID: companyID,
		Code:      code,
		Name:      name,
		Active:    true,
	}
}

// memSessions is an in-memory SessionStore for tests.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]models.SyncSession
	batches  map[string]map[int]models.SyncSessionBatch
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]models.SyncSession),
		batches:  make(map[string]map[int]models.SyncSessionBatch),
	}
}

func (m *memSessions) SaveSession(s *models.SyncSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessions) GetSession(id string) (*models.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := s
	return &cp, nil
}

func (m *memSessions) ListSessions(companyID int64, state string, limit, offset int) ([]models.SyncSession, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncSession
	for _, s := range m.sessions {
		if companyID > 0 && s.CompanyID != companyID {
			continue
		}
		if state != "" && s.State != state {
			continue
		}
		out = append(out, s)
	}
	total := int64(len(out))
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *memSessions) SessionsSince(since time.Time) ([]models.SyncSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncSession
	for _, s := range m.sessions {
		if !s.StartedAt.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) SessionBatches(sessionID string) ([]models.SyncSessionBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncSessionBatch
	for _, b := range m.batches[sessionID] {
		out = append(out, b)
	}
	return out, nil
}

func (m *memSessions) InsertBatch(b *models.SyncSessionBatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNum := m.batches[b.SessionID]
	if byNum == nil {
		byNum = make(map[int]models.SyncSessionBatch)
		m.batches[b.SessionID] = byNum
	}
	if _, exists := byNum[b.BatchNumber]; exists {
		return false, nil
	}
	byNum[b.BatchNumber] = *b
	return true, nil
}

func (m *memSessions) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, s := range m.sessions {
		terminal := s.State == models.SessionStateCompleted ||
			s.State == models.SessionStateError ||
			s.State == models.SessionStateCancelled
		if !terminal {
			continue
		}
		end := s.StartedAt
		if s.FinishedAt != nil {
			end = *s.FinishedAt
		}
		if end.Before(cutoff) {
			delete(m.sessions, id)
			delete(m.batches, id)
			deleted++
		}
	}
	return deleted, nil
}
