package bulksync

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nortesoft/catasync/internal/config"
	"github.com/nortesoft/catasync/internal/models"
)

// Notifier receives session progress events. The websocket hub
// implements it; a nil notifier is a no-op.
type Notifier interface {
	NotifyProgress(ProgressEvent)
}

// ProgressEvent is pushed to backoffice clients as batches land.
type ProgressEvent struct {
	SessionID        string  `json:"sessionId"`
	State            string  `json:"state"`
	BatchesProcessed int     `json:"batchesProcessed"`
	ExpectedBatches  int     `json:"expectedBatches"`
	Percentage       float64 `json:"percentage"`
	Status           string  `json:"status"`
}

// liveSession is the in-memory face of one session: its lock is the
// serialization point that keeps concurrent submissions of the same
// batch number from both winning.
type liveSession struct {
	mu      sync.Mutex
	model   *models.SyncSession
	state   State
	metrics *Metrics
	results map[int]*BatchResult // accepted batch number -> result
}

// Manager owns the session registry and drives the pipeline.
type Manager struct {
	mu   sync.Mutex
	live map[string]*liveSession

	catalog   CatalogStore
	sessions  SessionStore
	processor *Processor
	cfg       config.SyncConfig
	notifier  Notifier

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager.
func NewManager(catalog CatalogStore, sessions SessionStore, cfg config.SyncConfig, notifier Notifier) *Manager {
	return &Manager{
		live:      make(map[string]*liveSession),
		catalog:   catalog,
		sessions:  sessions,
		processor: NewProcessor(catalog, cfg.MaxBatchSize),
		cfg:       cfg,
		notifier:  notifier,
		stopChan:  make(chan struct{}),
	}
}

// StartInput are the parameters for opening a session.
type StartInput struct {
	ExpectedBatches int    `json:"expectedBatches"`
	User            string `json:"user"`
	IP              string `json:"ip"`
	CompanyID       int64  `json:"company"`
	PriceListCode   string `json:"priceListCode,omitempty"`
	MultiList       bool   `json:"multiList"`
	StockOnly       bool   `json:"stockOnlyMode"`
}

// StartOutput describes the freshly opened session.
type StartOutput struct {
	SessionID     string    `json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	State         string    `json:"state"`
	PriceListCode string    `json:"priceListCode,omitempty"`
	PriceListName string    `json:"priceListName,omitempty"`
	MultiList     bool      `json:"multiList"`
}

// Start opens a new session in iniciada with a fresh metrics
// accumulator. It does not touch the stock cache; invalidation is an
// explicit caller decision.
func (m *Manager) Start(in StartInput) (*StartOutput, error) {
	maxExpected := m.cfg.MaxExpectedBatches
	if maxExpected <= 0 {
		maxExpected = 1000
	}
	if in.ExpectedBatches <= 0 || in.ExpectedBatches > maxExpected {
		return nil, newValidationError("expectedBatches", "must be between 1 and %d, got %d", maxExpected, in.ExpectedBatches)
	}
	if in.User == "" {
		return nil, newValidationError("user", "user is required")
	}
	if in.CompanyID <= 0 {
		return nil, newValidationError("company", "company id must be positive, got %d", in.CompanyID)
	}
	if in.MultiList && in.PriceListCode != "" {
		return nil, newValidationError("priceListCode", "a multi-list session cannot also name a single price list")
	}

	var listName string
	if in.PriceListCode != "" {
		pl, err := m.catalog.GetPriceList(in.CompanyID, in.PriceListCode)
		if err != nil {
			return nil, fmt.Errorf("resolve price list: %w", err)
		}
		if pl == nil {
			return nil, newValidationError("priceListCode", "unknown price list %q for company %d", in.PriceListCode, in.CompanyID)
		}
		listName = pl.Name
	}

	now := time.Now().UTC()
	model := &models.SyncSession{
		ID:              uuid.NewString(),
		CompanyID:       in.CompanyID,
		ExpectedBatches: in.ExpectedBatches,
		MultiList:       in.MultiList,
		StockOnly:       in.StockOnly,
		State:           models.SessionStateStarted,
		StartedAt:       now,
		StartedBy:       in.User,
		StartedFromIP:   in.IP,
	}
	if in.PriceListCode != "" {
		code := in.PriceListCode
		model.PriceListCode = &code
	}

	if err := m.sessions.SaveSession(model); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	ls := &liveSession{
		model:   model,
		state:   StateStarted,
		metrics: NewMetrics(),
		results: make(map[int]*BatchResult),
	}

	m.mu.Lock()
	m.live[model.ID] = ls
	m.mu.Unlock()

	log.Printf("🔄 Sync session %s started: company=%d batches=%d user=%s", model.ID, in.CompanyID, in.ExpectedBatches, in.User)

	return &StartOutput{
		SessionID:     model.ID,
		StartedAt:     model.StartedAt,
		State:         model.State,
		PriceListCode: in.PriceListCode,
		PriceListName: listName,
		MultiList:     in.MultiList,
	}, nil
}

// SubmitInput is one batch submission.
type SubmitInput struct {
	SessionID   string              `json:"sessionId"`
	BatchNumber int                 `json:"batchNumber"`
	CompanyID   int64               `json:"company"`
	StockOnly   bool                `json:"stockOnlyMode"`
	Products    []BulkProductRecord `json:"products"`
}

// Progress is the polling clients' view of session advancement.
type Progress struct {
	Percentage       float64 `json:"percentage"`
	BatchesProcessed int     `json:"batchesProcessed"`
}

// BatchResponse is returned for every accepted (or duplicate) batch.
type BatchResponse struct {
	SessionID            string        `json:"sessionId"`
	BatchNumber          int           `json:"batchNumber"`
	TotalBatchesExpected int           `json:"totalBatchesExpected"`
	Statistics           BatchStats    `json:"statistics"`
	Errors               []RecordError `json:"errorDetails,omitempty"`
	CategoriesInfo       CategoryStats `json:"categoriesInfo"`
	Progress             Progress      `json:"progress"`
	Status               string        `json:"status"`
	Duplicate            bool          `json:"duplicate,omitempty"`
	ProcessingTimeMs     int64         `json:"processingTimeMs"`
}

// SubmitBatch reconciles one batch against the catalog. A duplicate
// batch number is accepted without re-processing and returns the
// previously computed statistics.
func (m *Manager) SubmitBatch(in SubmitInput) (*BatchResponse, error) {
	if in.BatchNumber <= 0 {
		return nil, newValidationError("batchNumber", "must be positive, got %d", in.BatchNumber)
	}
	if len(in.Products) > m.processor.maxBatchSize {
		return nil, newValidationError("products", "batch of %d records exceeds limit %d", len(in.Products), m.processor.maxBatchSize)
	}

	ls, err := m.getLive(in.SessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if in.CompanyID > 0 && ls.model.CompanyID != in.CompanyID {
		return nil, newValidationError("company", "session %s belongs to company %d", in.SessionID, ls.model.CompanyID)
	}
	if !ls.state.Active() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotActive, in.SessionID, ls.state)
	}
	if in.BatchNumber > ls.model.ExpectedBatches {
		return nil, newValidationError("batchNumber", "batch %d outside the announced range of %d", in.BatchNumber, ls.model.ExpectedBatches)
	}

	// Idempotency guard: at-most-once effect per batch number.
	if prior, ok := ls.results[in.BatchNumber]; ok {
		log.Printf("↩️ Session %s: duplicate batch %d, returning prior statistics", in.SessionID, in.BatchNumber)
		resp := m.buildResponse(ls, prior)
		resp.Duplicate = true
		return resp, nil
	}

	// First accepted batch advances the session to procesando.
	if ls.state == StateStarted {
		next, err := ls.state.Transition(StateProcessing)
		if err != nil {
			return nil, err
		}
		ls.state = next
		ls.model.State = string(next)
	}

	stockOnly := in.StockOnly || ls.model.StockOnly

	started := time.Now()
	result, perr := m.processor.Process(ls.model.CompanyID, in.BatchNumber, stockOnly, in.Products)
	if perr != nil && result == nil {
		return nil, perr
	}
	result.ProcessingTimeMs = time.Since(started).Milliseconds()

	if perr != nil {
		// Store outage: nothing is recorded, the uploader may retry the
		// same batch number. The session itself stays as it was.
		return nil, perr
	}

	if err := ls.metrics.AddBatch(result.ProcessingTimeMs, result.Stats.Processed); err != nil {
		log.Printf("⚠️ Session %s: metrics rejected batch %d: %v", in.SessionID, in.BatchNumber, err)
	}

	ls.results[in.BatchNumber] = result
	ls.model.ProcessedBatches++
	ls.model.TotalProducts += result.Stats.Processed
	ls.model.NewProducts += result.Stats.New
	ls.model.UpdatedProducts += result.Stats.Updated
	ls.model.ErrorCount += result.Stats.Errors

	m.recordBatch(ls, result)

	resp := m.buildResponse(ls, result)
	m.notify(ls, resp.Status)
	return resp, nil
}

// recordBatch persists the ledger row and the updated session counters.
// Persistence failures degrade durability, not correctness within this
// process, so they are logged rather than unwinding applied statistics.
func (m *Manager) recordBatch(ls *liveSession, result *BatchResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Printf("⚠️ Session %s: could not serialize batch %d result: %v", ls.model.ID, result.BatchNumber, err)
		payload = []byte("{}")
	}

	inserted, err := m.sessions.InsertBatch(&models.SyncSessionBatch{
		SessionID:   ls.model.ID,
		BatchNumber: result.BatchNumber,
		Result:      payload,
		DurationMs:  result.ProcessingTimeMs,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("⚠️ Session %s: ledger insert for batch %d failed: %v", ls.model.ID, result.BatchNumber, err)
	} else if !inserted {
		log.Printf("⚠️ Session %s: ledger already held batch %d", ls.model.ID, result.BatchNumber)
	}

	m.persistSession(ls)
}

func (m *Manager) persistSession(ls *liveSession) {
	snap, err := json.Marshal(ls.metrics.Snapshot())
	if err == nil {
		ls.model.Metrics = snap
	}
	if err := m.sessions.SaveSession(ls.model); err != nil {
		log.Printf("⚠️ Session %s: persist failed: %v", ls.model.ID, err)
	}
}

func (m *Manager) buildResponse(ls *liveSession, result *BatchResult) *BatchResponse {
	processed := ls.model.ProcessedBatches
	fraction := 0.0
	if ls.model.ExpectedBatches > 0 {
		fraction = float64(processed) / float64(ls.model.ExpectedBatches)
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction < 0 {
		fraction = 0
	}

	status := "processing"
	if processed >= ls.model.ExpectedBatches {
		status = "completed"
	}

	return &BatchResponse{
		SessionID:            ls.model.ID,
		BatchNumber:          result.BatchNumber,
		TotalBatchesExpected: ls.model.ExpectedBatches,
		Statistics:           result.Stats,
		Errors:               result.Errors,
		CategoriesInfo:       result.Categories,
		Progress: Progress{
			Percentage:       fraction * 100,
			BatchesProcessed: processed,
		},
		Status:           status,
		ProcessingTimeMs: result.ProcessingTimeMs,
	}
}

func (m *Manager) notify(ls *liveSession, status string) {
	if m.notifier == nil {
		return
	}
	fraction := 0.0
	if ls.model.ExpectedBatches > 0 {
		fraction = float64(ls.model.ProcessedBatches) / float64(ls.model.ExpectedBatches)
		if fraction > 1 {
			fraction = 1
		}
	}
	m.notifier.NotifyProgress(ProgressEvent{
		SessionID:        ls.model.ID,
		State:            ls.model.State,
		BatchesProcessed: ls.model.ProcessedBatches,
		ExpectedBatches:  ls.model.ExpectedBatches,
		Percentage:       fraction * 100,
		Status:           status,
	})
}

// Summary is the frozen end-of-session report.
type Summary struct {
	TotalProducts int     `json:"totalProducts"`
	New           int     `json:"new"`
	Updated       int     `json:"updated"`
	Errors        int     `json:"errors"`
	Batches       int     `json:"batches"`
	TotalTimeMs   int64   `json:"totalTimeMs"`
	Throughput    float64 `json:"throughput"`
	SuccessRate   float64 `json:"successRate"`
	SlowBatches   []int   `json:"slowBatches,omitempty"`
}

// FinishOutput confirms the terminal transition.
type FinishOutput struct {
	SessionID  string    `json:"sessionId"`
	FinalState string    `json:"finalState"`
	Summary    Summary   `json:"summary"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Finish moves the session to one of the three terminal states and
// freezes its summary. Finishing an already-terminal session is
// rejected, never silently accepted.
func (m *Manager) Finish(sessionID, finalState string, companyID int64) (*FinishOutput, error) {
	target, err := ParseTerminalState(finalState)
	if err != nil {
		return nil, err
	}

	ls, err := m.getLive(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if companyID > 0 && ls.model.CompanyID != companyID {
		return nil, newValidationError("company", "session %s belongs to company %d", sessionID, ls.model.CompanyID)
	}

	next, err := ls.state.Transition(target)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	summary := m.summarize(ls)

	// Persist first: a failed save leaves the session untouched so the
	// caller can retry the finish.
	model := *ls.model
	model.State = string(next)
	model.FinishedAt = &now
	if snap, err := json.Marshal(ls.metrics.Snapshot()); err == nil {
		model.Metrics = snap
	}
	if err := m.sessions.SaveSession(&model); err != nil {
		return nil, fmt.Errorf("persist finish: %w", err)
	}

	ls.state = next
	*ls.model = model

	log.Printf("🏁 Sync session %s finished as %s: %d products, %d errors in %d batches",
		sessionID, finalState, summary.TotalProducts, summary.Errors, summary.Batches)

	m.notify(ls, "finished")

	return &FinishOutput{
		SessionID:  sessionID,
		FinalState: finalState,
		Summary:    summary,
		FinishedAt: now,
	}, nil
}

func (m *Manager) summarize(ls *liveSession) Summary {
	total := ls.metrics.TotalProducts()
	errCount := ls.model.ErrorCount
	successRate := 0.0
	if total > 0 {
		successRate = float64(total-errCount) / float64(total) * 100
	}
	return Summary{
		TotalProducts: total,
		New:           ls.model.NewProducts,
		Updated:       ls.model.UpdatedProducts,
		Errors:        errCount,
		Batches:       ls.metrics.BatchCount(),
		TotalTimeMs:   ls.metrics.TotalMs(),
		Throughput:    ls.metrics.Throughput(),
		SuccessRate:   successRate,
		SlowBatches:   ls.metrics.SlowBatches(m.cfg.SlowBatchThresholdMs),
	}
}

// MetricsReport is the derived metrics view for status queries.
type MetricsReport struct {
	Batches     int     `json:"batches"`
	TotalMs     int64   `json:"totalMs"`
	AvgMs       float64 `json:"avgMs"`
	MinMs       int64   `json:"minMs"`
	MaxMs       int64   `json:"maxMs"`
	Throughput  float64 `json:"throughput"`
	SlowBatches []int   `json:"slowBatches,omitempty"`
}

// SessionStatus is the full per-session view: row, derived metrics and
// collected error detail.
type SessionStatus struct {
	Session models.SyncSession `json:"session"`
	Metrics MetricsReport      `json:"metrics"`
	Errors  []RecordError      `json:"errorDetails,omitempty"`
}

// Status returns the full status of one session.
func (m *Manager) Status(sessionID string) (*SessionStatus, error) {
	ls, err := m.getLive(sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	var errs []RecordError
	for i := 1; i <= ls.model.ExpectedBatches; i++ {
		if r, ok := ls.results[i]; ok {
			errs = append(errs, r.Errors...)
		}
	}

	return &SessionStatus{
		Session: *ls.model,
		Metrics: MetricsReport{
			Batches:     ls.metrics.BatchCount(),
			TotalMs:     ls.metrics.TotalMs(),
			AvgMs:       ls.metrics.AvgMs(),
			MinMs:       ls.metrics.MinMs(),
			MaxMs:       ls.metrics.MaxMs(),
			Throughput:  ls.metrics.Throughput(),
			SlowBatches: ls.metrics.SlowBatches(m.cfg.SlowBatchThresholdMs),
		},
		Errors: errs,
	}, nil
}

// List returns stored sessions, newest first, with an optional state
// filter.
func (m *Manager) List(companyID int64, state string, page, pageSize int) ([]models.SyncSession, int64, error) {
	if state != "" {
		switch State(state) {
		case StateStarted, StateProcessing, StateCompleted, StateError, StateCancelled:
		default:
			return nil, 0, newValidationError("state", "unknown state %q", state)
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	return m.sessions.ListSessions(companyID, state, pageSize, (page-1)*pageSize)
}

// Cleanup purges terminal sessions older than the given age in days
// (falls back to the configured default) and returns the count.
func (m *Manager) Cleanup(days int) (int64, error) {
	if days <= 0 {
		days = m.cfg.CleanupDays
	}
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	deleted, err := m.sessions.DeleteTerminalBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	m.mu.Lock()
	for id, ls := range m.live {
		ls.mu.Lock()
		stale := ls.state.Terminal() &&
			((ls.model.FinishedAt != nil && ls.model.FinishedAt.Before(cutoff)) ||
				(ls.model.FinishedAt == nil && ls.model.StartedAt.Before(cutoff)))
		ls.mu.Unlock()
		if stale {
			delete(m.live, id)
		}
	}
	m.mu.Unlock()

	if deleted > 0 {
		log.Printf("🧹 Housekeeping: purged %d sync sessions older than %d days", deleted, days)
	}
	return deleted, nil
}

// StartHousekeeping runs Cleanup on the configured interval until Stop.
func (m *Manager) StartHousekeeping() {
	interval := time.Duration(m.cfg.CleanupIntervalMin) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := m.Cleanup(0); err != nil {
					log.Printf("⚠️ Housekeeping failed: %v", err)
				}
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop halts background housekeeping.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Company returns the owning company of a session, for callers that
// need it to refresh caches after finish.
func (m *Manager) Company(sessionID string) (int64, error) {
	ls, err := m.getLive(sessionID)
	if err != nil {
		return 0, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.model.CompanyID, nil
}

// getLive returns the in-memory session, restoring it from the store
// after a restart. Terminal stored sessions are restored too so that
// late batches fail the state check instead of a lookup.
func (m *Manager) getLive(sessionID string) (*liveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ls, ok := m.live[sessionID]; ok {
		return ls, nil
	}

	model, err := m.sessions.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	if len(model.Metrics) > 0 {
		var snap MetricsSnapshot
		if err := json.Unmarshal(model.Metrics, &snap); err == nil {
			metrics = RestoreMetrics(snap)
		}
	}

	results := make(map[int]*BatchResult)
	batches, err := m.sessions.SessionBatches(sessionID)
	if err != nil {
		return nil, fmt.Errorf("restore batch ledger: %w", err)
	}
	for _, b := range batches {
		var r BatchResult
		if err := json.Unmarshal(b.Result, &r); err != nil {
			r = BatchResult{BatchNumber: b.BatchNumber}
		}
		results[b.BatchNumber] = &r
	}

	ls := &liveSession{
		model:   model,
		state:   State(model.State),
		metrics: metrics,
		results: results,
	}
	m.live[sessionID] = ls
	return ls, nil
}
