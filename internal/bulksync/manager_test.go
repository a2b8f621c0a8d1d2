package bulksync

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nortesoft/catasync/internal/config"
	"github.com/nortesoft/catasync/internal/models"
)

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		MaxBatchSize:         1000,
		MaxExpectedBatches:   1000,
		SlowBatchThresholdMs: 10000,
		CleanupDays:          7,
	}
}

func newTestManager(t *testing.T) (*Manager, *memCatalog, *memSessions) {
	t.Helper()
	catalog := newMemCatalog()
	sessions := newMemSessions()
	return NewManager(catalog, sessions, testSyncConfig(), nil), catalog, sessions
}

func startSession(t *testing.T, m *Manager, expected int) string {
	t.Helper()
	out, err := m.Start(StartInput{
		ExpectedBatches: expected,
		User:            "operador",
		IP:              "10.0.0.5",
		CompanyID:       1,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.State != models.SessionStateStarted {
		t.Fatalf("new session state: %s", out.State)
	}
	return out.SessionID
}

func TestStartValidation(t *testing.T) {
	m, _, _ := newTestManager(t)

	cases := []StartInput{
		{ExpectedBatches: 0, User: "u", CompanyID: 1},
		{ExpectedBatches: 1001, User: "u", CompanyID: 1},
		{ExpectedBatches: 5, User: "", CompanyID: 1},
		{ExpectedBatches: 5, User: "u", CompanyID: 0},
		{ExpectedBatches: 5, User: "u", CompanyID: 1, MultiList: true, PriceListCode: "PL1"},
	}
	for i, in := range cases {
		if _, err := m.Start(in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestStartResolvesPriceList(t *testing.T) {
	m, catalog, _ := newTestManager(t)
	catalog.seedPriceList(1, "MAYORISTA", "Lista mayorista")

	out, err := m.Start(StartInput{
		ExpectedBatches: 1,
		User:            "operador",
		CompanyID:       1,
		PriceListCode:   "MAYORISTA",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if out.PriceListCode != "MAYORISTA" {
		t.Errorf("priceListCode: %q", out.PriceListCode)
	}
	if out.PriceListName != "Lista mayorista" {
		t.Errorf("priceListName: %q", out.PriceListName)
	}
}

func TestStartRejectsUnknownPriceList(t *testing.T) {
	m, catalog, _ := newTestManager(t)
	catalog.seedPriceList(2, "MAYORISTA", "Lista mayorista") // other company only

	_, err := m.Start(StartInput{
		ExpectedBatches: 1,
		User:            "operador",
		CompanyID:       1,
		PriceListCode:   "MAYORISTA",
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("unknown price list must fail validation, got %v", err)
	}
}

func TestSubmitBatchCompanyMismatch(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 1)

	_, err := m.SubmitBatch(SubmitInput{
		SessionID:   id,
		BatchNumber: 1,
		CompanyID:   99,
		Products:    []BulkProductRecord{{Code: 1, Description: "x"}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("foreign company must fail validation, got %v", err)
	}
}

func TestDuplicateBatchIsIdempotent(t *testing.T) {
	m, catalog, _ := newTestManager(t)
	id := startSession(t, m, 3)

	records := []BulkProductRecord{
		{Code: 1, Description: "uno"},
		{Code: 2, Description: "dos"},
	}

	first, err := m.SubmitBatch(SubmitInput{SessionID: id, BatchNumber: 1, Products: records})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	countAfterFirst := catalog.productCount()

	second, err := m.SubmitBatch(SubmitInput{SessionID: id, BatchNumber: 1, Products: records})
	if err != nil {
		t.Fatalf("duplicate submit must succeed as a no-op: %v", err)
	}

	if !second.Duplicate {
		t.Error("second response should be flagged duplicate")
	}
	if second.Statistics.Processed != first.Statistics.Processed ||
		second.Statistics.New != first.Statistics.New ||
		second.Statistics.Updated != first.Statistics.Updated ||
		second.Statistics.Errors != first.Statistics.Errors {
		t.Errorf("duplicate statistics differ: %+v vs %+v", second.Statistics, first.Statistics)
	}
	if catalog.productCount() != countAfterFirst {
		t.Error("duplicate batch must not touch the catalog")
	}
	if second.Progress.BatchesProcessed != 1 {
		t.Errorf("processed batches must stay 1, got %d", second.Progress.BatchesProcessed)
	}
}

func TestProcessedNeverExceedsExpected(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 2)

	for i := 0; i < 5; i++ {
		_, err := m.SubmitBatch(SubmitInput{
			SessionID:   id,
			BatchNumber: 1,
			Products:    []BulkProductRecord{{Code: 1, Description: "x"}},
		})
		if err != nil {
			t.Fatalf("resubmission %d: %v", i, err)
		}
	}

	status, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Session.ProcessedBatches > status.Session.ExpectedBatches {
		t.Errorf("processedBatches %d exceeds expected %d",
			status.Session.ProcessedBatches, status.Session.ExpectedBatches)
	}
}

func TestConcurrentSameBatchNumber(t *testing.T) {
	m, catalog, _ := newTestManager(t)
	id := startSession(t, m, 2)

	records := []BulkProductRecord{{Code: 100, Description: "concurrente"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.SubmitBatch(SubmitInput{SessionID: id, BatchNumber: 1, Products: records})
		}()
	}
	wg.Wait()

	status, err := m.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Session.ProcessedBatches != 1 {
		t.Errorf("exactly one submission may win, got %d", status.Session.ProcessedBatches)
	}
	if catalog.productCount() != 1 {
		t.Errorf("catalog must hold one product, got %d", catalog.productCount())
	}
}

func TestBatchOutsideAnnouncedRange(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 2)

	_, err := m.SubmitBatch(SubmitInput{
		SessionID:   id,
		BatchNumber: 3,
		Products:    []BulkProductRecord{{Code: 1, Description: "x"}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLateBatchAfterFinishRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 2)

	if _, err := m.Finish(id, "cancelada", 1); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	_, err := m.SubmitBatch(SubmitInput{
		SessionID:   id,
		BatchNumber: 1,
		Products:    []BulkProductRecord{{Code: 1, Description: "tarde"}},
	})
	if !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("late batch must hit SessionNotActive, got %v", err)
	}
}

func TestFinishTwiceRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 1)

	if _, err := m.Finish(id, "completada", 1); err != nil {
		t.Fatalf("first finish: %v", err)
	}

	_, err := m.Finish(id, "error", 1)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second finish must be rejected, got %v", err)
	}

	status, _ := m.Status(id)
	if status.Session.State != models.SessionStateCompleted {
		t.Errorf("state must stay completada, got %s", status.Session.State)
	}
}

func TestFinishRejectsNonTerminalName(t *testing.T) {
	m, _, _ := newTestManager(t)
	id := startSession(t, m, 1)

	for _, name := range []string{"procesando", "iniciada", "terminado"} {
		if _, err := m.Finish(id, name, 1); err == nil {
			t.Errorf("Finish(%q) must be rejected", name)
		}
	}
}

func TestUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.SubmitBatch(SubmitInput{SessionID: "b71a2f6e-0000-0000-0000-000000000000", BatchNumber: 1})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// The full pipeline walk: two batches, a price error, a cross-batch
// duplicate business key, then the frozen summary.
func TestEndToEndSession(t *testing.T) {
	m, catalog, _ := newTestManager(t)

	// Codes 300 and 500 exist before the session begins.
	catalog.seed(1, 300, "preexistente uno")
	catalog.seed(1, 500, "preexistente dos")

	out, err := m.Start(StartInput{ExpectedBatches: 2, User: "operador", CompanyID: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	id := out.SessionID

	// Batch 1: two new products, one update, one out-of-range price.
	resp1, err := m.SubmitBatch(SubmitInput{
		SessionID:   id,
		BatchNumber: 1,
		Products: []BulkProductRecord{
			{Code: 100, Description: "nuevo uno", Prices: []PriceEntry{price(1, "10.00")}},
			{Code: 200, Description: "nuevo dos", Prices: []PriceEntry{price(1, "2000000")}},
			{Code: 300, Description: "preexistente uno v2"},
		},
	})
	if err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	if resp1.Statistics.New != 2 || resp1.Statistics.Updated != 1 || resp1.Statistics.Errors != 1 {
		t.Fatalf("batch 1 stats: %+v", resp1.Statistics)
	}
	if resp1.Status != "processing" {
		t.Errorf("batch 1 status: %s", resp1.Status)
	}
	if resp1.Progress.Percentage != 50 {
		t.Errorf("batch 1 progress: %g", resp1.Progress.Percentage)
	}

	// Batch 2: code 100 re-sent (update, not error), code 500 updated.
	resp2, err := m.SubmitBatch(SubmitInput{
		SessionID:   id,
		BatchNumber: 2,
		Products: []BulkProductRecord{
			{Code: 100, Description: "nuevo uno corregido"},
			{Code: 500, Description: "preexistente dos v2"},
		},
	})
	if err != nil {
		t.Fatalf("batch 2: %v", err)
	}
	if resp2.Statistics.New != 0 || resp2.Statistics.Updated != 2 || resp2.Statistics.Errors != 0 {
		t.Fatalf("batch 2 stats: %+v", resp2.Statistics)
	}
	if resp2.Status != "completed" {
		t.Errorf("batch 2 status: %s", resp2.Status)
	}
	if resp2.Progress.Percentage != 100 {
		t.Errorf("batch 2 progress: %g", resp2.Progress.Percentage)
	}

	fin, err := m.Finish(id, "completada", 1)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	s := fin.Summary
	if s.TotalProducts != 5 {
		t.Errorf("totalProducts: want 5, got %d", s.TotalProducts)
	}
	if s.New != 2 {
		t.Errorf("new: want 2, got %d", s.New)
	}
	if s.Updated != 3 {
		t.Errorf("updated: want 3, got %d", s.Updated)
	}
	if s.Errors != 1 {
		t.Errorf("errors: want 1, got %d", s.Errors)
	}
	if s.Batches != 2 {
		t.Errorf("batches: want 2, got %d", s.Batches)
	}
	if s.SuccessRate != 80 {
		t.Errorf("successRate: want 80, got %g", s.SuccessRate)
	}
}

func TestSessionRestoredFromStore(t *testing.T) {
	catalog := newMemCatalog()
	sessions := newMemSessions()
	m1 := NewManager(catalog, sessions, testSyncConfig(), nil)

	out, err := m1.Start(StartInput{ExpectedBatches: 2, User: "u", CompanyID: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m1.SubmitBatch(SubmitInput{
		SessionID:   out.SessionID,
		BatchNumber: 1,
		Products:    []BulkProductRecord{{Code: 1, Description: "x"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A fresh manager over the same stores simulates a restart.
	m2 := NewManager(catalog, sessions, testSyncConfig(), nil)

	resp, err := m2.SubmitBatch(SubmitInput{
		SessionID:   out.SessionID,
		BatchNumber: 1,
		Products:    []BulkProductRecord{{Code: 1, Description: "x"}},
	})
	if err != nil {
		t.Fatalf("resubmit after restart: %v", err)
	}
	if !resp.Duplicate {
		t.Error("restored ledger must flag the duplicate")
	}
}

func TestCleanupPurgesOldTerminalSessions(t *testing.T) {
	m, _, sessions := newTestManager(t)

	old := time.Now().UTC().AddDate(0, 0, -30)
	recent := time.Now().UTC().AddDate(0, 0, -1)

	seed := func(id, state string, finished time.Time) {
		f := finished
		_ = sessions.SaveSession(&models.SyncSession{
			ID:              id,
			CompanyID:       1,
			ExpectedBatches: 1,
			State:           state,
			StartedAt:       finished.Add(-time.Hour),
			FinishedAt:      &f,
		})
	}

	seed("11111111-1111-1111-1111-111111111111", models.SessionStateCompleted, old)
	seed("22222222-2222-2222-2222-222222222222", models.SessionStateError, old)
	seed("33333333-3333-3333-3333-333333333333", models.SessionStateCompleted, recent)
	// Never purge live runs regardless of age
	_ = sessions.SaveSession(&models.SyncSession{
		ID:              "44444444-4444-4444-4444-444444444444",
		CompanyID:       1,
		ExpectedBatches: 1,
		State:           models.SessionStateProcessing,
		StartedAt:       old,
	})

	deleted, err := m.Cleanup(7)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 purged sessions, got %d", deleted)
	}

	if _, err := sessions.GetSession("33333333-3333-3333-3333-333333333333"); err != nil {
		t.Error("recent terminal session must survive")
	}
	if _, err := sessions.GetSession("44444444-4444-4444-4444-444444444444"); err != nil {
		t.Error("active session must survive")
	}
}

func TestStatsReport(t *testing.T) {
	m, _, sessions := newTestManager(t)

	now := time.Now().UTC()
	for i, state := range []string{
		models.SessionStateCompleted,
		models.SessionStateCompleted,
		models.SessionStateError,
		models.SessionStateCancelled,
	} {
		started := now.Add(-time.Duration(i+1) * time.Hour)
		finished := started.Add(time.Duration(i+1) * time.Minute)
		_ = sessions.SaveSession(&models.SyncSession{
			ID:              uuidLike(i),
			CompanyID:       1,
			ExpectedBatches: 1,
			State:           state,
			StartedAt:       started,
			FinishedAt:      &finished,
			TotalProducts:   100,
			ErrorCount:      i,
		})
	}

	report, err := m.Stats(7)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if report.TotalSessions != 4 || report.Completed != 2 || report.Failed != 1 || report.Cancelled != 1 {
		t.Errorf("report counts: %+v", report)
	}
	if report.TotalProducts != 400 {
		t.Errorf("totalProducts: %d", report.TotalProducts)
	}
	if report.DurationP50Ms <= 0 || report.DurationP99Ms < report.DurationP50Ms {
		t.Errorf("percentiles: p50=%d p99=%d", report.DurationP50Ms, report.DurationP99Ms)
	}
	if len(report.Daily) == 0 {
		t.Error("daily breakdown missing")
	}
}

func uuidLike(i int) string {
	return string(rune('a'+i)) + "0000000-0000-0000-0000-000000000000"
}
