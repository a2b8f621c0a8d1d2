package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session states. The transition rules live in internal/bulksync; these
// are the wire/database values.
const (
	SessionStateStarted    = "iniciada"
	SessionStateProcessing = "procesando"
	SessionStateCompleted  = "completada"
	SessionStateError      = "error"
	SessionStateCancelled  = "cancelada"
)

// SyncSession is one bulk synchronization run.
type SyncSession struct {
	ID               string     `gorm:"type:uuid;primaryKey" json:"sessionId"`
	CompanyID        int64      `gorm:"not null;index" json:"company"`
	ExpectedBatches  int        `gorm:"not null" json:"expectedBatches"`
	ProcessedBatches int        `gorm:"not null;default:0" json:"batchesProcessed"`
	PriceListCode    *string    `json:"priceListCode,omitempty"`
	MultiList        bool       `gorm:"default:false" json:"multiList"`
	StockOnly        bool       `gorm:"default:false" json:"stockOnlyMode"`
	State            string     `gorm:"type:varchar(20);not null;index" json:"state"`
	StartedAt        time.Time  `gorm:"not null;index" json:"startedAt"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`
	StartedBy        string     `json:"user"`
	StartedFromIP    string     `json:"ip"`

	TotalProducts   int `gorm:"default:0" json:"totalProducts"`
	NewProducts     int `gorm:"default:0" json:"newProducts"`
	UpdatedProducts int `gorm:"default:0" json:"updatedProducts"`
	ErrorCount      int `gorm:"default:0" json:"errors"`

	// Metrics is the serialized per-batch duration sequence owned by
	// this session (deleted with it).
	Metrics datatypes.JSON `gorm:"type:jsonb" json:"metrics,omitempty"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (SyncSession) TableName() string { return "sync_sessions" }

// IsTerminal reports whether the session reached a final state.
func (s *SyncSession) IsTerminal() bool {
	switch s.State {
	case SessionStateCompleted, SessionStateError, SessionStateCancelled:
		return true
	}
	return false
}

// SyncSessionBatch is the durable duplicate-batch ledger: one row per
// accepted batch number per session. The unique index is what makes two
// concurrent submissions of the same number resolve to a single winner.
type SyncSessionBatch struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	SessionID   string         `gorm:"type:uuid;not null;uniqueIndex:idx_session_batch" json:"sessionId"`
	BatchNumber int            `gorm:"not null;uniqueIndex:idx_session_batch" json:"batchNumber"`
	Result      datatypes.JSON `gorm:"type:jsonb" json:"result"`
	DurationMs  int64          `gorm:"default:0" json:"durationMs"`
	ProcessedAt time.Time      `gorm:"not null" json:"processedAt"`
}

func (SyncSessionBatch) TableName() string { return "sync_session_batches" }
