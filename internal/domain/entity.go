package domain

import (
	"time"
)

// Action outcomes written to the journal
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// ActionRecord is one user-issued request and how it ended.
// Records are append-only audit entries; they are never read back into view state.
type ActionRecord struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"index" json:"action"` // endpoint, e.g. "/trackOption"
	Detail    string    `json:"detail"`              // ticker, order id or symbol
	Outcome   string    `gorm:"index" json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Epoch     uint64    `json:"epoch"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
