package store

import (
	"time"
)

// Run status constants. Transitions are monotonic except for rollback,
// which restores an older report without touching history.
const (
	StatusRunning    = "running"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRolledBack = "rolled_back"
)

// Run is the current state of one query-to-completion lifecycle. The
// run ID is assigned by the AI provider at submission time.
type Run struct {
	RunID          string     `gorm:"primaryKey" json:"run_id"`
	Status         string     `gorm:"not null;index" json:"status"`
	Query          string     `gorm:"not null" json:"query"`
	Report         string     `json:"report,omitempty"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the run has left the running state.
func (r *Run) Terminal() bool {
	return r.Status != StatusRunning
}

// HistoryEntry is an immutable snapshot of a run's report text at a
// point in time. Entries are appended on completion and on every edit,
// and are never updated or deleted; rollback restores from them.
type HistoryEntry struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"not null;index:idx_history_run_ts" json:"run_id"`
	Timestamp time.Time `gorm:"not null;index:idx_history_run_ts" json:"timestamp"`
	Report    string    `gorm:"not null" json:"report"`
	CreatedAt time.Time `json:"-"`
}
