// Package models provides data model definitions for NoteCove Core.
package models

import "time"

// History outcomes.
const (
	OutcomeCompleted = "completed"
)

// OperationHistoryEntry is the audit record written when an operation
// finishes. The store keeps only the newest entries.
type OperationHistoryEntry struct {
	ID          UUID          `db:"id" json:"id"`
	OperationID UUID          `db:"operation_id" json:"operation_id"`
	Type        OperationType `db:"type" json:"type"`
	EntityID    string        `db:"entity_id" json:"entity_id"`
	Outcome     string        `db:"outcome" json:"outcome"`
	RetryCount  int           `db:"retry_count" json:"retry_count"`
	CompletedAt int64         `db:"completed_at" json:"completed_at"`
}

// TableName returns the table name for OperationHistoryEntry.
func (OperationHistoryEntry) TableName() string {
	return "operation_history"
}

// CompletedAtTime returns the CompletedAt as time.Time.
func (h *OperationHistoryEntry) CompletedAtTime() time.Time {
	return time.UnixMilli(h.CompletedAt)
}
