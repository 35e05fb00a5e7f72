// Package models provides data model definitions for NoteCove Core.
package models

import "time"

// Conflict resolutions.
const (
	ResolutionTagRefreshed = "tag_refreshed" // retried once with the server's tag
	ResolutionHardFailure  = "hard_failure"  // second rejection, operation failed
)

// ConflictLog records an upload rejected over a stale version tag,
// for user awareness.
type ConflictLog struct {
	ID         UUID   `db:"id" json:"id"`
	EntityID   string `db:"entity_id" json:"entity_id"`
	LocalTag   string `db:"local_tag" json:"local_tag"`
	ServerTag  string `db:"server_tag" json:"server_tag"`
	Resolution string `db:"resolution" json:"resolution"`
	DetectedAt int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
