// Package models provides data model definitions for NoteCove Core.
package models

import (
	"database/sql/driver"
	"time"
)

// UUID is a wrapper around string for UUID v4 type safety.
type UUID string

// Value implements driver.Valuer for UUID.
func (u UUID) Value() (driver.Value, error) {
	return string(u), nil
}

// Scan implements sql.Scanner for UUID.
func (u *UUID) Scan(value interface{}) error {
	if value == nil {
		*u = ""
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*u = UUID(v)
	case string:
		*u = UUID(v)
	}
	return nil
}

// String returns the string representation of the UUID.
func (u UUID) String() string {
	return string(u)
}

// NowMs returns the current wall clock in Unix milliseconds, the
// timestamp resolution used across all models.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Note represents a locally stored note. ID is the server-assigned ID,
// or a provisional local ID until the create reconciles.
type Note struct {
	ID          string `db:"id" json:"id"`
	FolderID    string `db:"folder_id" json:"folder_id"`
	Title       string `db:"title" json:"title"`
	Content     string `db:"content" json:"content"`
	Tag         string `db:"tag" json:"tag,omitempty"` // server version tag, empty until first sync
	IsDeleted   bool   `db:"is_deleted" json:"is_deleted"`
	LocalSaveTS int64  `db:"local_save_ts" json:"local_save_ts"`
	CreatedAt   int64  `db:"created_at" json:"created_at"`
	UpdatedAt   int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Note.
func (Note) TableName() string {
	return "notes"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (n *Note) CreatedAtTime() time.Time {
	return time.UnixMilli(n.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (n *Note) UpdatedAtTime() time.Time {
	return time.UnixMilli(n.UpdatedAt)
}

// Touch updates the local-save and updated timestamps.
func (n *Note) Touch() {
	now := NowMs()
	n.UpdatedAt = now
	n.LocalSaveTS = now
}
