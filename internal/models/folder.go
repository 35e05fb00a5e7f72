// Package models provides data model definitions for NoteCove Core.
package models

import "time"

// Folder represents a locally stored note folder. Like notes, the ID is
// provisional until the folder create reconciles with the cloud.
type Folder struct {
	ID        string `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Tag       string `db:"tag" json:"tag,omitempty"` // server version tag
	IsDeleted bool   `db:"is_deleted" json:"is_deleted"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (f *Folder) CreatedAtTime() time.Time {
	return time.UnixMilli(f.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (f *Folder) UpdatedAtTime() time.Time {
	return time.UnixMilli(f.UpdatedAt)
}

// Touch updates the UpdatedAt timestamp.
func (f *Folder) Touch() {
	f.UpdatedAt = NowMs()
}
