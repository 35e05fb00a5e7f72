// Package models provides data model definitions for NoteCove Core.
package models

import "time"

// SyncAccount holds the cloud account this device syncs against.
// AuthTokenEncrypted is never exposed in JSON responses.
type SyncAccount struct {
	ID                 UUID   `db:"id" json:"id"`
	ServiceURL         string `db:"service_url" json:"service_url"`
	UserID             string `db:"user_id" json:"user_id"`
	DeviceID           string `db:"device_id" json:"device_id"`
	AuthTokenEncrypted string `db:"auth_token_encrypted" json:"-"` // Never expose
	IsEnabled          bool   `db:"is_enabled" json:"is_enabled"`
	CreatedAt          int64  `db:"created_at" json:"created_at"`
	UpdatedAt          int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncAccount.
func (SyncAccount) TableName() string {
	return "sync_accounts"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (s *SyncAccount) CreatedAtTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (s *SyncAccount) UpdatedAtTime() time.Time {
	return time.UnixMilli(s.UpdatedAt)
}
