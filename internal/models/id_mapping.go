// Package models provides data model definitions for NoteCove Core.
package models

// Entity kinds for ID mappings.
const (
	KindNote   = "note"
	KindFolder = "folder"
	KindFile   = "file"
)

// IDMapping records a local-to-server ID migration so late arrivals that
// still reference the provisional ID can be translated.
type IDMapping struct {
	LocalID   string `db:"local_id" json:"local_id"`
	ServerID  string `db:"server_id" json:"server_id"`
	Kind      string `db:"kind" json:"kind"`
	CreatedAt int64  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for IDMapping.
func (IDMapping) TableName() string {
	return "id_mappings"
}
