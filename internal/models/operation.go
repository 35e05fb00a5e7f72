// Package models provides data model definitions for NoteCove Core.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwei-lin/notecove/backend/internal/uuid"
)

// OperationType identifies a pending cloud mutation.
type OperationType string

const (
	OpNoteCreate   OperationType = "note_create"
	OpCloudUpload  OperationType = "cloud_upload"
	OpCloudDelete  OperationType = "cloud_delete"
	OpImageUpload  OperationType = "image_upload"
	OpAudioUpload  OperationType = "audio_upload"
	OpFolderCreate OperationType = "folder_create"
	OpFolderRename OperationType = "folder_rename"
	OpFolderDelete OperationType = "folder_delete"
)

// OperationStatus is the queue state of an operation.
type OperationStatus string

const (
	StatusPending          OperationStatus = "pending"
	StatusProcessing       OperationStatus = "processing"
	StatusFailed           OperationStatus = "failed"
	StatusAuthFailed       OperationStatus = "auth_failed"
	StatusMaxRetryExceeded OperationStatus = "max_retry_exceeded"
	StatusCompleted        OperationStatus = "completed"
)

// OperationCategory groups operation types by the handler that serves them.
type OperationCategory string

const (
	CategoryNote   OperationCategory = "note"
	CategoryFolder OperationCategory = "folder"
	CategoryFile   OperationCategory = "file"
)

// Category returns the handler category for an operation type.
func (t OperationType) Category() OperationCategory {
	switch t {
	case OpNoteCreate, OpCloudUpload, OpCloudDelete:
		return CategoryNote
	case OpFolderCreate, OpFolderRename, OpFolderDelete:
		return CategoryFolder
	case OpImageUpload, OpAudioUpload:
		return CategoryFile
	}
	return ""
}

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	return t.Category() != ""
}

// DefaultPriority returns the scheduling priority for an operation type.
// Higher runs first. Creations outrank everything that could reference
// them; staged files outrank the note body that will embed their IDs.
func DefaultPriority(t OperationType) int {
	switch t {
	case OpNoteCreate:
		return 100
	case OpFolderCreate:
		return 90
	case OpFolderRename:
		return 85
	case OpImageUpload, OpAudioUpload:
		return 70
	case OpCloudUpload:
		return 50
	case OpCloudDelete:
		return 30
	case OpFolderDelete:
		return 20
	}
	return 0
}

// Operation represents one pending cloud mutation in the durable queue.
type Operation struct {
	ID          UUID            `db:"id" json:"id"`
	Type        OperationType   `db:"type" json:"type"`
	EntityID    string          `db:"entity_id" json:"entity_id"`
	IsLocalID   bool            `db:"is_local_id" json:"is_local_id"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status      OperationStatus `db:"status" json:"status"`
	Priority    int             `db:"priority" json:"priority"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	ErrorKind   string          `db:"error_kind" json:"error_kind,omitempty"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"` // ms, 0 = unset
	LocalSaveTS int64           `db:"local_save_ts" json:"local_save_ts"` // ms, when the mutation was made
	Seq         int64           `db:"seq" json:"seq"`                     // enqueue order tie-break
	CreatedAt   int64           `db:"created_at" json:"created_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Operation.
func (Operation) TableName() string {
	return "operations"
}

// NewOperation builds a pending operation for the given entity. The payload
// may be nil; otherwise it is marshaled to JSON.
func NewOperation(t OperationType, entityID string, payload interface{}) (*Operation, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown operation type: %q", t)
	}
	if entityID == "" {
		return nil, fmt.Errorf("operation entity ID is empty")
	}

	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal operation payload: %w", err)
		}
		raw = data
	}

	now := NowMs()
	return &Operation{
		ID:          UUID(uuid.New()),
		Type:        t,
		EntityID:    entityID,
		IsLocalID:   uuid.IsLocal(entityID),
		Payload:     raw,
		Status:      StatusPending,
		Priority:    DefaultPriority(t),
		LocalSaveTS: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Touch updates the UpdatedAt timestamp.
func (o *Operation) Touch() {
	o.UpdatedAt = NowMs()
}

// IsTerminal reports whether the operation sits in a state that needs
// manual intervention before it can run again.
func (o *Operation) IsTerminal() bool {
	return o.Status == StatusAuthFailed || o.Status == StatusMaxRetryExceeded
}

// ReadyAt returns when the operation becomes eligible to run.
// Zero time means immediately.
func (o *Operation) ReadyAt() time.Time {
	if o.NextRetryAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(o.NextRetryAt)
}

// Clone returns a deep copy. Queue snapshots hand out clones so callers
// can never mutate indexed state behind the lock.
func (o *Operation) Clone() *Operation {
	cp := *o
	if o.Payload != nil {
		cp.Payload = make(json.RawMessage, len(o.Payload))
		copy(cp.Payload, o.Payload)
	}
	return &cp
}

// DecodePayload unmarshals the payload into dst.
func (o *Operation) DecodePayload(dst interface{}) error {
	if len(o.Payload) == 0 {
		return fmt.Errorf("operation %s has no payload", o.ID)
	}
	if err := json.Unmarshal(o.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", o.Type, err)
	}
	return nil
}

// ===== Operation payloads =====

// NoteCreatePayload accompanies note_create. The note body is read from
// the local store at reconcile time; only routing hints ride along.
type NoteCreatePayload struct {
	FolderID string `json:"folder_id,omitempty"`
}

// UploadPayload accompanies cloud_upload.
type UploadPayload struct {
	FolderID string `json:"folder_id,omitempty"`
}

// DeletePayload accompanies cloud_delete and folder_delete. The tag is
// captured at enqueue time; the server rejects stale tags.
type DeletePayload struct {
	Tag   string `json:"tag"`
	Purge bool   `json:"purge"`
}

// FilePayload accompanies image_upload and audio_upload. The entity ID of
// the operation is the owning note; the hash addresses the staged bytes.
type FilePayload struct {
	Hash     string `json:"hash"`
	Filename string `json:"filename"`
	MIMEHint string `json:"mime_hint,omitempty"`
}

// FolderCreatePayload accompanies folder_create.
type FolderCreatePayload struct {
	Name string `json:"name"`
}

// FolderRenamePayload accompanies folder_rename.
type FolderRenamePayload struct {
	Name string `json:"name"`
}
