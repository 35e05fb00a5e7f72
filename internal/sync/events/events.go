// Package events carries sync engine notifications to interested clients.
// Publishing is fire-and-forget; emitters never wait on consumers.
package events

import "time"

// Type identifies an event published by the sync engine.
type Type string

const (
	// Queue lifecycle
	QueueUpdated       Type = "queue.updated"
	OperationCompleted Type = "operation.completed"
	OperationFailed    Type = "operation.failed"

	// Entity outcomes
	NoteSaved        Type = "note.saved"
	NoteDeleted      Type = "note.deleted"
	NoteIDMigrated   Type = "note.id_migrated"
	FolderSaved      Type = "folder.saved"
	FolderDeleted    Type = "folder.deleted"
	FolderIDMigrated Type = "folder.id_migrated"
	FileUploaded     Type = "file.uploaded"
	ConflictDetected Type = "conflict.detected"

	// Pass lifecycle
	SyncStarted   Type = "sync.started"
	SyncCompleted Type = "sync.completed"
	SyncFailed    Type = "sync.failed"
)

// Event is one notification. Data keys are event-specific.
type Event struct {
	Type      Type                   `json:"type"`
	EntityID  string                 `json:"entity_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"` // ms
}

// New builds an event stamped with the current time.
func New(t Type, entityID string, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		EntityID:  entityID,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Notifier receives events. Implementations must not block for long;
// emitters dispatch from short-lived goroutines.
type Notifier interface {
	Publish(event Event)
}

// NopNotifier drops all events.
type NopNotifier struct{}

// Publish implements Notifier.
func (NopNotifier) Publish(Event) {}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Publish implements Notifier.
func (f NotifierFunc) Publish(event Event) {
	f(event)
}
