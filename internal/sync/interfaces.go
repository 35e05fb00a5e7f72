// Package sync reconciles the offline operation queue against the cloud.
package sync

import (
	"context"
	"errors"

	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/remote"
	"github.com/jwei-lin/notecove/backend/internal/sync/failure"
)

// Queue is the reconciler's view of the operation queue.
type Queue interface {
	// GetPendingOperations returns ready operations in scheduling order.
	GetPendingOperations() []*models.Operation

	// MarkProcessing claims an operation for an attempt.
	MarkProcessing(id string) error

	// MarkCompleted finishes an operation and records history.
	MarkCompleted(id string) error

	// MarkFailed records a failure and returns the retry decision.
	MarkFailed(id string, opErr error) (failure.Decision, error)

	// MarkInterrupted returns a cancelled in-flight operation to pending.
	MarkInterrupted(id string) error
}

// EntityMigrator rewrites queued operations after the server assigns a
// durable ID. The create handlers call it; it is the queue.
type EntityMigrator interface {
	UpdateEntityID(oldID, newID string) (int, error)
}

// NoteStore is the local note surface the note handler reads and writes.
type NoteStore interface {
	GetNote(id string) (*models.Note, error)
	UpdateNoteTag(id, tag string) error
	UpdateNoteID(oldID, newID string) error
	PurgeNote(id string) error
}

// FolderStore is the local folder surface the folder handler reads and
// writes.
type FolderStore interface {
	GetFolder(id string) (*models.Folder, error)
	UpdateFolderTag(id, tag string) error
	UpdateFolderID(oldID, newID string) error
	PurgeFolder(id string) error
}

// ConflictStore records upload tag races for user review.
type ConflictStore interface {
	CreateConflictLog(log *models.ConflictLog) error
}

// NotesAPI is the remote surface the note handler calls.
type NotesAPI interface {
	CreateNote(ctx context.Context, note *models.Note, clientRef string) (*remote.CreateResult, error)
	UpdateNote(ctx context.Context, note *models.Note, baseTag string) (*remote.UpdateResult, error)
	DeleteNote(ctx context.Context, id, baseTag string, purge bool) (*remote.DeleteResult, error)
	GetNote(ctx context.Context, id string) (*remote.DetailsResult, error)
}

// FoldersAPI is the remote surface the folder handler calls.
type FoldersAPI interface {
	CreateFolder(ctx context.Context, folder *models.Folder, clientRef string) (*remote.CreateResult, error)
	RenameFolder(ctx context.Context, folder *models.Folder, baseTag string) (*remote.UpdateResult, error)
	DeleteFolder(ctx context.Context, id, baseTag string) (*remote.DeleteResult, error)
}

// FilesAPI is the remote surface the file handler calls.
type FilesAPI interface {
	UploadFile(ctx context.Context, noteID, filename, contentType string, data []byte) (*remote.UploadResult, error)
}

// IDMapper resolves provisional local IDs to server-assigned ones.
type IDMapper interface {
	RegisterMapping(localID, serverID, kind string) error
	Resolve(id string) string
}

// Staging reads attachment bytes awaiting upload. The store keeps the
// payload after a successful upload; it doubles as the note's local
// media copy.
type Staging interface {
	Read(hash string) ([]byte, error)
}

// Handler reconciles the operations of one category.
type Handler interface {
	// Category names the operation types this handler serves.
	Category() models.OperationCategory

	// Handle executes one operation against the cloud. A nil return
	// completes the operation; an error is classified by the failure
	// policy.
	Handle(ctx context.Context, op *models.Operation) error
}

// ErrAwaitingEntity marks an operation whose target entity has not
// reached the server yet, usually an attachment whose note create is
// still queued in another lane. The reconciler leaves the operation
// pending for a later pass instead of spending a retry on it.
var ErrAwaitingEntity = errors.New("entity not yet on server")
