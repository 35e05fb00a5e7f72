package sync

import (
	"context"
	"fmt"
	"log"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
)

// NoteHandler reconciles note operations: creates, body uploads and
// deletes. Creates finish with an ID migration when the server assigns a
// durable ID; uploads refresh the version tag and retry exactly once
// when the server reports a stale tag.
type NoteHandler struct {
	notes     NoteStore
	api       NotesAPI
	migrator  EntityMigrator
	mapper    IDMapper
	conflicts ConflictStore
	notifier  events.Notifier
}

// NewNoteHandler builds the note handler. A nil notifier drops events.
func NewNoteHandler(notes NoteStore, api NotesAPI, migrator EntityMigrator, mapper IDMapper, conflicts ConflictStore, notifier events.Notifier) *NoteHandler {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &NoteHandler{
		notes:     notes,
		api:       api,
		migrator:  migrator,
		mapper:    mapper,
		conflicts: conflicts,
		notifier:  notifier,
	}
}

// Category implements Handler.
func (h *NoteHandler) Category() models.OperationCategory {
	return models.CategoryNote
}

// Handle implements Handler.
func (h *NoteHandler) Handle(ctx context.Context, op *models.Operation) error {
	switch op.Type {
	case models.OpNoteCreate:
		return h.create(ctx, op)
	case models.OpCloudUpload:
		return h.upload(ctx, op)
	case models.OpCloudDelete:
		return h.delete(ctx, op)
	}
	return apperrors.New(apperrors.ErrSyncUnsupportedOp,
		fmt.Sprintf("note handler cannot run %s operations", op.Type))
}

// create pushes a locally created note to the server. At success the
// provisional local ID is migrated to the server-assigned one. The client
// ref sent upstream is the queued entity ID, never the note's current ID,
// so a replay after a half-finished migration deduplicates instead of
// creating twice.
func (h *NoteHandler) create(ctx context.Context, op *models.Operation) error {
	note, err := h.lookupNote(op.EntityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			fmt.Sprintf("note %s is gone locally", op.EntityID), err)
	}

	result, err := h.api.CreateNote(ctx, note, op.EntityID)
	if err != nil {
		return err
	}
	if result.Conflict != nil {
		return apperrors.New(apperrors.ErrSyncConflict,
			fmt.Sprintf("server refused create of note %s", note.ID))
	}

	id := note.ID
	if result.ServerID != "" && result.ServerID != note.ID {
		if err := h.migrateID(note.ID, result.ServerID); err != nil {
			return err
		}
		id = result.ServerID
	}

	if err := h.notes.UpdateNoteTag(id, result.Tag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record tag for note %s", id), err)
	}

	h.publish(events.New(events.NoteSaved, id, map[string]interface{}{
		"tag": result.Tag,
	}))
	return nil
}

// lookupNote finds the note for an operation. The resolved ID wins; the
// queued ID is tried as well because a crashed migration can have
// registered the mapping before moving the row.
func (h *NoteHandler) lookupNote(entityID string) (*models.Note, error) {
	id := h.mapper.Resolve(entityID)
	note, err := h.notes.GetNote(id)
	if err != nil && id != entityID {
		return h.notes.GetNote(entityID)
	}
	return note, err
}

// upload pushes the current note body. A stale base tag gets one refresh
// from the server's tag and a single retry; a second rejection fails the
// operation for good.
func (h *NoteHandler) upload(ctx context.Context, op *models.Operation) error {
	note, err := h.lookupNote(op.EntityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			fmt.Sprintf("note %s is gone locally", op.EntityID), err)
	}
	id := note.ID

	result, err := h.api.UpdateNote(ctx, note, note.Tag)
	if err != nil {
		return err
	}

	if result.Conflict == nil {
		return h.finishUpload(id, result.Tag)
	}

	serverTag := result.Conflict.ServerTag
	if serverTag == "" {
		// The rejection did not carry the winning tag; ask for it.
		details, err := h.api.GetNote(ctx, id)
		if err != nil {
			return err
		}
		serverTag = details.Tag
	}

	h.recordConflict(id, note.Tag, serverTag, models.ResolutionTagRefreshed)
	h.publish(events.New(events.ConflictDetected, id, map[string]interface{}{
		"local_tag":  note.Tag,
		"server_tag": serverTag,
	}))

	// Adopt the server's tag before retrying so a crash between the two
	// attempts leaves the note ready to upload, not stuck.
	if err := h.notes.UpdateNoteTag(id, serverTag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("refresh tag for note %s", id), err)
	}

	result, err = h.api.UpdateNote(ctx, note, serverTag)
	if err != nil {
		return err
	}
	if result.Conflict != nil {
		h.recordConflict(id, serverTag, result.Conflict.ServerTag, models.ResolutionHardFailure)
		return apperrors.New(apperrors.ErrSyncConflict,
			fmt.Sprintf("note %s rejected twice over a stale tag", id))
	}

	return h.finishUpload(id, result.Tag)
}

func (h *NoteHandler) finishUpload(id, tag string) error {
	if err := h.notes.UpdateNoteTag(id, tag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record tag for note %s", id), err)
	}
	h.publish(events.New(events.NoteSaved, id, map[string]interface{}{
		"tag": tag,
	}))
	return nil
}

// delete removes the note remotely, then purges the local remnants. A
// note already gone on the server counts as deleted.
func (h *NoteHandler) delete(ctx context.Context, op *models.Operation) error {
	var payload models.DeletePayload
	if err := op.DecodePayload(&payload); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			"cloud_delete payload is unreadable", err)
	}

	id := h.mapper.Resolve(op.EntityID)

	if _, err := h.api.DeleteNote(ctx, id, payload.Tag, payload.Purge); err != nil {
		if !apperrors.Is(err, apperrors.ErrSyncNotFound) {
			return err
		}
	}

	if err := h.notes.PurgeNote(id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("purge note %s locally", id), err)
	}

	h.publish(events.New(events.NoteDeleted, id, map[string]interface{}{
		"purged": payload.Purge,
	}))
	return nil
}

// migrateID moves a note from its provisional local ID to the server's.
// The mapping is registered first and the row moves last; every step is a
// no-op or tolerated failure on a rerun, so a crash anywhere in between
// converges on the next attempt.
func (h *NoteHandler) migrateID(oldID, newID string) error {
	if err := h.mapper.RegisterMapping(oldID, newID, models.KindNote); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record id mapping for note %s", newID), err)
	}

	if _, err := h.migrator.UpdateEntityID(oldID, newID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("rewrite queued operations for note %s", newID), err)
	}

	if err := h.notes.UpdateNoteID(oldID, newID); err != nil {
		if _, getErr := h.notes.GetNote(newID); getErr != nil {
			return apperrors.Wrap(apperrors.ErrDatabase,
				fmt.Sprintf("migrate note %s to %s", oldID, newID), err)
		}
	}

	h.publish(events.New(events.NoteIDMigrated, newID, map[string]interface{}{
		"old_id": oldID,
	}))
	return nil
}

func (h *NoteHandler) recordConflict(entityID, localTag, serverTag, resolution string) {
	entry := &models.ConflictLog{
		EntityID:   entityID,
		LocalTag:   localTag,
		ServerTag:  serverTag,
		Resolution: resolution,
	}
	if err := h.conflicts.CreateConflictLog(entry); err != nil {
		log.Printf("Failed to record conflict for note %s: %v", entityID, err)
	}
}

func (h *NoteHandler) publish(event events.Event) {
	go h.notifier.Publish(event)
}
