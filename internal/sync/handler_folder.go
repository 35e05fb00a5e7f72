package sync

import (
	"context"
	"fmt"
	"log"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
)

// FolderHandler reconciles folder operations. It mirrors the note
// handler's create and conflict handling, with one difference: there is
// no details endpoint for folders, so a rename rejection that does not
// carry the winning tag cannot be retried and fails outright.
type FolderHandler struct {
	folders   FolderStore
	api       FoldersAPI
	migrator  EntityMigrator
	mapper    IDMapper
	conflicts ConflictStore
	notifier  events.Notifier
}

// NewFolderHandler builds the folder handler. A nil notifier drops events.
func NewFolderHandler(folders FolderStore, api FoldersAPI, migrator EntityMigrator, mapper IDMapper, conflicts ConflictStore, notifier events.Notifier) *FolderHandler {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &FolderHandler{
		folders:   folders,
		api:       api,
		migrator:  migrator,
		mapper:    mapper,
		conflicts: conflicts,
		notifier:  notifier,
	}
}

// Category implements Handler.
func (h *FolderHandler) Category() models.OperationCategory {
	return models.CategoryFolder
}

// Handle implements Handler.
func (h *FolderHandler) Handle(ctx context.Context, op *models.Operation) error {
	switch op.Type {
	case models.OpFolderCreate:
		return h.create(ctx, op)
	case models.OpFolderRename:
		return h.rename(ctx, op)
	case models.OpFolderDelete:
		return h.delete(ctx, op)
	}
	return apperrors.New(apperrors.ErrSyncUnsupportedOp,
		fmt.Sprintf("folder handler cannot run %s operations", op.Type))
}

// create pushes a locally created folder and migrates its provisional ID.
func (h *FolderHandler) create(ctx context.Context, op *models.Operation) error {
	folder, err := h.lookupFolder(op.EntityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			fmt.Sprintf("folder %s is gone locally", op.EntityID), err)
	}

	result, err := h.api.CreateFolder(ctx, folder, op.EntityID)
	if err != nil {
		return err
	}
	if result.Conflict != nil {
		return apperrors.New(apperrors.ErrSyncConflict,
			fmt.Sprintf("server refused create of folder %s", folder.ID))
	}

	id := folder.ID
	if result.ServerID != "" && result.ServerID != folder.ID {
		if err := h.migrateID(folder.ID, result.ServerID); err != nil {
			return err
		}
		id = result.ServerID
	}

	if err := h.folders.UpdateFolderTag(id, result.Tag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record tag for folder %s", id), err)
	}

	h.publish(events.New(events.FolderSaved, id, map[string]interface{}{
		"tag": result.Tag,
	}))
	return nil
}

// rename pushes the folder's current name. The name always comes from the
// local row, so coalesced renames upload only the final one.
func (h *FolderHandler) rename(ctx context.Context, op *models.Operation) error {
	folder, err := h.lookupFolder(op.EntityID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			fmt.Sprintf("folder %s is gone locally", op.EntityID), err)
	}
	id := folder.ID

	result, err := h.api.RenameFolder(ctx, folder, folder.Tag)
	if err != nil {
		return err
	}

	if result.Conflict == nil {
		return h.finishRename(id, result.Tag)
	}

	serverTag := result.Conflict.ServerTag
	if serverTag == "" {
		h.recordConflict(id, folder.Tag, "", models.ResolutionHardFailure)
		return apperrors.New(apperrors.ErrSyncConflict,
			fmt.Sprintf("folder %s rejected over a stale tag", id))
	}

	h.recordConflict(id, folder.Tag, serverTag, models.ResolutionTagRefreshed)
	h.publish(events.New(events.ConflictDetected, id, map[string]interface{}{
		"local_tag":  folder.Tag,
		"server_tag": serverTag,
	}))

	if err := h.folders.UpdateFolderTag(id, serverTag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("refresh tag for folder %s", id), err)
	}

	result, err = h.api.RenameFolder(ctx, folder, serverTag)
	if err != nil {
		return err
	}
	if result.Conflict != nil {
		h.recordConflict(id, serverTag, result.Conflict.ServerTag, models.ResolutionHardFailure)
		return apperrors.New(apperrors.ErrSyncConflict,
			fmt.Sprintf("folder %s rejected twice over a stale tag", id))
	}

	return h.finishRename(id, result.Tag)
}

func (h *FolderHandler) finishRename(id, tag string) error {
	if err := h.folders.UpdateFolderTag(id, tag); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record tag for folder %s", id), err)
	}
	h.publish(events.New(events.FolderSaved, id, map[string]interface{}{
		"tag": tag,
	}))
	return nil
}

// delete removes the folder remotely, then purges the local row. The
// server moves contained notes aside on its end; the local service did
// the same when the delete was queued.
func (h *FolderHandler) delete(ctx context.Context, op *models.Operation) error {
	var payload models.DeletePayload
	if err := op.DecodePayload(&payload); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			"folder_delete payload is unreadable", err)
	}

	id := h.mapper.Resolve(op.EntityID)

	if _, err := h.api.DeleteFolder(ctx, id, payload.Tag); err != nil {
		if !apperrors.Is(err, apperrors.ErrSyncNotFound) {
			return err
		}
	}

	if err := h.folders.PurgeFolder(id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("purge folder %s locally", id), err)
	}

	h.publish(events.New(events.FolderDeleted, id, nil))
	return nil
}

// lookupFolder finds the folder for an operation under its resolved ID,
// falling back to the queued ID for half-finished migrations.
func (h *FolderHandler) lookupFolder(entityID string) (*models.Folder, error) {
	id := h.mapper.Resolve(entityID)
	folder, err := h.folders.GetFolder(id)
	if err != nil && id != entityID {
		return h.folders.GetFolder(entityID)
	}
	return folder, err
}

// migrateID moves a folder to its server-assigned ID. Same ordering as
// note migration: mapping first, row last, every step rerun-safe. Moving
// the row also rewrites the folder reference on contained notes.
func (h *FolderHandler) migrateID(oldID, newID string) error {
	if err := h.mapper.RegisterMapping(oldID, newID, models.KindFolder); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("record id mapping for folder %s", newID), err)
	}

	if _, err := h.migrator.UpdateEntityID(oldID, newID); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase,
			fmt.Sprintf("rewrite queued operations for folder %s", newID), err)
	}

	if err := h.folders.UpdateFolderID(oldID, newID); err != nil {
		if _, getErr := h.folders.GetFolder(newID); getErr != nil {
			return apperrors.Wrap(apperrors.ErrDatabase,
				fmt.Sprintf("migrate folder %s to %s", oldID, newID), err)
		}
	}

	h.publish(events.New(events.FolderIDMigrated, newID, map[string]interface{}{
		"old_id": oldID,
	}))
	return nil
}

func (h *FolderHandler) recordConflict(entityID, localTag, serverTag, resolution string) {
	entry := &models.ConflictLog{
		EntityID:   entityID,
		LocalTag:   localTag,
		ServerTag:  serverTag,
		Resolution: resolution,
	}
	if err := h.conflicts.CreateConflictLog(entry); err != nil {
		log.Printf("Failed to record conflict for folder %s: %v", entityID, err)
	}
}

func (h *FolderHandler) publish(event events.Event) {
	go h.notifier.Publish(event)
}
