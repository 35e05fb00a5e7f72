package sync

import (
	"context"
	"fmt"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/media"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
	"github.com/jwei-lin/notecove/backend/internal/uuid"
)

// FileHandler reconciles attachment uploads. The payload bytes come from
// the local content-addressed store; the target note ID is resolved
// through the mapper because the note create usually runs in a
// different lane and may migrate the ID first.
type FileHandler struct {
	staging  Staging
	api      FilesAPI
	mapper   IDMapper
	notifier events.Notifier
}

// NewFileHandler builds the file handler. A nil notifier drops events.
func NewFileHandler(staging Staging, api FilesAPI, mapper IDMapper, notifier events.Notifier) *FileHandler {
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &FileHandler{
		staging:  staging,
		api:      api,
		mapper:   mapper,
		notifier: notifier,
	}
}

// Category implements Handler.
func (h *FileHandler) Category() models.OperationCategory {
	return models.CategoryFile
}

// Handle implements Handler.
func (h *FileHandler) Handle(ctx context.Context, op *models.Operation) error {
	switch op.Type {
	case models.OpImageUpload, models.OpAudioUpload:
		return h.upload(ctx, op)
	}
	return apperrors.New(apperrors.ErrSyncUnsupportedOp,
		fmt.Sprintf("file handler cannot run %s operations", op.Type))
}

// upload pushes one attachment to its note. An upload whose note has not
// reached the server yet is deferred, not failed; the note lane will get
// there eventually or the delete merge will collapse this operation.
func (h *FileHandler) upload(ctx context.Context, op *models.Operation) error {
	var payload models.FilePayload
	if err := op.DecodePayload(&payload); err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			"file upload payload is unreadable", err)
	}

	data, err := h.staging.Read(payload.Hash)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncMalformedOp,
			fmt.Sprintf("attachment %s is gone or unreadable", payload.Hash), err)
	}

	noteID := h.mapper.Resolve(op.EntityID)
	if uuid.IsLocal(noteID) {
		return fmt.Errorf("note %s: %w", noteID, ErrAwaitingEntity)
	}

	info := media.Probe(data)
	contentType := info.ContentType(payload.MIMEHint)

	result, err := h.api.UploadFile(ctx, noteID, payload.Filename, contentType, data)
	if err != nil {
		return err
	}

	h.publish(events.New(events.FileUploaded, noteID, map[string]interface{}{
		"file_id":      result.FileID,
		"hash":         payload.Hash,
		"content_type": contentType,
	}))
	return nil
}

func (h *FileHandler) publish(event events.Event) {
	go h.notifier.Publish(event)
}
