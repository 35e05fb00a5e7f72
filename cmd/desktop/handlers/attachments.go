// Package handlers provides the local REST API the desktop UI talks to.
package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/media"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
	"github.com/jwei-lin/notecove/backend/internal/sync/storage"
)

// maxUploadBytes caps one attachment upload.
const maxUploadBytes = 64 << 20

// sniffBytes is how much of the payload the type sniffer sees.
const sniffBytes = 3072

// Thumbnail bounds. Previews render into this box, aspect preserved.
const (
	thumbWidth  = 256
	thumbHeight = 256
)

// AttachmentHandler handles attachment storage, previews, and upload
// queueing. Blobs live in the content-addressed store; the queue carries
// only their digests.
type AttachmentHandler struct {
	repo     *db.Repository
	store    *storage.AttachmentStore
	thumbs   *media.ThumbnailQueue
	queue    *queue.OperationQueue
	mapper   *idmap.Mapper
	thumbDir string
}

// NewAttachmentHandler creates a new AttachmentHandler.
func NewAttachmentHandler(repo *db.Repository, store *storage.AttachmentStore, thumbs *media.ThumbnailQueue,
	opQueue *queue.OperationQueue, mapper *idmap.Mapper, thumbDir string) *AttachmentHandler {
	return &AttachmentHandler{
		repo:     repo,
		store:    store,
		thumbs:   thumbs,
		queue:    opQueue,
		mapper:   mapper,
		thumbDir: thumbDir,
	}
}

// thumbPath returns where a blob's preview lives.
func (h *AttachmentHandler) thumbPath(hash string) string {
	return filepath.Join(h.thumbDir, hash+".jpg")
}

// Upload handles POST /api/notes/{id}/attachments
// Stages the blob locally, queues the cloud upload, and kicks off a
// background thumbnail render for images.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	noteID := h.mapper.Resolve(r.PathValue("id"))

	note, err := h.repo.GetNote(noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Expected a multipart 'file' field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		http.Error(w, "Failed to read upload", http.StatusInternalServerError)
		return
	}
	head = head[:n]
	if len(head) == 0 {
		http.Error(w, "Attachment is empty", http.StatusBadRequest)
		return
	}

	info := media.Probe(head)
	var opType models.OperationType
	switch {
	case info.IsImage():
		opType = models.OpImageUpload
	case info.IsAudio():
		opType = models.OpAudioUpload
	default:
		http.Error(w, fmt.Sprintf("Unsupported attachment type: %s", info.MIME), http.StatusUnsupportedMediaType)
		return
	}

	hash, err := h.store.PutReader(io.MultiReader(bytes.NewReader(head), file))
	if err != nil {
		http.Error(w, "Failed to store attachment", http.StatusInternalServerError)
		return
	}

	mimeHint := header.Header.Get("Content-Type")
	op, err := models.NewOperation(opType, note.ID, models.FilePayload{
		Hash:     hash,
		Filename: header.Filename,
		MIMEHint: mimeHint,
	})
	var queued *models.Operation
	if err == nil {
		queued, err = h.queue.Enqueue(op)
	}
	if err != nil {
		// The blob is stored either way; a retried upload re-queues it
		// against the same digest.
		http.Error(w, "Failed to queue attachment for sync", http.StatusInternalServerError)
		return
	}

	if opType == models.OpImageUpload {
		if srcPath, pathErr := h.store.Path(hash); pathErr == nil {
			if _, genErr := h.thumbs.Generate(srcPath, h.thumbPath(hash), thumbWidth, thumbHeight, nil); genErr != nil {
				log.Printf("Thumbnail render for %s not queued: %v", hash, genErr)
			}
		}
	}

	size, _ := h.store.Stat(hash)

	response := map[string]interface{}{
		"hash":         hash,
		"size_bytes":   size,
		"content_type": info.ContentType(mimeHint),
		"note_id":      note.ID,
	}
	if info.Width > 0 {
		response["width"] = info.Width
		response["height"] = info.Height
	}
	if queued != nil {
		response["operation_id"] = queued.ID.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// List handles GET /api/attachments
func (h *AttachmentHandler) List(w http.ResponseWriter, r *http.Request) {
	hashes, err := h.store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	attachments := make([]map[string]interface{}, 0, len(hashes))
	for _, hash := range hashes {
		entry := map[string]interface{}{"hash": hash}
		if size, err := h.store.Stat(hash); err == nil {
			entry["size_bytes"] = size
		}
		attachments = append(attachments, entry)
	}

	response := map[string]interface{}{
		"attachments": attachments,
		"count":       len(attachments),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// Get handles GET /api/attachments/{hash}
// Serves the blob with its sniffed content type. A digest mismatch on
// read surfaces as corruption, not a missing file.
func (h *AttachmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	data, err := h.store.Read(hash)
	if err != nil {
		if !h.store.Exists(hash) {
			http.Error(w, "Attachment not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info := media.Probe(data)
	w.Header().Set("Content-Type", info.MIME)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

// Thumbnail handles GET /api/attachments/{hash}/thumbnail
// Renders on demand when the background pass has not gotten there yet.
func (h *AttachmentHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	thumb := h.thumbPath(hash)
	if _, err := os.Stat(thumb); err != nil {
		if !h.store.Exists(hash) {
			http.Error(w, "Attachment not found", http.StatusNotFound)
			return
		}
		srcPath, err := h.store.Path(hash)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := h.thumbs.GenerateSync(r.Context(), srcPath, thumb, thumbWidth, thumbHeight); err != nil {
			http.Error(w, "Attachment has no preview", http.StatusUnprocessableEntity)
			return
		}
	}

	http.ServeFile(w, r, thumb)
}

// Delete handles DELETE /api/attachments/{hash}
// Removing a blob that a queued upload still references breaks that
// upload; the UI only offers deletion for unreferenced attachments.
func (h *AttachmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")

	if !h.store.Exists(hash) {
		http.Error(w, "Attachment not found", http.StatusNotFound)
		return
	}

	if err := h.store.Remove(hash); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := os.Remove(h.thumbPath(hash)); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove thumbnail for %s: %v", hash, err)
	}

	w.WriteHeader(http.StatusNoContent)
}
