// Package handlers provides the local REST API the desktop UI talks to.
// Every write lands in the local database first and enqueues the cloud
// operation second; nothing here waits on the network.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
)

// NoteHandler handles note CRUD operations.
type NoteHandler struct {
	repo   *db.Repository
	queue  *queue.OperationQueue
	mapper *idmap.Mapper
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(repo *db.Repository, opQueue *queue.OperationQueue, mapper *idmap.Mapper) *NoteHandler {
	return &NoteHandler{repo: repo, queue: opQueue, mapper: mapper}
}

// ListNotes handles GET /api/notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	folderID := r.URL.Query().Get("folder_id")
	if folderID != "" {
		folderID = h.mapper.Resolve(folderID)
	}

	offset := (page - 1) * perPage

	notes, err := h.repo.ListNotes(folderID, perPage, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []*models.Note{}
	}

	response := map[string]interface{}{
		"notes":    notes,
		"page":     page,
		"per_page": perPage,
		"count":    len(notes),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CreateNote handles POST /api/notes
// The note gets a provisional local ID; the queued create operation
// migrates it to the server-assigned one when sync reaches it.
func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var request struct {
		FolderID string `json:"folder_id"`
		Title    string `json:"title"`
		Content  string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.FolderID != "" {
		request.FolderID = h.mapper.Resolve(request.FolderID)
	}

	note := &models.Note{
		FolderID: request.FolderID,
		Title:    request.Title,
		Content:  request.Content,
	}

	if err := h.repo.CreateNote(note); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpNoteCreate, note.ID, models.NoteCreatePayload{FolderID: note.FolderID})
	if err == nil {
		_, err = h.queue.Enqueue(op)
	}
	if err != nil {
		if purgeErr := h.repo.PurgeNote(note.ID); purgeErr != nil {
			log.Printf("Failed to roll back note %s after enqueue error: %v", note.ID, purgeErr)
		}
		http.Error(w, "Failed to queue note for sync", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(note)
}

// GetNote handles GET /api/notes/{id}
// Accepts a provisional ID after migration; the mapper translates it.
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))

	note, err := h.repo.GetNote(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(note)
}

// UpdateNote handles PUT /api/notes/{id}
// Saves the edit locally and queues a cloud upload of the new snapshot.
func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))

	var request struct {
		FolderID *string `json:"folder_id"`
		Title    *string `json:"title"`
		Content  *string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.repo.GetNote(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if request.FolderID != nil {
		note.FolderID = h.mapper.Resolve(*request.FolderID)
	}
	if request.Title != nil {
		note.Title = *request.Title
	}
	if request.Content != nil {
		note.Content = *request.Content
	}

	if err := h.repo.UpdateNote(note); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpCloudUpload, note.ID, models.UploadPayload{FolderID: note.FolderID})
	if err == nil {
		_, err = h.queue.Enqueue(op)
	}
	if err != nil {
		// The edit is saved; only the sync trigger failed. A later edit
		// or the next full pass will carry it up.
		log.Printf("Failed to queue upload for note %s: %v", note.ID, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(note)
}

// DeleteNote handles DELETE /api/notes/{id}
// Soft deletes locally and queues the cloud delete. When the queue
// collapses the delete with a still-queued create, the note never
// reached the server and the local row is purged outright.
func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))
	purge := r.URL.Query().Get("purge") == "true"

	note, err := h.repo.GetNote(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Note not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.repo.DeleteNote(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpCloudDelete, id, models.DeletePayload{Tag: note.Tag, Purge: purge})
	if err == nil {
		var queued *models.Operation
		queued, err = h.queue.Enqueue(op)
		if err == nil && queued == nil {
			if purgeErr := h.repo.PurgeNote(id); purgeErr != nil {
				log.Printf("Failed to purge never-synced note %s: %v", id, purgeErr)
			}
		}
	}
	if err != nil {
		log.Printf("Failed to queue delete for note %s: %v", id, err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetNoteOperations handles GET /api/notes/{id}/operations
// Returns the queued operations still outstanding for a note.
func (h *NoteHandler) GetNoteOperations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ops := h.queue.OperationsForEntity(id)
	if resolved := h.mapper.Resolve(id); resolved != id {
		ops = append(ops, h.queue.OperationsForEntity(resolved)...)
	}
	if ops == nil {
		ops = []*models.Operation{}
	}

	response := map[string]interface{}{
		"operations": ops,
		"count":      len(ops),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
