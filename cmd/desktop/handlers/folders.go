// Package handlers provides the local REST API the desktop UI talks to.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
)

// FolderHandler handles folder CRUD operations.
type FolderHandler struct {
	repo   *db.Repository
	queue  *queue.OperationQueue
	mapper *idmap.Mapper
}

// NewFolderHandler creates a new FolderHandler.
func NewFolderHandler(repo *db.Repository, opQueue *queue.OperationQueue, mapper *idmap.Mapper) *FolderHandler {
	return &FolderHandler{repo: repo, queue: opQueue, mapper: mapper}
}

// ListFolders handles GET /api/folders
func (h *FolderHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.repo.ListFolders()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if folders == nil {
		folders = []*models.Folder{}
	}

	response := map[string]interface{}{
		"folders": folders,
		"count":   len(folders),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CreateFolder handles POST /api/folders
func (h *FolderHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	request.Name = strings.TrimSpace(request.Name)
	if request.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	folder := &models.Folder{Name: request.Name}

	if err := h.repo.CreateFolder(folder); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpFolderCreate, folder.ID, models.FolderCreatePayload{Name: folder.Name})
	if err == nil {
		_, err = h.queue.Enqueue(op)
	}
	if err != nil {
		if purgeErr := h.repo.PurgeFolder(folder.ID); purgeErr != nil {
			log.Printf("Failed to roll back folder %s after enqueue error: %v", folder.ID, purgeErr)
		}
		http.Error(w, "Failed to queue folder for sync", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(folder)
}

// GetFolder handles GET /api/folders/{id}
func (h *FolderHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))

	folder, err := h.repo.GetFolder(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(folder)
}

// RenameFolder handles PUT /api/folders/{id}
// Only the latest queued rename survives; the queue replaces earlier ones.
func (h *FolderHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))

	var request struct {
		Name string `json:"name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	request.Name = strings.TrimSpace(request.Name)
	if request.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	folder, err := h.repo.GetFolder(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	folder.Name = request.Name
	if err := h.repo.UpdateFolder(folder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpFolderRename, id, models.FolderRenamePayload{Name: folder.Name})
	if err == nil {
		_, err = h.queue.Enqueue(op)
	}
	if err != nil {
		log.Printf("Failed to queue rename for folder %s: %v", id, err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(folder)
}

// DeleteFolder handles DELETE /api/folders/{id}
// Soft deletes locally and queues the cloud delete. A delete that
// collapses with a still-queued create purges the row outright.
func (h *FolderHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	id := h.mapper.Resolve(r.PathValue("id"))

	folder, err := h.repo.GetFolder(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.repo.DeleteFolder(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Folder not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	op, err := models.NewOperation(models.OpFolderDelete, id, models.DeletePayload{Tag: folder.Tag})
	if err == nil {
		var queued *models.Operation
		queued, err = h.queue.Enqueue(op)
		if err == nil && queued == nil {
			if purgeErr := h.repo.PurgeFolder(id); purgeErr != nil {
				log.Printf("Failed to purge never-synced folder %s: %v", id, purgeErr)
			}
		}
	}
	if err != nil {
		log.Printf("Failed to queue delete for folder %s: %v", id, err)
	}

	w.WriteHeader(http.StatusNoContent)
}
