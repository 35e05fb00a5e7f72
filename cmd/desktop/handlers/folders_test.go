// Package handlers tests for folder REST API endpoints.
package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
)

// setupFolderEnv builds a folder handler over a throwaway database.
func setupFolderEnv(t *testing.T) (*FolderHandler, *db.Repository, *queue.OperationQueue) {
	t.Helper()

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)
	t.Cleanup(func() { repo.Close() })

	opQueue := queue.NewOperationQueue(repo, queue.Config{})
	if err := opQueue.Load(); err != nil {
		t.Fatalf("Failed to load queue: %v", err)
	}

	mapper := idmap.NewMapper(repo)
	if err := mapper.Load(); err != nil {
		t.Fatalf("Failed to load mapper: %v", err)
	}

	return NewFolderHandler(repo, opQueue, mapper), repo, opQueue
}

func TestNewFolderHandler(t *testing.T) {
	handler, repo, _ := setupFolderEnv(t)

	if handler == nil {
		t.Fatal("NewFolderHandler should return non-nil handler")
	}
	if handler.repo != repo {
		t.Error("Handler repo should match provided repo")
	}
}

func TestFolderHandler_CreateFolder(t *testing.T) {
	handler, _, opQueue := setupFolderEnv(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "Recipes"})
	req := httptest.NewRequest(http.MethodPost, "/api/folders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateFolder(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", w.Code, w.Body.String())
	}

	var folder models.Folder
	if err := json.NewDecoder(w.Body).Decode(&folder); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if folder.Name != "Recipes" {
		t.Errorf("Expected name 'Recipes', got '%s'", folder.Name)
	}

	ops := opQueue.OperationsForEntity(folder.ID)
	if len(ops) != 1 || ops[0].Type != models.OpFolderCreate {
		t.Errorf("Expected one queued %s, got %v", models.OpFolderCreate, ops)
	}
}

func TestFolderHandler_CreateFolder_MissingName(t *testing.T) {
	handler, _, _ := setupFolderEnv(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "   "})
	req := httptest.NewRequest(http.MethodPost, "/api/folders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateFolder(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("name is required")) {
		t.Errorf("Expected error about missing name, got: %s", w.Body.String())
	}
}

func TestFolderHandler_ListFolders(t *testing.T) {
	handler, repo, _ := setupFolderEnv(t)

	if err := repo.CreateFolder(&models.Folder{Name: "Inbox"}); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/folders", nil)
	w := httptest.NewRecorder()

	handler.ListFolders(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["count"].(float64) != 1 {
		t.Errorf("Expected count 1, got %v", response["count"])
	}
}

func TestFolderHandler_GetFolder(t *testing.T) {
	handler, repo, _ := setupFolderEnv(t)

	folder := &models.Folder{Name: "Projects"}
	if err := repo.CreateFolder(folder); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/folders/"+folder.ID, nil)
	req.SetPathValue("id", folder.ID)
	w := httptest.NewRecorder()

	handler.GetFolder(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got models.Folder
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != folder.ID {
		t.Errorf("Expected ID %s, got %s", folder.ID, got.ID)
	}
}

func TestFolderHandler_GetFolder_NotFound(t *testing.T) {
	handler, _, _ := setupFolderEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/folders/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	w := httptest.NewRecorder()

	handler.GetFolder(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestFolderHandler_RenameFolder(t *testing.T) {
	handler, repo, opQueue := setupFolderEnv(t)

	folder := &models.Folder{Name: "Old Name"}
	if err := repo.CreateFolder(folder); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"name": "New Name"})
	req := httptest.NewRequest(http.MethodPut, "/api/folders/"+folder.ID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", folder.ID)
	w := httptest.NewRecorder()

	handler.RenameFolder(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}

	got, err := repo.GetFolder(folder.ID)
	if err != nil {
		t.Fatalf("Failed to re-read folder: %v", err)
	}
	if got.Name != "New Name" {
		t.Errorf("Expected renamed folder, got '%s'", got.Name)
	}

	ops := opQueue.OperationsForEntity(folder.ID)
	if len(ops) != 1 || ops[0].Type != models.OpFolderRename {
		t.Fatalf("Expected one queued %s, got %v", models.OpFolderRename, ops)
	}
}

func TestFolderHandler_RenameFolder_ReplacesQueuedRename(t *testing.T) {
	handler, repo, opQueue := setupFolderEnv(t)

	folder := &models.Folder{Name: "First"}
	if err := repo.CreateFolder(folder); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	rename := func(name string) {
		body, _ := json.Marshal(map[string]interface{}{"name": name})
		req := httptest.NewRequest(http.MethodPut, "/api/folders/"+folder.ID, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.SetPathValue("id", folder.ID)
		w := httptest.NewRecorder()
		handler.RenameFolder(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("Rename to %q failed with status %d", name, w.Code)
		}
	}

	rename("Second")
	rename("Third")

	// Only the newest rename should survive in the queue.
	ops := opQueue.OperationsForEntity(folder.ID)
	if len(ops) != 1 {
		t.Fatalf("Expected 1 queued operation, got %d", len(ops))
	}

	var payload models.FolderRenamePayload
	if err := ops[0].DecodePayload(&payload); err != nil {
		t.Fatalf("Failed to decode rename payload: %v", err)
	}
	if payload.Name != "Third" {
		t.Errorf("Expected surviving rename to 'Third', got '%s'", payload.Name)
	}
}

func TestFolderHandler_RenameFolder_MissingName(t *testing.T) {
	handler, repo, _ := setupFolderEnv(t)

	folder := &models.Folder{Name: "Kept"}
	if err := repo.CreateFolder(folder); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"name": ""})
	req := httptest.NewRequest(http.MethodPut, "/api/folders/"+folder.ID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetPathValue("id", folder.ID)
	w := httptest.NewRecorder()

	handler.RenameFolder(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestFolderHandler_DeleteFolder_SyncedFolder(t *testing.T) {
	handler, repo, opQueue := setupFolderEnv(t)

	folder := &models.Folder{Name: "Done", Tag: "v7"}
	if err := repo.CreateFolder(folder); err != nil {
		t.Fatalf("Failed to seed folder: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/folders/"+folder.ID, nil)
	req.SetPathValue("id", folder.ID)
	w := httptest.NewRecorder()

	handler.DeleteFolder(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	if _, err := repo.GetFolder(folder.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows for deleted folder, got: %v", err)
	}

	ops := opQueue.OperationsForEntity(folder.ID)
	if len(ops) != 1 || ops[0].Type != models.OpFolderDelete {
		t.Errorf("Expected one queued %s, got %v", models.OpFolderDelete, ops)
	}
}

func TestFolderHandler_DeleteFolder_CollapsesQueuedCreate(t *testing.T) {
	handler, repo, opQueue := setupFolderEnv(t)

	body, _ := json.Marshal(map[string]interface{}{"name": "Short-lived"})
	req := httptest.NewRequest(http.MethodPost, "/api/folders", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.CreateFolder(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Create failed with status %d", w.Code)
	}
	var folder models.Folder
	if err := json.NewDecoder(w.Body).Decode(&folder); err != nil {
		t.Fatalf("Failed to decode created folder: %v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/folders/"+folder.ID, nil)
	req.SetPathValue("id", folder.ID)
	w = httptest.NewRecorder()
	handler.DeleteFolder(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}

	if ops := opQueue.OperationsForEntity(folder.ID); len(ops) != 0 {
		t.Errorf("Expected empty queue after collapse, got %d operations", len(ops))
	}
	if _, err := repo.GetFolder(folder.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows after purge, got: %v", err)
	}
}

func TestFolderHandler_DeleteFolder_NotFound(t *testing.T) {
	handler, _, _ := setupFolderEnv(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/folders/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	w := httptest.NewRecorder()

	handler.DeleteFolder(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
