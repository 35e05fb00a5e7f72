// Package main tests for desktop server initialization and routing.
// These tests verify route registration, handler creation, and the
// environment fallbacks main relies on.
package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/jwei-lin/notecove/backend/cmd/desktop/handlers"
	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/logging"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
)

// setupTestRepo opens a throwaway database with migrations applied.
func setupTestRepo(t *testing.T) *db.Repository {
	t.Helper()
	logging.Init(os.Stdout, logging.LevelError)

	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	repository := db.NewRepository(database.DB)
	t.Cleanup(func() { repository.Close() })
	return repository
}

func TestMain_HealthEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"notecove-desktop"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health check returned status %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", w.Header().Get("Content-Type"))
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Health body is not JSON: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "notecove-desktop" {
		t.Errorf("Unexpected health body: %s", w.Body.String())
	}
}

func TestMain_HealthCheck_MethodNotAllowed(t *testing.T) {
	// Method patterns make the mux reject non-GET requests itself.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/health", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestMain_HandlerCreation(t *testing.T) {
	repository := setupTestRepo(t)

	opQueue := queue.NewOperationQueue(repository, queue.Config{})
	if err := opQueue.Load(); err != nil {
		t.Fatalf("Failed to load queue: %v", err)
	}

	mapper := idmap.NewMapper(repository)
	if err := mapper.Load(); err != nil {
		t.Fatalf("Failed to load mapper: %v", err)
	}

	noteHandler := handlers.NewNoteHandler(repository, opQueue, mapper)
	folderHandler := handlers.NewFolderHandler(repository, opQueue, mapper)

	if noteHandler == nil {
		t.Error("NoteHandler should not be nil")
	}
	if folderHandler == nil {
		t.Error("FolderHandler should not be nil")
	}
}

func TestMain_PathValueRouting(t *testing.T) {
	// The API relies on Go 1.22 path parameters; make sure the wiring
	// style used in main actually delivers them.
	mux := http.NewServeMux()

	var gotID string
	mux.HandleFunc("GET /api/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.PathValue("id")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/notes/local-123", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if gotID != "local-123" {
		t.Errorf("Expected path value local-123, got %q", gotID)
	}
}

func TestMain_EnvOrDefault(t *testing.T) {
	os.Unsetenv("NOTECOVE_PORT")

	if got := envOr("NOTECOVE_PORT", "8090"); got != "8090" {
		t.Errorf("Expected default port 8090, got %s", got)
	}
}

func TestMain_EnvOrFromEnv(t *testing.T) {
	os.Setenv("NOTECOVE_PORT", "3000")
	defer os.Unsetenv("NOTECOVE_PORT")

	if got := envOr("NOTECOVE_PORT", "8090"); got != "3000" {
		t.Errorf("Expected port 3000, got %s", got)
	}
}
