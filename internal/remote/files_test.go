package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
)

func TestUploadFile(t *testing.T) {
	payload := []byte("fake png bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/v1/notes/srv-123/files" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filename"); got != "photo.png" {
			t.Errorf("filename = %q, want photo.png", got)
		}
		if got := r.Header.Get("Content-Type"); got != "image/png" {
			t.Errorf("Content-Type = %q, want image/png", got)
		}

		body, _ := io.ReadAll(r.Body)
		if string(body) != string(payload) {
			t.Error("Upload body does not match payload")
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(uploadBody{FileID: "file-9"})
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, AuthToken: "test-token"})

	result, err := client.UploadFile(context.Background(), "srv-123", "photo.png", "image/png", payload)
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if result.FileID != "file-9" {
		t.Errorf("FileID = %s, want file-9", result.FileID)
	}
}

func TestUploadFile_quotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer server.Close()

	client := NewClient(&Config{BaseURL: server.URL, AuthToken: "test-token"})

	_, err := client.UploadFile(context.Background(), "srv-123", "big.png", "image/png", []byte("x"))
	if !apperrors.Is(err, apperrors.ErrSyncQuotaExceeded) {
		t.Errorf("Error code = %s, want %s", apperrors.GetCode(err), apperrors.ErrSyncQuotaExceeded)
	}
}
