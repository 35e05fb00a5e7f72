// Package handlers provides the local REST API the desktop UI talks to.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/jwei-lin/notecove/backend/internal/crypto"
	"github.com/jwei-lin/notecove/backend/internal/db"
	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/remote"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
	"github.com/jwei-lin/notecove/backend/internal/sync/scheduler"
	"github.com/jwei-lin/notecove/backend/internal/telemetry"
	"github.com/jwei-lin/notecove/backend/internal/uuid"
)

// SyncHandler handles sync account configuration, status, and control.
type SyncHandler struct {
	repo      *db.Repository
	queue     *queue.OperationQueue
	remote    *remote.Client
	scheduler *scheduler.Scheduler
	machineID string
}

// NewSyncHandler creates a new SyncHandler. An empty machineID lets the
// token encryption key derive from the detected machine identity.
func NewSyncHandler(repo *db.Repository, opQueue *queue.OperationQueue, client *remote.Client,
	sched *scheduler.Scheduler, machineID string) *SyncHandler {
	return &SyncHandler{
		repo:      repo,
		queue:     opQueue,
		remote:    client,
		scheduler: sched,
		machineID: machineID,
	}
}

// =====================================================
// Status and Control
// =====================================================

// GetStatus handles GET /api/sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	configured := false
	if _, err := h.repo.GetSyncAccount(); err == nil {
		configured = true
	}

	response := map[string]interface{}{
		"configured": configured,
		"scheduler":  h.scheduler.GetStatus(),
		"counters":   telemetry.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// TriggerSync handles POST /api/sync/now
// Runs a pass and waits for it. A pass already in flight is reported as
// a conflict, not a failure.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSyncFailed) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// SetOnline handles POST /api/sync/online
// The UI reports OS connectivity changes here; coming back online kicks
// off a pass.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.scheduler.SetOnlineStatus(request.Online)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"online": request.Online})
}

// =====================================================
// Queue Inspection
// =====================================================

// GetQueue handles GET /api/sync/queue
// Lists the operations runnable right now plus per-status counts. Ops
// waiting out a retry delay appear in the stats but not the ready list.
func (h *SyncHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	ready := h.queue.GetPendingOperations()
	if ready == nil {
		ready = []*models.Operation{}
	}

	response := map[string]interface{}{
		"ready": ready,
		"size":  h.queue.Size(),
		"stats": h.queue.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetHistory handles GET /api/sync/history
func (h *SyncHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.queue.History(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.OperationHistoryEntry{}
	}

	response := map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RetryOperation handles POST /api/sync/queue/{id}/retry
// Clears an operation's failure state, terminal states included, and
// kicks a pass to run it.
func (h *SyncHandler) RetryOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.queue.ResetToPending(id); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			http.Error(w, "Operation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.scheduler.TriggerSync(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "pending"})
}

// CancelOperation handles DELETE /api/sync/queue/{id}
func (h *SyncHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.queue.CancelOperation(id); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			http.Error(w, "Operation not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetConflicts handles GET /api/sync/conflicts
func (h *SyncHandler) GetConflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	conflicts, err := h.repo.ListConflictLogs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if conflicts == nil {
		conflicts = []*models.ConflictLog{}
	}

	response := map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// =====================================================
// Account Configuration
// =====================================================

// GetAccount handles GET /api/sync/account
// Returns the configured account with the token redacted.
func (h *SyncHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.repo.GetSyncAccount()
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{"configured": false})
			return
		}
		http.Error(w, "Failed to retrieve account", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"configured":  true,
		"service_url": account.ServiceURL,
		"user_id":     account.UserID,
		"device_id":   account.DeviceID,
		"auth_token":  "***REDACTED***",
		"updated_at":  account.UpdatedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// SetAccount handles POST /api/sync/account
// Saves the account with the token encrypted at rest, repoints the HTTP
// client, and un-parks operations that failed on the old session.
func (h *SyncHandler) SetAccount(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ServiceURL string `json:"service_url"`
		UserID     string `json:"user_id"`
		DeviceID   string `json:"device_id"`
		AuthToken  string `json:"auth_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	request.ServiceURL = strings.TrimSpace(request.ServiceURL)
	if request.ServiceURL == "" {
		http.Error(w, "service_url is required", http.StatusBadRequest)
		return
	}
	if request.AuthToken == "" {
		http.Error(w, "auth_token is required", http.StatusBadRequest)
		return
	}
	if request.DeviceID == "" {
		request.DeviceID = uuid.New()
	}

	encrypted, err := crypto.EncryptToken(request.AuthToken, h.machineID)
	if err != nil {
		http.Error(w, "Failed to encrypt token", http.StatusInternalServerError)
		return
	}

	if err := h.repo.DisableAllSyncAccounts(); err != nil {
		log.Printf("Failed to disable previous account: %v", err)
	}

	account := &models.SyncAccount{
		ServiceURL:         request.ServiceURL,
		UserID:             request.UserID,
		DeviceID:           request.DeviceID,
		AuthTokenEncrypted: encrypted,
		IsEnabled:          true,
	}
	if err := h.repo.SaveSyncAccount(account); err != nil {
		http.Error(w, "Failed to save account", http.StatusInternalServerError)
		return
	}

	h.remote.SetBaseURL(account.ServiceURL)
	h.remote.SetAuthToken(request.AuthToken)
	h.remote.SetDeviceID(account.DeviceID)

	recovered, err := h.scheduler.RecoverAuth(r.Context())
	if err != nil {
		log.Printf("Auth recovery after account change failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "success",
		"device_id": account.DeviceID,
		"recovered": recovered,
	})
}

// ClearAccount handles DELETE /api/sync/account
// Disconnects from the cloud. Queued operations stay put; they run
// again once a new account is configured and auth recovery fires.
func (h *SyncHandler) ClearAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.repo.GetSyncAccount()
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Failed to retrieve account", http.StatusInternalServerError)
		return
	}

	if account != nil {
		if err := h.repo.DeleteSyncAccount(account.ID.String()); err != nil {
			http.Error(w, "Failed to delete account", http.StatusInternalServerError)
			return
		}
	}

	h.remote.SetAuthToken("")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "success"})
}

// RecoverAuth handles POST /api/sync/auth/recover
// Re-runs operations parked after an expired session, for tokens
// refreshed out of band.
func (h *SyncHandler) RecoverAuth(w http.ResponseWriter, r *http.Request) {
	recovered, err := h.scheduler.RecoverAuth(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"recovered": recovered})
}
