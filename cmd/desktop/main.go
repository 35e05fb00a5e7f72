// Package main provides the local service backing the NoteCove desktop
// client. The UI talks REST and WebSocket on localhost; this process
// owns the database, the operation queue, and the background sync loops.
//
// Configuration comes from the environment:
//
//	NOTECOVE_DATA_DIR     database, attachments, and thumbnails (./data)
//	NOTECOVE_PORT         listen port (8090)
//	NOTECOVE_SERVICE_URL  cloud service, used until an account is saved
//	NOTECOVE_LOG_LEVEL    debug, info, warn, or error (info)
//	NOTECOVE_MACHINE_ID   token encryption key override (detected)
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jwei-lin/notecove/backend/cmd/desktop/handlers"
	"github.com/jwei-lin/notecove/backend/internal/crypto"
	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/logging"
	"github.com/jwei-lin/notecove/backend/internal/media"
	"github.com/jwei-lin/notecove/backend/internal/remote"
	syncpkg "github.com/jwei-lin/notecove/backend/internal/sync"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
	"github.com/jwei-lin/notecove/backend/internal/sync/scheduler"
	"github.com/jwei-lin/notecove/backend/internal/sync/storage"
)

// envOr returns the environment value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dataDir := envOr("NOTECOVE_DATA_DIR", "./data")
	port := envOr("NOTECOVE_PORT", "8090")
	machineID := os.Getenv("NOTECOVE_MACHINE_ID")

	logging.Init(os.Stdout, logging.ParseLevel(os.Getenv("NOTECOVE_LOG_LEVEL")))

	database, err := db.Open(dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	hub := NewWSHub()

	opQueue := queue.NewOperationQueue(repo, queue.Config{Notifier: hub})
	if err := opQueue.Load(); err != nil {
		log.Fatalf("Failed to load operation queue: %v", err)
	}

	mapper := idmap.NewMapper(repo)
	if err := mapper.Load(); err != nil {
		log.Fatalf("Failed to load ID mappings: %v", err)
	}

	blobs := storage.NewAttachmentStore(filepath.Join(dataDir, "attachments"))
	thumbDir := filepath.Join(dataDir, "thumbnails")

	clientConfig := &remote.Config{BaseURL: os.Getenv("NOTECOVE_SERVICE_URL")}
	if account, err := repo.GetSyncAccount(); err == nil {
		clientConfig.BaseURL = account.ServiceURL
		clientConfig.UserID = account.UserID
		clientConfig.DeviceID = account.DeviceID

		token, err := crypto.DecryptToken(account.AuthTokenEncrypted, machineID)
		if err != nil {
			// The key no longer matches the stored token, most likely a
			// machine identity change. Sync stays parked until the user
			// signs in again.
			logging.Warn("Stored session token is unreadable, sign in again to sync",
				map[string]interface{}{"error": err.Error()})
		}
		clientConfig.AuthToken = token
	}
	client := remote.NewClient(clientConfig)

	noteSync := syncpkg.NewNoteHandler(repo, client, opQueue, mapper, repo, hub)
	folderSync := syncpkg.NewFolderHandler(repo, client, opQueue, mapper, repo, hub)
	fileSync := syncpkg.NewFileHandler(blobs, client, mapper, hub)

	reconciler := syncpkg.NewReconciler(opQueue, []syncpkg.Handler{noteSync, folderSync, fileSync}, hub)
	sched := scheduler.NewScheduler(reconciler, opQueue, nil)
	thumbs := media.NewThumbnailQueue(64, 2)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	thumbs.Start(ctx)
	sched.Start(ctx)

	notesAPI := handlers.NewNoteHandler(repo, opQueue, mapper)
	foldersAPI := handlers.NewFolderHandler(repo, opQueue, mapper)
	attachmentsAPI := handlers.NewAttachmentHandler(repo, blobs, thumbs, opQueue, mapper, thumbDir)
	syncAPI := handlers.NewSyncHandler(repo, opQueue, client, sched, machineID)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"notecove-desktop"}`))
	})

	mux.HandleFunc("GET /api/notes", notesAPI.ListNotes)
	mux.HandleFunc("POST /api/notes", notesAPI.CreateNote)
	mux.HandleFunc("GET /api/notes/{id}", notesAPI.GetNote)
	mux.HandleFunc("PUT /api/notes/{id}", notesAPI.UpdateNote)
	mux.HandleFunc("DELETE /api/notes/{id}", notesAPI.DeleteNote)
	mux.HandleFunc("GET /api/notes/{id}/operations", notesAPI.GetNoteOperations)
	mux.HandleFunc("POST /api/notes/{id}/attachments", attachmentsAPI.Upload)

	mux.HandleFunc("GET /api/folders", foldersAPI.ListFolders)
	mux.HandleFunc("POST /api/folders", foldersAPI.CreateFolder)
	mux.HandleFunc("GET /api/folders/{id}", foldersAPI.GetFolder)
	mux.HandleFunc("PUT /api/folders/{id}", foldersAPI.RenameFolder)
	mux.HandleFunc("DELETE /api/folders/{id}", foldersAPI.DeleteFolder)

	mux.HandleFunc("GET /api/attachments", attachmentsAPI.List)
	mux.HandleFunc("GET /api/attachments/{hash}", attachmentsAPI.Get)
	mux.HandleFunc("GET /api/attachments/{hash}/thumbnail", attachmentsAPI.Thumbnail)
	mux.HandleFunc("DELETE /api/attachments/{hash}", attachmentsAPI.Delete)

	mux.HandleFunc("GET /api/sync/status", syncAPI.GetStatus)
	mux.HandleFunc("POST /api/sync/now", syncAPI.TriggerSync)
	mux.HandleFunc("POST /api/sync/online", syncAPI.SetOnline)
	mux.HandleFunc("GET /api/sync/queue", syncAPI.GetQueue)
	mux.HandleFunc("GET /api/sync/history", syncAPI.GetHistory)
	mux.HandleFunc("POST /api/sync/queue/{id}/retry", syncAPI.RetryOperation)
	mux.HandleFunc("DELETE /api/sync/queue/{id}", syncAPI.CancelOperation)
	mux.HandleFunc("GET /api/sync/conflicts", syncAPI.GetConflicts)
	mux.HandleFunc("GET /api/sync/account", syncAPI.GetAccount)
	mux.HandleFunc("POST /api/sync/account", syncAPI.SetAccount)
	mux.HandleFunc("DELETE /api/sync/account", syncAPI.ClearAccount)
	mux.HandleFunc("POST /api/sync/auth/recover", syncAPI.RecoverAuth)

	mux.HandleFunc("/ws", HandleWebSocket(hub))

	server := &http.Server{
		Addr:    "localhost:" + port,
		Handler: mux,
	}

	go func() {
		logging.Info("NoteCove desktop service listening",
			map[string]interface{}{"addr": server.Addr, "data_dir": dataDir})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	sched.Stop()
	thumbs.Stop()
}
