// Package main provides the headless NoteCove sync runner. It opens the
// same local database the desktop service uses, drains the operation
// queue through one reconciliation pass, and exits. Useful for scripted
// sync from cron or CI without starting the desktop bridge.
//
// Configuration mirrors the desktop service: NOTECOVE_DATA_DIR,
// NOTECOVE_SERVICE_URL, NOTECOVE_LOG_LEVEL, NOTECOVE_MACHINE_ID.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jwei-lin/notecove/backend/internal/crypto"
	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/logging"
	"github.com/jwei-lin/notecove/backend/internal/remote"
	syncpkg "github.com/jwei-lin/notecove/backend/internal/sync"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
	"github.com/jwei-lin/notecove/backend/internal/sync/idmap"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
	"github.com/jwei-lin/notecove/backend/internal/sync/storage"
)

// Version is set at build time.
var Version = "0.1.0"

// passTimeout bounds a single drain so a wedged network call cannot
// hold a cron slot forever.
const passTimeout = 10 * time.Minute

func main() {
	fmt.Printf("NoteCove Core v%s\n", Version)

	logging.Init(os.Stderr, logging.ParseLevel(os.Getenv("NOTECOVE_LOG_LEVEL")))

	result, err := runOnce()
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))

	if result.Failed > 0 {
		os.Exit(1)
	}
}

// runOnce wires the engine against the local database and runs a single
// reconciliation pass.
func runOnce() (*syncpkg.Result, error) {
	dataDir := os.Getenv("NOTECOVE_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	machineID := os.Getenv("NOTECOVE_MACHINE_ID")

	database, err := db.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	// Events go to the debug log; there is no UI to push them to.
	notifier := events.NotifierFunc(func(event events.Event) {
		logging.Debug("Sync event", map[string]interface{}{
			"type":      string(event.Type),
			"entity_id": event.EntityID,
		})
	})

	opQueue := queue.NewOperationQueue(repo, queue.Config{Notifier: notifier})
	if err := opQueue.Load(); err != nil {
		return nil, fmt.Errorf("load operation queue: %w", err)
	}

	mapper := idmap.NewMapper(repo)
	if err := mapper.Load(); err != nil {
		return nil, fmt.Errorf("load ID mappings: %w", err)
	}

	blobs := storage.NewAttachmentStore(filepath.Join(dataDir, "attachments"))

	clientConfig := &remote.Config{BaseURL: os.Getenv("NOTECOVE_SERVICE_URL")}
	if account, err := repo.GetSyncAccount(); err == nil {
		clientConfig.BaseURL = account.ServiceURL
		clientConfig.UserID = account.UserID
		clientConfig.DeviceID = account.DeviceID

		token, err := crypto.DecryptToken(account.AuthTokenEncrypted, machineID)
		if err != nil {
			return nil, fmt.Errorf("stored session token is unreadable, sign in again: %w", err)
		}
		clientConfig.AuthToken = token
	}
	client := remote.NewClient(clientConfig)

	noteSync := syncpkg.NewNoteHandler(repo, client, opQueue, mapper, repo, notifier)
	folderSync := syncpkg.NewFolderHandler(repo, client, opQueue, mapper, repo, notifier)
	fileSync := syncpkg.NewFileHandler(blobs, client, mapper, notifier)

	reconciler := syncpkg.NewReconciler(opQueue, []syncpkg.Handler{noteSync, folderSync, fileSync}, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	return reconciler.Reconcile(ctx)
}
