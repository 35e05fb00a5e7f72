// Package db provides CRUD repository operations for NoteCove data models.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
	"github.com/jwei-lin/notecove/backend/internal/uuid"
)

// Repository provides CRUD operations for all models.
// T230: Added prepared statement cache for query optimization.
type Repository struct {
	db *sql.DB

	// T230: Prepared statement cache for frequently used queries
	// Statements are prepared on first use and cached for reuse
	stmtCache sync.Map // map[string]*sql.Stmt
}

// The operation queue persists through the Repository.
var _ queue.Store = (*Repository)(nil)

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// T230: PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Operation Queue Persistence
// =====================================================

const operationColumns = `id, type, entity_id, is_local_id, payload, status, priority,
	   retry_count, last_error, error_kind, next_retry_at, local_save_ts, seq,
	   created_at, updated_at`

// scanOperation reads one operation row.
func scanOperation(scan func(...interface{}) error) (*models.Operation, error) {
	var op models.Operation
	var payload sql.NullString
	err := scan(
		&op.ID, &op.Type, &op.EntityID, &op.IsLocalID, &payload, &op.Status,
		&op.Priority, &op.RetryCount, &op.LastError, &op.ErrorKind,
		&op.NextRetryAt, &op.LocalSaveTS, &op.Seq, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if payload.Valid && payload.String != "" {
		op.Payload = json.RawMessage(payload.String)
	}
	return &op, nil
}

// LoadOperations returns every queued operation in enqueue order.
func (r *Repository) LoadOperations() ([]*models.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM operations ORDER BY seq`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows.Scan)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// SaveOperation inserts or replaces an operation row.
// T230: Uses prepared statement; this is the hottest write path.
func (r *Repository) SaveOperation(op *models.Operation) error {
	query := `
	INSERT OR REPLACE INTO operations (` + operationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return err
	}

	var payload interface{}
	if len(op.Payload) > 0 {
		payload = string(op.Payload)
	}

	_, err = stmt.Exec(op.ID, op.Type, op.EntityID, op.IsLocalID, payload,
		op.Status, op.Priority, op.RetryCount, op.LastError, op.ErrorKind,
		op.NextRetryAt, op.LocalSaveTS, op.Seq, op.CreatedAt, op.UpdatedAt)
	return err
}

// DeleteOperation removes an operation row.
func (r *Repository) DeleteOperation(id string) error {
	_, err := r.db.Exec(`DELETE FROM operations WHERE id = ?`, id)
	return err
}

// ClearOperations removes all operation rows.
func (r *Repository) ClearOperations() error {
	_, err := r.db.Exec(`DELETE FROM operations`)
	return err
}

// SaveHistory records a finished operation.
func (r *Repository) SaveHistory(entry *models.OperationHistoryEntry) error {
	query := `
	INSERT INTO operation_history (id, operation_id, type, entity_id, outcome, retry_count, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, entry.ID, entry.OperationID, entry.Type,
		entry.EntityID, entry.Outcome, entry.RetryCount, entry.CompletedAt)
	return err
}

// PruneHistory deletes all but the newest keep history rows.
func (r *Repository) PruneHistory(keep int) error {
	query := `
	DELETE FROM operation_history WHERE id NOT IN (
		SELECT id FROM operation_history ORDER BY completed_at DESC, rowid DESC LIMIT ?
	)
	`
	_, err := r.db.Exec(query, keep)
	return err
}

// LoadHistory returns the newest history rows.
func (r *Repository) LoadHistory(limit int) ([]*models.OperationHistoryEntry, error) {
	query := `
	SELECT id, operation_id, type, entity_id, outcome, retry_count, completed_at
	FROM operation_history ORDER BY completed_at DESC, rowid DESC LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.OperationHistoryEntry
	for rows.Next() {
		var entry models.OperationHistoryEntry
		err := rows.Scan(&entry.ID, &entry.OperationID, &entry.Type,
			&entry.EntityID, &entry.Outcome, &entry.RetryCount, &entry.CompletedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// =====================================================
// Note Operations
// =====================================================

// CreateNote creates a new note. Notes created offline arrive without an
// ID and get a provisional local one.
func (r *Repository) CreateNote(note *models.Note) error {
	if note.ID == "" {
		note.ID = uuid.NewLocal()
	}
	now := models.NowMs()
	note.LocalSaveTS = now
	note.CreatedAt = now
	note.UpdatedAt = now

	query := `
	INSERT INTO notes (id, folder_id, title, content, tag, is_deleted, local_save_ts, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, note.ID, note.FolderID, note.Title, note.Content,
		note.Tag, note.IsDeleted, note.LocalSaveTS, note.CreatedAt, note.UpdatedAt)
	return err
}

// GetNote retrieves a note by ID.
// T230: Uses prepared statement for repeated queries.
func (r *Repository) GetNote(id string) (*models.Note, error) {
	query := `
	SELECT id, folder_id, title, content, tag, is_deleted, local_save_ts, created_at, updated_at
	FROM notes WHERE id = ? AND is_deleted = 0
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}

	var note models.Note
	err = stmt.QueryRow(id).Scan(
		&note.ID, &note.FolderID, &note.Title, &note.Content, &note.Tag,
		&note.IsDeleted, &note.LocalSaveTS, &note.CreatedAt, &note.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// ListNotes returns notes with pagination, optionally filtered by folder.
func (r *Repository) ListNotes(folderID string, limit, offset int) ([]*models.Note, error) {
	baseQuery := `
	SELECT id, folder_id, title, content, tag, is_deleted, local_save_ts, created_at, updated_at
	FROM notes WHERE is_deleted = 0
	`
	orderLimit := " ORDER BY updated_at DESC LIMIT ? OFFSET ?"

	var query string
	var args []interface{}
	if folderID != "" {
		query = baseQuery + " AND folder_id = ?" + orderLimit
		args = []interface{}{folderID, limit, offset}
	} else {
		query = baseQuery + orderLimit
		args = []interface{}{limit, offset}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		var note models.Note
		err := rows.Scan(
			&note.ID, &note.FolderID, &note.Title, &note.Content, &note.Tag,
			&note.IsDeleted, &note.LocalSaveTS, &note.CreatedAt, &note.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		notes = append(notes, &note)
	}
	return notes, rows.Err()
}

// UpdateNote updates an edited note. Bumps the local-save timestamp so a
// queued upload knows which snapshot it carries.
func (r *Repository) UpdateNote(note *models.Note) error {
	note.Touch()
	query := `
	UPDATE notes
	SET folder_id = ?, title = ?, content = ?, local_save_ts = ?, updated_at = ?
	WHERE id = ? AND is_deleted = 0
	`
	result, err := r.db.Exec(query, note.FolderID, note.Title, note.Content,
		note.LocalSaveTS, note.UpdatedAt, note.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("note not found: %s", note.ID)
	}
	return nil
}

// UpdateNoteTag records the server version tag after a sync round trip.
// Deliberately does not touch local_save_ts; a tag refresh is not an edit.
func (r *Repository) UpdateNoteTag(id, tag string) error {
	query := `UPDATE notes SET tag = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, tag, models.NowMs(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("note not found: %s", id)
	}
	return nil
}

// UpdateNoteID rewrites a note's primary key after the server assigns the
// durable ID.
func (r *Repository) UpdateNoteID(oldID, newID string) error {
	query := `UPDATE notes SET id = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, newID, models.NowMs(), oldID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("note not found: %s", oldID)
	}
	return nil
}

// DeleteNote soft deletes a note.
func (r *Repository) DeleteNote(id string) error {
	query := `UPDATE notes SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, models.NowMs(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("note not found: %s", id)
	}
	return nil
}

// PurgeNote removes a note row outright once its cloud delete completed.
func (r *Repository) PurgeNote(id string) error {
	_, err := r.db.Exec(`DELETE FROM notes WHERE id = ?`, id)
	return err
}

// =====================================================
// Folder Operations
// =====================================================

// CreateFolder creates a new folder, minting a local ID when none is set.
func (r *Repository) CreateFolder(folder *models.Folder) error {
	if folder.ID == "" {
		folder.ID = uuid.NewLocal()
	}
	now := models.NowMs()
	folder.CreatedAt = now
	folder.UpdatedAt = now

	query := `
	INSERT INTO folders (id, name, tag, is_deleted, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, folder.ID, folder.Name, folder.Tag,
		folder.IsDeleted, folder.CreatedAt, folder.UpdatedAt)
	return err
}

// GetFolder retrieves a folder by ID.
func (r *Repository) GetFolder(id string) (*models.Folder, error) {
	query := `SELECT id, name, tag, is_deleted, created_at, updated_at FROM folders WHERE id = ? AND is_deleted = 0`
	var folder models.Folder
	err := r.db.QueryRow(query, id).Scan(&folder.ID, &folder.Name, &folder.Tag,
		&folder.IsDeleted, &folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &folder, nil
}

// ListFolders returns all folders.
func (r *Repository) ListFolders() ([]*models.Folder, error) {
	query := `SELECT id, name, tag, is_deleted, created_at, updated_at FROM folders WHERE is_deleted = 0 ORDER BY name`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		var folder models.Folder
		err := rows.Scan(&folder.ID, &folder.Name, &folder.Tag,
			&folder.IsDeleted, &folder.CreatedAt, &folder.UpdatedAt)
		if err != nil {
			return nil, err
		}
		folders = append(folders, &folder)
	}
	return folders, rows.Err()
}

// UpdateFolder updates a folder's name.
func (r *Repository) UpdateFolder(folder *models.Folder) error {
	folder.Touch()
	query := `UPDATE folders SET name = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, folder.Name, folder.UpdatedAt, folder.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateFolderTag records the server version tag for a folder.
func (r *Repository) UpdateFolderTag(id, tag string) error {
	query := `UPDATE folders SET tag = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, tag, models.NowMs(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder not found: %s", id)
	}
	return nil
}

// UpdateFolderID rewrites a folder's primary key after the server assigns
// the durable ID. Notes filed under the provisional ID move with it.
func (r *Repository) UpdateFolderID(oldID, newID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE folders SET id = ?, updated_at = ? WHERE id = ?`, newID, models.NowMs(), oldID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("folder not found: %s", oldID)
	}

	if _, err := tx.Exec(`UPDATE notes SET folder_id = ? WHERE folder_id = ?`, newID, oldID); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteFolder soft deletes a folder.
func (r *Repository) DeleteFolder(id string) error {
	query := `UPDATE folders SET is_deleted = 1, updated_at = ? WHERE id = ? AND is_deleted = 0`
	result, err := r.db.Exec(query, models.NowMs(), id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PurgeFolder removes a folder row outright.
func (r *Repository) PurgeFolder(id string) error {
	_, err := r.db.Exec(`DELETE FROM folders WHERE id = ?`, id)
	return err
}

// =====================================================
// ID Mapping Operations
// =====================================================

// SaveIDMapping records a local-to-server ID migration.
func (r *Repository) SaveIDMapping(mapping *models.IDMapping) error {
	if mapping.CreatedAt == 0 {
		mapping.CreatedAt = models.NowMs()
	}
	query := `
	INSERT OR REPLACE INTO id_mappings (local_id, server_id, kind, created_at)
	VALUES (?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, mapping.LocalID, mapping.ServerID, mapping.Kind, mapping.CreatedAt)
	return err
}

// GetIDMapping retrieves the migration record for a local ID.
func (r *Repository) GetIDMapping(localID string) (*models.IDMapping, error) {
	query := `SELECT local_id, server_id, kind, created_at FROM id_mappings WHERE local_id = ?`
	var mapping models.IDMapping
	err := r.db.QueryRow(query, localID).Scan(&mapping.LocalID, &mapping.ServerID,
		&mapping.Kind, &mapping.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// ListIDMappings returns all recorded migrations, newest first.
func (r *Repository) ListIDMappings() ([]*models.IDMapping, error) {
	query := `SELECT local_id, server_id, kind, created_at FROM id_mappings ORDER BY created_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*models.IDMapping
	for rows.Next() {
		var mapping models.IDMapping
		err := rows.Scan(&mapping.LocalID, &mapping.ServerID, &mapping.Kind, &mapping.CreatedAt)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, &mapping)
	}
	return mappings, rows.Err()
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog creates a new conflict log entry.
func (r *Repository) CreateConflictLog(log *models.ConflictLog) error {
	log.ID = models.UUID(uuid.New())
	log.DetectedAt = models.NowMs()

	query := `
	INSERT INTO conflict_log (id, entity_id, local_tag, server_tag, resolution, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, log.ID, log.EntityID, log.LocalTag, log.ServerTag,
		log.Resolution, log.DetectedAt)
	return err
}

// ListConflictLogs returns the newest conflict entries.
func (r *Repository) ListConflictLogs(limit int) ([]*models.ConflictLog, error) {
	query := `
	SELECT id, entity_id, local_tag, server_tag, resolution, detected_at
	FROM conflict_log ORDER BY detected_at DESC LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var log models.ConflictLog
		err := rows.Scan(&log.ID, &log.EntityID, &log.LocalTag, &log.ServerTag,
			&log.Resolution, &log.DetectedAt)
		if err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

// =====================================================
// Sync Account Operations
// =====================================================

// GetSyncAccount retrieves the currently enabled sync account.
func (r *Repository) GetSyncAccount() (*models.SyncAccount, error) {
	query := `SELECT id, service_url, user_id, device_id, auth_token_encrypted, is_enabled, created_at, updated_at
			  FROM sync_accounts WHERE is_enabled = 1 LIMIT 1`

	var account models.SyncAccount
	err := r.db.QueryRow(query).Scan(
		&account.ID, &account.ServiceURL, &account.UserID, &account.DeviceID,
		&account.AuthTokenEncrypted, &account.IsEnabled,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveSyncAccount saves or updates the sync account configuration.
// If ID is empty, creates a new account; otherwise updates the existing one.
func (r *Repository) SaveSyncAccount(account *models.SyncAccount) error {
	now := models.NowMs()

	if account.ID == "" {
		account.ID = models.UUID(uuid.New())
		account.CreatedAt = now
		account.UpdatedAt = now

		query := `
		INSERT INTO sync_accounts (id, service_url, user_id, device_id, auth_token_encrypted, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := r.db.Exec(query, account.ID, account.ServiceURL, account.UserID,
			account.DeviceID, account.AuthTokenEncrypted, account.IsEnabled,
			account.CreatedAt, account.UpdatedAt)
		return err
	}

	account.UpdatedAt = now
	query := `
	UPDATE sync_accounts
	SET service_url = ?, user_id = ?, device_id = ?, auth_token_encrypted = ?, is_enabled = ?, updated_at = ?
	WHERE id = ?
	`
	_, err := r.db.Exec(query, account.ServiceURL, account.UserID, account.DeviceID,
		account.AuthTokenEncrypted, account.IsEnabled, account.UpdatedAt, account.ID)
	return err
}

// DeleteSyncAccount deletes a sync account by ID.
func (r *Repository) DeleteSyncAccount(id string) error {
	_, err := r.db.Exec(`DELETE FROM sync_accounts WHERE id = ?`, id)
	return err
}

// DisableAllSyncAccounts disables all sync accounts (used when setting a new one).
func (r *Repository) DisableAllSyncAccounts() error {
	_, err := r.db.Exec(`UPDATE sync_accounts SET is_enabled = 0 WHERE is_enabled = 1`)
	return err
}
