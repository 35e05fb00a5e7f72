// Package queue provides the durable queue of offline cloud operations.
// T157: Operation queue with dedup merging, retry backoff and ID migration.
package queue

import (
	"fmt"
	"log"
	"sort"
	"sync"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
	"github.com/jwei-lin/notecove/backend/internal/sync/failure"
	"github.com/jwei-lin/notecove/backend/internal/uuid"
)

// Store is the persistence collaborator. Every write lands here before
// the in-memory indices change; a store failure fails that one call and
// leaves the queue shape untouched.
type Store interface {
	LoadOperations() ([]*models.Operation, error)
	SaveOperation(op *models.Operation) error
	DeleteOperation(id string) error
	SaveHistory(entry *models.OperationHistoryEntry) error
	PruneHistory(keep int) error
	LoadHistory(limit int) ([]*models.OperationHistoryEntry, error)
	ClearOperations() error
}

// Config tunes an OperationQueue.
type Config struct {
	Policy      *failure.Policy // retry authority, DefaultPolicy when nil
	HistoryKeep int             // completed entries retained, default 100
	Notifier    events.Notifier // optional event sink
}

// DefaultHistoryKeep is the number of completed operations retained.
const DefaultHistoryKeep = 100

// OperationQueue manages pending cloud operations. It is synchronous and
// coarse-locked: every public method takes the queue lock, and no code
// holding the lock ever calls out to reconciliation handlers.
type OperationQueue struct {
	mu       sync.Mutex
	store    Store
	policy   *failure.Policy
	notifier events.Notifier

	historyKeep int
	byID        map[string]*models.Operation
	byEntity    map[string]map[string]*models.Operation
	nextSeq     int64
}

// NewOperationQueue creates an OperationQueue over the given store.
// Call Load before use to rebuild the indices.
func NewOperationQueue(store Store, cfg Config) *OperationQueue {
	policy := cfg.Policy
	if policy == nil {
		policy = failure.DefaultPolicy()
	}
	keep := cfg.HistoryKeep
	if keep <= 0 {
		keep = DefaultHistoryKeep
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = events.NopNotifier{}
	}

	return &OperationQueue{
		store:       store,
		policy:      policy,
		notifier:    notifier,
		historyKeep: keep,
		byID:        make(map[string]*models.Operation),
		byEntity:    make(map[string]map[string]*models.Operation),
		nextSeq:     1,
	}
}

// Load rebuilds the in-memory indices from the store. Operations found in
// processing state belong to a run that never finished; they return to
// pending so the next pass picks them up.
func (q *OperationQueue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.store.LoadOperations()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "load operation queue", err)
	}

	q.byID = make(map[string]*models.Operation, len(ops))
	q.byEntity = make(map[string]map[string]*models.Operation)
	q.nextSeq = 1

	recovered := 0
	for _, op := range ops {
		if op.Status == models.StatusProcessing {
			op.Status = models.StatusPending
			op.Touch()
			if err := q.store.SaveOperation(op); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "recover in-flight operation", err)
			}
			recovered++
		}
		q.index(op)
		if op.Seq >= q.nextSeq {
			q.nextSeq = op.Seq + 1
		}
	}

	log.Printf("[OpQueue] Loaded %d operations (%d recovered from interrupted run)", len(ops), recovered)

	return nil
}

// Enqueue adds an operation, applying the dedup and merge rules for its
// type. It returns nil without error when the operation was discarded by
// a merge rule.
func (q *OperationQueue) Enqueue(op *models.Operation) (*models.Operation, error) {
	if op == nil || !op.Type.Valid() {
		return nil, apperrors.New(apperrors.ErrInvalid, "enqueue: invalid operation")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	removals, discard := q.mergePlan(op)
	if discard && len(removals) == 0 {
		log.Printf("[OpQueue] Discarded %s for %s (merged with active operation)", op.Type, op.EntityID)
		return nil, nil
	}

	// Store first, indices after. A mid-way failure restores the already
	// deleted rows so store and indices stay aligned.
	for i, victim := range removals {
		if err := q.store.DeleteOperation(victim.ID.String()); err != nil {
			for _, back := range removals[:i] {
				if restoreErr := q.store.SaveOperation(back); restoreErr != nil {
					log.Printf("[OpQueue] Restore of %s failed after aborted enqueue: %v", back.ID, restoreErr)
				}
			}
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "remove superseded operation", err)
		}
	}

	if !discard {
		op.Seq = q.nextSeq
		op.Touch()
		if err := q.store.SaveOperation(op); err != nil {
			for _, back := range removals {
				if restoreErr := q.store.SaveOperation(back); restoreErr != nil {
					log.Printf("[OpQueue] Restore of %s failed after aborted enqueue: %v", back.ID, restoreErr)
				}
			}
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "persist operation", err)
		}
	}

	for _, victim := range removals {
		q.unindex(victim)
	}

	if discard {
		log.Printf("[OpQueue] %s for %s collapsed %d operations and itself", op.Type, op.EntityID, len(removals))
		q.publish(events.New(events.QueueUpdated, op.EntityID, map[string]interface{}{
			"removed": len(removals),
		}))
		return nil, nil
	}

	q.nextSeq++
	q.index(op)

	log.Printf("[OpQueue] Enqueued %s operation %s for %s (superseded %d)", op.Type, op.ID, op.EntityID, len(removals))
	q.publish(events.New(events.QueueUpdated, op.EntityID, map[string]interface{}{
		"operation_id": op.ID.String(),
		"type":         string(op.Type),
	}))

	return op.Clone(), nil
}

// mergePlan decides what an incoming operation displaces. It returns the
// active operations to remove and whether the incoming one is itself
// discarded. Operations currently processing are never merged away.
func (q *OperationQueue) mergePlan(op *models.Operation) (removals []*models.Operation, discard bool) {
	switch op.Type {
	case models.OpNoteCreate, models.OpFolderCreate:
		// A second create for the same entity is a duplicate.
		if q.activeOfType(op.EntityID, op.Type) != nil {
			return nil, true
		}

	case models.OpCloudUpload:
		if q.activeOfType(op.EntityID, models.OpCloudDelete) != nil {
			// The entity is already being deleted; uploading is pointless.
			return nil, true
		}
		if prior := q.activeOfType(op.EntityID, models.OpCloudUpload); prior != nil {
			if prior.LocalSaveTS > op.LocalSaveTS {
				// An out-of-order enqueue carrying an older snapshot.
				return nil, true
			}
			removals = append(removals, prior)
		}

	case models.OpFolderRename:
		if prior := q.activeOfType(op.EntityID, models.OpFolderRename); prior != nil {
			removals = append(removals, prior)
		}

	case models.OpCloudDelete, models.OpFolderDelete:
		createType := models.OpNoteCreate
		if op.Type == models.OpFolderDelete {
			createType = models.OpFolderCreate
		}
		for _, other := range q.activeForEntity(op.EntityID) {
			removals = append(removals, other)
			if other.Type == createType {
				// The entity never reached the server; deleting it remotely
				// is meaningless, so the whole group collapses.
				discard = true
			}
		}

	case models.OpImageUpload, models.OpAudioUpload:
		// Attachments are distinct payloads; never deduplicated.
	}

	return removals, discard
}

// activeOfType returns the active operation of the given type for an
// entity, or nil. Active means indexed and not processing.
func (q *OperationQueue) activeOfType(entityID string, t models.OperationType) *models.Operation {
	for _, op := range q.byEntity[entityID] {
		if op.Type == t && op.Status != models.StatusProcessing {
			return op
		}
	}
	return nil
}

// activeForEntity returns all active operations for an entity.
func (q *OperationQueue) activeForEntity(entityID string) []*models.Operation {
	var active []*models.Operation
	for _, op := range q.byEntity[entityID] {
		if op.Status != models.StatusProcessing {
			active = append(active, op)
		}
	}
	return active
}

// GetPendingOperations returns a snapshot of the operations ready to run,
// ordered by priority (highest first), then enqueue time.
func (q *OperationQueue) GetPendingOperations() []*models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := models.NowMs()
	var ready []*models.Operation
	for _, op := range q.byID {
		if isReady(op, now) {
			ready = append(ready, op.Clone())
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if ready[i].CreatedAt != ready[j].CreatedAt {
			return ready[i].CreatedAt < ready[j].CreatedAt
		}
		return ready[i].Seq < ready[j].Seq
	})

	return ready
}

// isReady reports whether an operation is eligible to run now.
func isReady(op *models.Operation, now int64) bool {
	if op.Status != models.StatusPending && op.Status != models.StatusFailed {
		return false
	}
	return op.NextRetryAt == 0 || op.NextRetryAt <= now
}

// MarkProcessing transitions an operation to processing before its
// handler runs.
func (q *OperationQueue) MarkProcessing(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.mutate(id, func(op *models.Operation) error {
		if op.Status != models.StatusPending && op.Status != models.StatusFailed {
			return apperrors.New(apperrors.ErrInvalid,
				fmt.Sprintf("operation %s is %s, not runnable", id, op.Status))
		}
		op.Status = models.StatusProcessing
		return nil
	})
	return err
}

// MarkCompleted finishes an operation: a history entry is written, the
// history is pruned, and the operation leaves the queue.
func (q *OperationQueue) MarkCompleted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.byID[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}

	entry := &models.OperationHistoryEntry{
		ID:          models.UUID(uuid.New()),
		OperationID: op.ID,
		Type:        op.Type,
		EntityID:    op.EntityID,
		Outcome:     models.OutcomeCompleted,
		RetryCount:  op.RetryCount,
		CompletedAt: models.NowMs(),
	}
	if err := q.store.SaveHistory(entry); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "record operation history", err)
	}
	if err := q.store.DeleteOperation(id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "remove completed operation", err)
	}
	if err := q.store.PruneHistory(q.historyKeep); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "prune operation history", err)
	}

	q.unindex(op)

	log.Printf("[OpQueue] Completed %s operation %s", op.Type, id)
	q.publish(events.New(events.OperationCompleted, op.EntityID, map[string]interface{}{
		"operation_id": id,
		"type":         string(op.Type),
	}))

	return nil
}

// MarkFailed records a failure. The retry count is incremented, the error
// is classified, and the operation lands in failed with a backoff delay,
// auth_failed on expired credentials, or max_retry_exceeded when the
// policy abandons it. The decision is returned for callers that report it.
func (q *OperationQueue) MarkFailed(id string, opErr error) (failure.Decision, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var decision failure.Decision
	op, err := q.mutate(id, func(op *models.Operation) error {
		op.RetryCount++
		if opErr != nil {
			op.LastError = opErr.Error()
		}

		decision = q.policy.Decide(opErr, op.RetryCount)
		op.ErrorKind = string(decision.Kind)

		switch {
		case decision.Kind == failure.KindAuthExpired:
			// Parked until credentials are refreshed; retrying cannot help.
			op.Status = models.StatusAuthFailed
			op.NextRetryAt = 0
		case !decision.Retry:
			op.Status = models.StatusMaxRetryExceeded
			op.NextRetryAt = 0
		default:
			op.Status = models.StatusFailed
			op.NextRetryAt = models.NowMs() + decision.Delay.Milliseconds()
		}
		return nil
	})
	if err != nil {
		return failure.Decision{}, err
	}

	log.Printf("[OpQueue] %s operation %s failed (retry %d, kind %s, status %s): %v",
		op.Type, id, op.RetryCount, op.ErrorKind, op.Status, opErr)
	q.publish(events.New(events.OperationFailed, op.EntityID, map[string]interface{}{
		"operation_id": id,
		"type":         string(op.Type),
		"kind":         op.ErrorKind,
		"status":       string(op.Status),
		"retry_count":  op.RetryCount,
		"retryable":    decision.Retry,
	}))

	return decision, nil
}

// ScheduleRetry pushes an operation's next attempt out by delay without
// recording a failure.
func (q *OperationQueue) ScheduleRetry(id string, delayMs int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.mutate(id, func(op *models.Operation) error {
		op.Status = models.StatusFailed
		op.NextRetryAt = models.NowMs() + delayMs
		return nil
	})
	return err
}

// MarkInterrupted returns an in-flight operation to pending after a
// cancelled pass. Unlike ResetToPending the retry history is kept; the
// operation is as eligible as it was before the attempt started.
func (q *OperationQueue) MarkInterrupted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := q.mutate(id, func(op *models.Operation) error {
		if op.Status != models.StatusProcessing {
			return apperrors.New(apperrors.ErrInvalid,
				fmt.Sprintf("operation %s is %s, not processing", id, op.Status))
		}
		op.Status = models.StatusPending
		return nil
	})
	if err != nil {
		return err
	}

	q.publish(events.New(events.QueueUpdated, op.EntityID, map[string]interface{}{"operation_id": id}))
	return nil
}

// ResetToPending clears an operation's failure state, including the
// terminal ones, making it immediately eligible again.
func (q *OperationQueue) ResetToPending(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := q.mutate(id, func(op *models.Operation) error {
		resetFailureState(op)
		return nil
	})
	if err != nil {
		return err
	}

	q.publish(events.New(events.QueueUpdated, op.EntityID, map[string]interface{}{"operation_id": id}))
	return nil
}

// ResetAuthFailed returns every auth-parked operation to pending. Called
// after credentials are refreshed.
func (q *OperationQueue) ResetAuthFailed() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for id, op := range q.byID {
		if op.Status != models.StatusAuthFailed {
			continue
		}
		if _, err := q.mutate(id, func(op *models.Operation) error {
			resetFailureState(op)
			return nil
		}); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		log.Printf("[OpQueue] Reset %d auth-parked operations after credential refresh", count)
		q.publish(events.New(events.QueueUpdated, "", map[string]interface{}{"reset": count}))
	}

	return count, nil
}

// resetFailureState wipes retry bookkeeping and returns the op to pending.
func resetFailureState(op *models.Operation) {
	op.Status = models.StatusPending
	op.RetryCount = 0
	op.NextRetryAt = 0
	op.LastError = ""
	op.ErrorKind = ""
}

// UpdateEntityID rewrites every operation indexed under oldID to the
// server-assigned newID, clearing the local-ID flag. Runs entirely under
// the queue lock, so concurrent enqueues and queries never observe a
// half-migrated state.
func (q *OperationQueue) UpdateEntityID(oldID, newID string) (int, error) {
	if oldID == "" || newID == "" || oldID == newID {
		return 0, apperrors.New(apperrors.ErrInvalid, "entity ID migration needs distinct IDs")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	group := q.byEntity[oldID]
	if len(group) == 0 {
		return 0, nil
	}

	migrated := 0
	for id := range group {
		if _, err := q.mutate(id, func(op *models.Operation) error {
			op.EntityID = newID
			op.IsLocalID = false
			return nil
		}); err != nil {
			return migrated, err
		}
		// mutate committed the change in place; move the index entry.
		delete(group, id)
		if q.byEntity[newID] == nil {
			q.byEntity[newID] = make(map[string]*models.Operation)
		}
		q.byEntity[newID][id] = q.byID[id]
		migrated++
	}
	delete(q.byEntity, oldID)

	log.Printf("[OpQueue] Migrated %d operations from %s to %s", migrated, oldID, newID)

	return migrated, nil
}

// CancelOperation removes an operation outright.
func (q *OperationQueue) CancelOperation(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.byID[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}

	if err := q.store.DeleteOperation(id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "remove operation", err)
	}

	q.unindex(op)
	q.publish(events.New(events.QueueUpdated, op.EntityID, map[string]interface{}{"operation_id": id}))

	return nil
}

// Get returns a copy of one operation.
func (q *OperationQueue) Get(id string) (*models.Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, ok := q.byID[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}
	return op.Clone(), nil
}

// OperationsForEntity returns copies of all operations indexed for an
// entity, oldest first.
func (q *OperationQueue) OperationsForEntity(entityID string) []*models.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ops []*models.Operation
	for _, op := range q.byEntity[entityID] {
		ops = append(ops, op.Clone())
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].CreatedAt != ops[j].CreatedAt {
			return ops[i].CreatedAt < ops[j].CreatedAt
		}
		return ops[i].Seq < ops[j].Seq
	})
	return ops
}

// History returns the most recent completion records, newest first.
func (q *OperationQueue) History(limit int) ([]*models.OperationHistoryEntry, error) {
	if limit <= 0 || limit > q.historyKeep {
		limit = q.historyKeep
	}

	entries, err := q.store.LoadHistory(limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "load operation history", err)
	}
	return entries, nil
}

// Size returns the number of queued operations.
func (q *OperationQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

// Stats returns counts of queued operations by status.
func (q *OperationQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":              0,
		"pending":            0,
		"processing":         0,
		"failed":             0,
		"auth_failed":        0,
		"max_retry_exceeded": 0,
	}

	for _, op := range q.byID {
		stats["total"]++
		switch op.Status {
		case models.StatusPending:
			stats["pending"]++
		case models.StatusProcessing:
			stats["processing"]++
		case models.StatusFailed:
			stats["failed"]++
		case models.StatusAuthFailed:
			stats["auth_failed"]++
		case models.StatusMaxRetryExceeded:
			stats["max_retry_exceeded"]++
		}
	}

	return stats
}

// Clear removes every queued operation.
func (q *OperationQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.ClearOperations(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "clear operation queue", err)
	}

	q.byID = make(map[string]*models.Operation)
	q.byEntity = make(map[string]map[string]*models.Operation)

	log.Printf("[OpQueue] Queue cleared")
	q.publish(events.New(events.QueueUpdated, "", nil))

	return nil
}

// mutate applies fn to a copy of the operation, persists the copy, and
// commits it into the index only on success. Callers hold the lock.
func (q *OperationQueue) mutate(id string, fn func(*models.Operation) error) (*models.Operation, error) {
	op, ok := q.byID[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("operation %s not found", id))
	}

	next := op.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Touch()

	if err := q.store.SaveOperation(next); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "persist operation update", err)
	}

	*op = *next
	return next, nil
}

// index adds an operation to both indices.
func (q *OperationQueue) index(op *models.Operation) {
	id := op.ID.String()
	q.byID[id] = op
	if q.byEntity[op.EntityID] == nil {
		q.byEntity[op.EntityID] = make(map[string]*models.Operation)
	}
	q.byEntity[op.EntityID][id] = op
}

// unindex removes an operation from both indices.
func (q *OperationQueue) unindex(op *models.Operation) {
	id := op.ID.String()
	delete(q.byID, id)
	if group := q.byEntity[op.EntityID]; group != nil {
		delete(group, id)
		if len(group) == 0 {
			delete(q.byEntity, op.EntityID)
		}
	}
}

// publish dispatches an event without holding up the caller.
func (q *OperationQueue) publish(event events.Event) {
	go q.notifier.Publish(event)
}
