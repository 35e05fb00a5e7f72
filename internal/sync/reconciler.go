package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	apperrors "github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/events"
	"github.com/jwei-lin/notecove/backend/internal/sync/failure"
	"github.com/jwei-lin/notecove/backend/internal/telemetry"
)

// Status represents the current reconciliation state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusFailed  Status = "failed"
)

// maxErrorHistory caps the in-memory failure log.
const maxErrorHistory = 100

// Result summarizes one reconciliation pass.
type Result struct {
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Discarded   int           `json:"discarded"`
	Deferred    int           `json:"deferred"`
	Interrupted int           `json:"interrupted"`
	Error       string        `json:"error,omitempty"`
}

// ErrorEntry records one failed operation attempt for diagnostics.
type ErrorEntry struct {
	OperationID string       `json:"operation_id"`
	EntityID    string       `json:"entity_id"`
	Kind        failure.Kind `json:"kind"`
	Error       string       `json:"error"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Reconciler drains the operation queue against the cloud. Each pass
// snapshots the eligible operations, fans out one worker per operation
// category, and lets the queue record every outcome. Categories run
// concurrently; operations within a category run strictly in queue order
// so that a note create is never overtaken by its own upload.
type Reconciler struct {
	queue    Queue
	handlers map[models.OperationCategory]Handler
	notifier events.Notifier

	mu           sync.RWMutex
	status       Status
	lastSync     *time.Time
	lastResult   *Result
	lastErr      error
	errorHistory []ErrorEntry
}

// NewReconciler wires a reconciler over the queue. Handlers are keyed by
// the category they serve; a nil notifier drops events.
func NewReconciler(queue Queue, handlers []Handler, notifier events.Notifier) *Reconciler {
	byCategory := make(map[models.OperationCategory]Handler, len(handlers))
	for _, h := range handlers {
		byCategory[h.Category()] = h
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &Reconciler{
		queue:        queue,
		handlers:     byCategory,
		notifier:     notifier,
		status:       StatusIdle,
		errorHistory: make([]ErrorEntry, 0),
	}
}

// Reconcile runs one pass over the pending queue. Individual operation
// failures are absorbed into the result and the queue's retry state; the
// pass itself only carries an error when the context was cancelled. A
// second concurrent call fails immediately.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if r.status == StatusSyncing {
		r.mu.Unlock()
		return nil, fmt.Errorf("sync already in progress")
	}
	r.status = StatusSyncing
	r.mu.Unlock()

	result := &Result{StartTime: time.Now()}

	defer func() {
		result.EndTime = time.Now()
		result.Duration = result.EndTime.Sub(result.StartTime)

		telemetry.RecordPass(telemetry.PassOutcome{
			Completed:   result.Completed,
			Failed:      result.Failed,
			Discarded:   result.Discarded,
			Deferred:    result.Deferred,
			Interrupted: result.Interrupted,
			Aborted:     result.Error != "",
			Duration:    result.Duration,
		})

		r.mu.Lock()
		now := time.Now()
		r.lastSync = &now
		r.lastResult = result
		if result.Error != "" {
			r.status = StatusFailed
			r.lastErr = errors.New(result.Error)
		} else {
			r.status = StatusIdle
			r.lastErr = nil
		}
		r.mu.Unlock()
	}()

	pending := r.queue.GetPendingOperations()
	r.publish(events.New(events.SyncStarted, "", map[string]interface{}{
		"pending": len(pending),
	}))

	lanes := make(map[models.OperationCategory][]*models.Operation)
	for _, op := range pending {
		category := op.Type.Category()
		lanes[category] = append(lanes[category], op)
	}

	var wg sync.WaitGroup
	var tallyMu sync.Mutex
	for category, ops := range lanes {
		wg.Add(1)
		go func(h Handler, ops []*models.Operation) {
			defer wg.Done()
			tally := r.drainLane(ctx, h, ops)
			tallyMu.Lock()
			result.Completed += tally.completed
			result.Failed += tally.failed
			result.Discarded += tally.discarded
			result.Deferred += tally.deferred
			result.Interrupted += tally.interrupted
			tallyMu.Unlock()
		}(r.handlers[category], ops)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		r.publish(events.New(events.SyncFailed, "", map[string]interface{}{
			"error":     result.Error,
			"completed": result.Completed,
			"failed":    result.Failed,
		}))
		return result, nil
	}

	r.publish(events.New(events.SyncCompleted, "", map[string]interface{}{
		"completed":   result.Completed,
		"failed":      result.Failed,
		"discarded":   result.Discarded,
		"duration_ms": time.Since(result.StartTime).Milliseconds(),
	}))
	return result, nil
}

type laneTally struct {
	completed   int
	failed      int
	discarded   int
	deferred    int
	interrupted int
}

// drainLane processes one category's operations in order. It stops at the
// first sign of cancellation; untouched operations simply stay pending.
func (r *Reconciler) drainLane(ctx context.Context, h Handler, ops []*models.Operation) laneTally {
	var tally laneTally
	for _, op := range ops {
		if ctx.Err() != nil {
			return tally
		}

		id := op.ID.String()
		if err := r.queue.MarkProcessing(id); err != nil {
			// Merged away or completed since the snapshot was taken.
			tally.discarded++
			continue
		}

		if h == nil {
			opErr := apperrors.New(apperrors.ErrSyncUnsupportedOp,
				fmt.Sprintf("no handler for %s operation %s", op.Type, id))
			if _, markErr := r.queue.MarkFailed(id, opErr); markErr != nil {
				log.Printf("Failed to record unsupported operation %s: %v", id, markErr)
			}
			r.recordError(op, failure.KindMalformed, opErr)
			tally.failed++
			continue
		}

		err := h.Handle(ctx, op)
		if err == nil {
			if markErr := r.queue.MarkCompleted(id); markErr != nil {
				log.Printf("Failed to complete operation %s: %v", id, markErr)
			}
			tally.completed++
			continue
		}

		if errors.Is(err, ErrAwaitingEntity) {
			// The operation depends on an entity another lane has not
			// pushed yet. Park it without burning a retry; a later pass
			// will pick it up once the dependency lands.
			if markErr := r.queue.MarkInterrupted(id); markErr != nil {
				log.Printf("Failed to defer operation %s: %v", id, markErr)
			}
			tally.deferred++
			continue
		}

		if ctx.Err() != nil {
			// The attempt was cut short, not refused. Put the operation
			// back as it was and leave the rest of the lane untouched.
			if markErr := r.queue.MarkInterrupted(id); markErr != nil {
				log.Printf("Failed to return interrupted operation %s: %v", id, markErr)
			}
			tally.interrupted++
			return tally
		}

		decision, markErr := r.queue.MarkFailed(id, err)
		if markErr != nil {
			log.Printf("Failed to record failed operation %s: %v", id, markErr)
		}
		r.recordError(op, decision.Kind, err)
		tally.failed++
	}
	return tally
}

// Status returns the current reconciliation state.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// LastSync returns when the most recent pass finished, or nil before the
// first pass.
func (r *Reconciler) LastSync() *time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// LastResult returns the outcome of the most recent pass, or nil.
func (r *Reconciler) LastResult() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastResult
}

// LastError returns the pass-level error of the most recent pass, or nil
// when it completed.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// GetErrorHistory returns a copy of recent operation failures, oldest
// first.
func (r *Reconciler) GetErrorHistory() []ErrorEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := make([]ErrorEntry, len(r.errorHistory))
	copy(history, r.errorHistory)
	return history
}

// ClearErrorHistory discards the recorded failures.
func (r *Reconciler) ClearErrorHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHistory = make([]ErrorEntry, 0)
}

func (r *Reconciler) recordError(op *models.Operation, kind failure.Kind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHistory = append(r.errorHistory, ErrorEntry{
		OperationID: op.ID.String(),
		EntityID:    op.EntityID,
		Kind:        kind,
		Error:       err.Error(),
		Timestamp:   time.Now(),
	})
	if len(r.errorHistory) > maxErrorHistory {
		r.errorHistory = r.errorHistory[len(r.errorHistory)-maxErrorHistory:]
	}
}

func (r *Reconciler) publish(event events.Event) {
	go r.notifier.Publish(event)
}
