// Package scheduler drives background reconciliation passes: a slow
// periodic full pass while online plus a faster check for operations
// whose retry delay has elapsed.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jwei-lin/notecove/backend/internal/errors"
	"github.com/jwei-lin/notecove/backend/internal/logging"
	"github.com/jwei-lin/notecove/backend/internal/models"
	syncpkg "github.com/jwei-lin/notecove/backend/internal/sync"
)

// syncTimeout bounds one pass so a hung transfer cannot wedge the loop.
const syncTimeout = 5 * time.Minute

// Syncer runs one reconciliation pass over the pending queue.
type Syncer interface {
	Reconcile(ctx context.Context) (*syncpkg.Result, error)
}

// Queue is the slice of the operation queue the scheduler watches.
type Queue interface {
	GetPendingOperations() []*models.Operation
	ResetAuthFailed() (int, error)
	Stats() map[string]int
}

// Scheduler manages background sync passes.
type Scheduler struct {
	syncer        Syncer
	queue         Queue
	syncInterval  time.Duration
	queueInterval time.Duration
	stopCh        chan struct{}
	kick          chan struct{}
	wg            sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	isOnline       bool
	lastSyncTime   time.Time
	syncInProgress bool
}

// SchedulerConfig holds scheduler timing.
type SchedulerConfig struct {
	SyncInterval  time.Duration // full pass cadence while online (default: 15 minutes)
	QueueInterval time.Duration // due-operation check cadence (default: 1 minute)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:  15 * time.Minute,
		QueueInterval: 1 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(syncer Syncer, queue Queue, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		syncer:        syncer,
		queue:         queue,
		syncInterval:  config.SyncInterval,
		queueInterval: config.QueueInterval,
		stopCh:        make(chan struct{}),
		kick:          make(chan struct{}, 1),
		isOnline:      true, // Assume online until told otherwise
	}
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.dueOperationsLoop(ctx)

	logging.Info("Background sync scheduler started", nil)
}

// Stop stops the background loops gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus changes the connectivity assumption. Going offline
// stops pass attempts; coming back online kicks one off immediately,
// since that is exactly when the queue has work piled up.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	running := s.isRunning
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	logging.Info("Online status changed",
		map[string]interface{}{
			"was_online": wasOnline,
			"is_online":  isOnline,
		})

	if isOnline && running {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// periodicSyncLoop runs the full pass cadence while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			go s.runSync(ctx)
		}
	}
}

// dueOperationsLoop watches for operations whose retry delay has elapsed
// so a backed-off queue does not wait for the next full-pass tick.
func (s *Scheduler) dueOperationsLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.queueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.kick:
			go s.runSync(ctx)
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			if len(s.queue.GetPendingOperations()) == 0 {
				continue
			}
			go s.runSync(ctx)
		}
	}
}

// runSync executes one pass. Concurrent invocations collapse to one.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync pass, scheduler is offline", nil)
		return
	}

	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		logging.Debug("Sync pass already in progress, skipping", nil)
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result, err := s.syncer.Reconcile(syncCtx)
	if err != nil {
		logging.ErrorWithCode("Sync pass failed", string(errors.ErrSyncFailed), err, nil)
		return
	}

	if result.Error != "" {
		logging.Warn("Sync pass ended early",
			map[string]interface{}{
				"error":       result.Error,
				"completed":   result.Completed,
				"interrupted": result.Interrupted,
			})
		return
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Sync pass completed",
		map[string]interface{}{
			"completed":   result.Completed,
			"failed":      result.Failed,
			"deferred":    result.Deferred,
			"duration_ms": result.Duration.Milliseconds(),
		})
}

// TriggerSync starts a pass in the background.
// Returns true if a pass was started, false if one is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	inProgress := s.syncInProgress
	s.mu.RUnlock()

	if inProgress {
		return false
	}

	go s.runSync(ctx)
	return true
}

// SyncNow runs a pass and waits for it, returning the pass result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.Result, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncFailed, "a sync pass is already running")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	result, err := s.syncer.Reconcile(syncCtx)
	if err != nil {
		return nil, err
	}

	if result.Error == "" {
		s.mu.Lock()
		s.lastSyncTime = time.Now()
		s.mu.Unlock()
	}

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"completed": result.Completed,
			"failed":    result.Failed,
			"deferred":  result.Deferred,
		})

	return result, nil
}

// RecoverAuth releases operations parked by an expired session and kicks
// off a pass to replay them. Call it after the user signs in again.
func (s *Scheduler) RecoverAuth(ctx context.Context) (int, error) {
	count, err := s.queue.ResetAuthFailed()
	if err != nil {
		return 0, err
	}

	if count > 0 {
		logging.Info("Recovered auth-parked operations",
			map[string]interface{}{"count": count})
		s.TriggerSync(ctx)
	}

	return count, nil
}

// SchedulerStatus is a point-in-time snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning         bool
	IsOnline          bool
	LastSyncTime      *time.Time
	SyncInProgress    bool
	PendingOperations int
	QueueStats        map[string]int
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		last := s.lastSyncTime
		status.LastSyncTime = &last
	}
	s.mu.RUnlock()

	status.PendingOperations = len(s.queue.GetPendingOperations())
	status.QueueStats = s.queue.Stats()

	return status
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
