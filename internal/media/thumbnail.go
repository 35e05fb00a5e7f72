package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"github.com/jwei-lin/notecove/backend/internal/logging"
)

// ThumbnailJob represents a thumbnail generation job.
type ThumbnailJob struct {
	ID            string
	SourcePath    string
	ThumbnailPath string
	Width         int
	Height        int
	CreatedAt     time.Time
	Callback      func(error)
}

// ThumbnailQueue renders attachment thumbnails in the background so
// enqueueing an upload never waits on image decoding.
type ThumbnailQueue struct {
	jobs      chan *ThumbnailJob
	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	mu        sync.Mutex
	isRunning bool
	stats     *ThumbnailStats
}

// ThumbnailStats holds thumbnail generation statistics.
type ThumbnailStats struct {
	TotalProcessed int
	SuccessCount   int
	FailureCount   int
	PendingCount   int
	AvgDurationMs  int64
}

// NewThumbnailQueue creates a thumbnail queue with the given capacity
// and worker count.
func NewThumbnailQueue(queueSize int, workers int) *ThumbnailQueue {
	return &ThumbnailQueue{
		jobs:    make(chan *ThumbnailJob, queueSize),
		workers: workers,
		stopCh:  make(chan struct{}),
		stats:   &ThumbnailStats{},
	}
}

// Start starts the thumbnail workers.
func (q *ThumbnailQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.mu.Unlock()

	logging.Info("Starting thumbnail queue",
		map[string]interface{}{
			"workers":    q.workers,
			"queue_size": cap(q.jobs),
		})

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

// Stop stops the thumbnail workers gracefully.
func (q *ThumbnailQueue) Stop() {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()

	logging.Info("Thumbnail queue stopped",
		map[string]interface{}{
			"total_processed": q.stats.TotalProcessed,
			"success_count":   q.stats.SuccessCount,
			"failure_count":   q.stats.FailureCount,
		})
}

// Generate requests thumbnail generation without blocking. It returns
// a job ID immediately; the thumbnail is rendered in the background.
func (q *ThumbnailQueue) Generate(sourcePath, thumbnailPath string, width, height int, callback func(error)) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return "", fmt.Errorf("thumbnail queue is not running")
	}

	job := &ThumbnailJob{
		ID:            fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(sourcePath)),
		SourcePath:    sourcePath,
		ThumbnailPath: thumbnailPath,
		Width:         width,
		Height:        height,
		CreatedAt:     time.Now(),
		Callback:      callback,
	}

	select {
	case q.jobs <- job:
		q.stats.PendingCount++
		return job.ID, nil
	default:
		return "", fmt.Errorf("thumbnail queue is full (capacity: %d)", cap(q.jobs))
	}
}

// GenerateSync renders a thumbnail and blocks until it is done. Used
// when a client is waiting on the preview right now.
func (q *ThumbnailQueue) GenerateSync(ctx context.Context, sourcePath, thumbnailPath string, width, height int) error {
	startTime := time.Now()

	err := generateThumbnail(sourcePath, thumbnailPath, width, height)

	q.recordOutcome(err, time.Since(startTime).Milliseconds(), false)

	return err
}

// worker processes thumbnail jobs from the queue.
func (q *ThumbnailQueue) worker(ctx context.Context, workerID int) {
	defer q.wg.Done()

	logging.Debug("Thumbnail worker started",
		map[string]interface{}{"worker_id": workerID})

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case job := <-q.jobs:
			q.processJob(job, workerID)
		}
	}
}

// processJob renders a single thumbnail job.
func (q *ThumbnailQueue) processJob(job *ThumbnailJob, workerID int) {
	startTime := time.Now()

	err := generateThumbnail(job.SourcePath, job.ThumbnailPath, job.Width, job.Height)

	duration := time.Since(startTime).Milliseconds()
	q.recordOutcome(err, duration, true)

	if job.Callback != nil {
		// Callbacks run off the worker so a slow one cannot stall the pool.
		go job.Callback(err)
	}

	if err != nil {
		logging.Error("Thumbnail generation failed", err,
			map[string]interface{}{
				"job_id":      job.ID,
				"worker_id":   workerID,
				"duration_ms": duration,
				"source_path": job.SourcePath,
			})
	} else {
		logging.Debug("Thumbnail generated",
			map[string]interface{}{
				"job_id":      job.ID,
				"worker_id":   workerID,
				"duration_ms": duration,
			})
	}
}

// recordOutcome folds one render into the stats.
func (q *ThumbnailQueue) recordOutcome(err error, durationMs int64, pending bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pending {
		q.stats.PendingCount--
	}
	q.stats.TotalProcessed++
	if err != nil {
		q.stats.FailureCount++
	} else {
		q.stats.SuccessCount++
	}

	total := q.stats.AvgDurationMs*int64(q.stats.TotalProcessed-1) + durationMs
	q.stats.AvgDurationMs = total / int64(q.stats.TotalProcessed)
}

// generateThumbnail renders a thumbnail that fits within width x height,
// keeping the source aspect ratio and EXIF orientation.
func generateThumbnail(sourcePath, thumbnailPath string, width, height int) error {
	img, err := imaging.Open(sourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open source image: %w", err)
	}

	thumb := imaging.Fit(img, width, height, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(thumbnailPath), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	if err := imaging.Save(thumb, thumbnailPath, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("failed to save thumbnail: %w", err)
	}

	return nil
}

// GetStats returns a copy of the current statistics.
func (q *ThumbnailQueue) GetStats() *ThumbnailStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	statsCopy := *q.stats
	return &statsCopy
}

// IsRunning returns whether the queue is running.
func (q *ThumbnailQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isRunning
}

// GetPendingCount returns the number of queued jobs.
func (q *ThumbnailQueue) GetPendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.PendingCount
}

// Clear drops all pending jobs and returns how many were dropped.
func (q *ThumbnailQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := 0
	for {
		select {
		case <-q.jobs:
			cleared++
		default:
			q.stats.PendingCount = 0
			return cleared
		}
	}
}
