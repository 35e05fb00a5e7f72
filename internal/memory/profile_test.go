// Package memory provides memory profiling and leak detection tests.
// The desktop service runs for days at a time; these tests watch the
// queue and store churn paths for unbounded growth.
package memory

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"testing"

	"github.com/jwei-lin/notecove/backend/internal/db"
	"github.com/jwei-lin/notecove/backend/internal/models"
	"github.com/jwei-lin/notecove/backend/internal/sync/queue"
)

// testHelper is a minimal interface for *testing.T and *testing.B
type testHelper interface {
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	TempDir() string
}

// setupTestQueue opens a throwaway database and loads an operation queue
// over it.
func setupTestQueue(t testHelper) (*queue.OperationQueue, *db.DB, func()) {
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.NewMigrator(database.DB).Up(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)

	q := queue.NewOperationQueue(repo, queue.Config{})
	if err := q.Load(); err != nil {
		t.Fatalf("Failed to load queue: %v", err)
	}

	cleanup := func() {
		repo.Close()
		database.Close()
	}
	return q, database, cleanup
}

// getMemoryStats returns current memory statistics
func getMemoryStats() runtime.MemStats {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats
}

// formatBytes formats bytes to human-readable string
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// churn runs one full operation lifecycle through the queue.
func churn(q *queue.OperationQueue, i int) error {
	entityID := fmt.Sprintf("local-note-%08d", i)
	op, err := models.NewOperation(models.OpCloudUpload, entityID, models.UploadPayload{FolderID: "folder-1"})
	if err != nil {
		return err
	}
	queued, err := q.Enqueue(op)
	if err != nil {
		return err
	}
	if err := q.MarkProcessing(queued.ID.String()); err != nil {
		return err
	}
	return q.MarkCompleted(queued.ID.String())
}

// TestMemoryLeakQueueChurn runs many full operation lifecycles and checks
// that the queue's in-memory indices and the history ring stay bounded.
func TestMemoryLeakQueueChurn(t *testing.T) {
	q, database, cleanup := setupTestQueue(t)
	defer cleanup()

	// Silence per-operation queue logging for the churn loop.
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	// Warm up so one-time allocations (prepared statements, logger) do
	// not count against the churn.
	for i := 0; i < 50; i++ {
		if err := churn(q, i); err != nil {
			t.Fatalf("Warmup cycle %d failed: %v", i, err)
		}
	}

	runtime.GC()
	initialStats := getMemoryStats()

	t.Log("Initial memory stats:")
	t.Logf("  Alloc: %s", formatBytes(initialStats.Alloc))
	t.Logf("  TotalAlloc: %s", formatBytes(initialStats.TotalAlloc))
	t.Logf("  Sys: %s", formatBytes(initialStats.Sys))
	t.Logf("  NumGC: %d", initialStats.NumGC)

	const iterations = 500
	for i := 0; i < iterations; i++ {
		if err := churn(q, 1000+i); err != nil {
			t.Fatalf("Churn cycle %d failed: %v", i, err)
		}

		if (i+1)%100 == 0 {
			runtime.GC()
			currentStats := getMemoryStats()
			var allocDiff uint64
			if currentStats.Alloc > initialStats.Alloc {
				allocDiff = currentStats.Alloc - initialStats.Alloc
			}

			t.Logf("After %d cycles:", i+1)
			t.Logf("  Alloc: %s (diff: %s)", formatBytes(currentStats.Alloc), formatBytes(allocDiff))
			t.Logf("  TotalAlloc: %s", formatBytes(currentStats.TotalAlloc))

			if allocDiff > 10*1024*1024 {
				t.Logf("WARNING: Allocated memory grew by %s, potential leak", formatBytes(allocDiff))
			}
		}
	}

	runtime.GC()
	finalStats := getMemoryStats()

	t.Log("\nFinal memory stats:")
	t.Logf("  Alloc: %s", formatBytes(finalStats.Alloc))
	t.Logf("  TotalAlloc: %s", formatBytes(finalStats.TotalAlloc))
	t.Logf("  NumGC: %d", finalStats.NumGC)

	// Every cycle completed, so the queue indices must be empty.
	if size := q.Size(); size != 0 {
		t.Errorf("Queue still holds %d operations after churn", size)
	}

	// The history ring prunes on every completion; count the table
	// directly since History clamps its own query.
	var historyRows int
	if err := database.QueryRow("SELECT COUNT(*) FROM operation_history").Scan(&historyRows); err != nil {
		t.Fatalf("History count failed: %v", err)
	}
	if historyRows > queue.DefaultHistoryKeep {
		t.Errorf("History grew past the keep bound: %d rows", historyRows)
	}

	var allocChange int64
	if finalStats.Alloc > initialStats.Alloc {
		allocChange = int64(finalStats.Alloc - initialStats.Alloc)
	}

	// If Alloc keeps growing across completed lifecycles, something is
	// retaining operations.
	if allocChange > 5*1024*1024 {
		t.Errorf("Potential memory leak: allocated memory grew by %s", formatBytes(uint64(allocChange)))
	}
}

// TestMemoryLeakStoreConnections checks the single-connection store pool
// does not leak handles across repeated queries.
func TestMemoryLeakStoreConnections(t *testing.T) {
	q, database, cleanup := setupTestQueue(t)
	defer cleanup()

	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	for i := 0; i < 20; i++ {
		if err := churn(q, i); err != nil {
			t.Fatalf("Seed cycle %d failed: %v", i, err)
		}
	}

	t.Log("Testing connection pool for leaks...")

	const iterations = 500
	for i := 0; i < iterations; i++ {
		if _, err := q.History(10); err != nil {
			t.Fatalf("History query failed: %v", err)
		}
		_ = q.GetPendingOperations()

		if (i+1)%100 == 0 {
			stats := database.DB.Stats()
			t.Logf("Iteration %d: OpenConnections=%d, InUse=%d, Idle=%d",
				i+1, stats.OpenConnections, stats.InUse, stats.Idle)

			// The store runs a single connection; anything above that
			// means a leaked rows handle.
			if stats.OpenConnections > 1 {
				t.Errorf("Connection pool growing unexpectedly: %d open", stats.OpenConnections)
			}
		}
	}

	stats := database.DB.Stats()
	t.Log("\nConnection pool stats:")
	t.Logf("  OpenConnections: %d", stats.OpenConnections)
	t.Logf("  InUse: %d", stats.InUse)
	t.Logf("  WaitCount: %d", stats.WaitCount)
	t.Logf("  WaitDuration: %v", stats.WaitDuration)

	if stats.InUse > 0 {
		t.Errorf("Connection leak detected: %d connections still in use", stats.InUse)
	}
}

// BenchmarkMemoryAllocationChurn benchmarks one full operation lifecycle.
func BenchmarkMemoryAllocationChurn(b *testing.B) {
	q, _, cleanup := setupTestQueue(b)
	defer cleanup()

	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := churn(q, i); err != nil {
			b.Fatalf("Churn cycle failed: %v", err)
		}
	}
}

// BenchmarkMemoryAllocationReadyOps benchmarks the ready-operation scan
// the scheduler runs every pass.
func BenchmarkMemoryAllocationReadyOps(b *testing.B) {
	q, _, cleanup := setupTestQueue(b)
	defer cleanup()

	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	for i := 0; i < 200; i++ {
		entityID := fmt.Sprintf("local-note-%08d", i)
		op, err := models.NewOperation(models.OpCloudUpload, entityID, models.UploadPayload{FolderID: "folder-1"})
		if err != nil {
			b.Fatalf("Failed to build operation: %v", err)
		}
		if _, err := q.Enqueue(op); err != nil {
			b.Fatalf("Failed to enqueue: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = q.GetPendingOperations()
	}
}
