package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"propsift/models"
)

func waitIdle(t *testing.T, store *MemoryStore) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if store.Idle() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue did not drain in time")
}

func countByStatus(store *MemoryStore, status models.JobStatus) int {
	n := 0
	for _, j := range store.Snapshot() {
		if j.Status == status {
			n++
		}
	}
	return n
}

func TestManager_ProcessesJobs(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 4, MaxAttempts: 3, Backoff: time.Millisecond},
	})

	var processed int64
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	for i := 0; i < 25; i++ {
		if err := mgr.Enqueue("work", map[string]int{"n": i}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	waitIdle(t, store)
	if got := atomic.LoadInt64(&processed); got != 25 {
		t.Fatalf("expected 25 processed, got %d", got)
	}
	if dead := countByStatus(store, models.JobDead); dead != 0 {
		t.Fatalf("expected no dead jobs, got %d", dead)
	}
}

func TestManager_PoisonedJobDoesNotBlockBatch(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 3, MaxAttempts: 3, Backoff: time.Millisecond},
	})

	var succeeded int64
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		var msg struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return err
		}
		if msg.N == 7 {
			return fmt.Errorf("poisoned payload %d", msg.N)
		}
		atomic.AddInt64(&succeeded, 1)
		return nil
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	for i := 0; i < 10; i++ {
		if err := mgr.Enqueue("work", map[string]int{"n": i}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	waitIdle(t, store)
	if got := atomic.LoadInt64(&succeeded); got != 9 {
		t.Fatalf("expected 9 successes, got %d", got)
	}
	if dead := countByStatus(store, models.JobDead); dead != 1 {
		t.Fatalf("expected exactly 1 dead job, got %d", dead)
	}
	if completed := countByStatus(store, models.JobCompleted); completed != 9 {
		t.Fatalf("expected 9 completed jobs, got %d", completed)
	}
}

func TestManager_RetriesThenDeadLetters(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 1, MaxAttempts: 3, Backoff: time.Millisecond},
	})

	var attempts int64
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		atomic.AddInt64(&attempts, 1)
		return errors.New("always fails")
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Enqueue("work", struct{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitIdle(t, store)
	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	jobs := store.Snapshot()
	if len(jobs) != 1 || jobs[0].Status != models.JobDead {
		t.Fatalf("expected the job to be dead, got %+v", jobs)
	}
	if jobs[0].LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestManager_NonRetryableSkipsRetries(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 1, MaxAttempts: 5, Backoff: time.Millisecond},
	})

	var attempts int64
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		atomic.AddInt64(&attempts, 1)
		return NonRetryable(errors.New("malformed input"))
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Enqueue("work", struct{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitIdle(t, store)
	if got := atomic.LoadInt64(&attempts); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
	if dead := countByStatus(store, models.JobDead); dead != 1 {
		t.Fatalf("expected 1 dead job, got %d", dead)
	}
}

func TestManager_PanicBecomesJobFailure(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 1, MaxAttempts: 2, Backoff: time.Millisecond},
	})

	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		panic("handler bug")
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	if err := mgr.Enqueue("work", struct{}{}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitIdle(t, store)
	jobs := store.Snapshot()
	if len(jobs) != 1 || jobs[0].Status != models.JobDead {
		t.Fatalf("expected dead job after panics, got %+v", jobs)
	}
}

func TestManager_ConcurrencyLimit(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 2, MaxAttempts: 1, Backoff: time.Millisecond},
	})

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	for i := 0; i < 10; i++ {
		if err := mgr.Enqueue("work", struct{}{}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	waitIdle(t, store)
	mu.Lock()
	defer mu.Unlock()
	if maxInFlight > 2 {
		t.Fatalf("concurrency limit exceeded: %d", maxInFlight)
	}
}

func TestManager_RequeuesInterruptedOnStart(t *testing.T) {
	store := NewMemoryStore()
	id, err := store.Enqueue("work", []byte(`{}`), 3, time.Now())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	// Simulate a crash mid-job.
	if _, err := store.Claim("work", 1); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	mgr := NewManager(store, map[string]Config{
		"work": {Concurrency: 1, MaxAttempts: 3, Backoff: time.Millisecond},
	})

	var processed int64
	mgr.Handle("work", func(ctx context.Context, payload []byte) error {
		atomic.AddInt64(&processed, 1)
		return nil
	})

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer mgr.Close()

	waitIdle(t, store)
	if got := atomic.LoadInt64(&processed); got != 1 {
		t.Fatalf("expected interrupted job %d to run, processed %d", id, got)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 5 * time.Second
	if got := backoff(base, 1); got != base {
		t.Fatalf("attempt 1: expected %s, got %s", base, got)
	}
	if got := backoff(base, 2); got != 2*base {
		t.Fatalf("attempt 2: expected %s, got %s", 2*base, got)
	}
	if got := backoff(base, 3); got != 4*base {
		t.Fatalf("attempt 3: expected %s, got %s", 4*base, got)
	}
	if got := backoff(base, 20); got != maxBackoff {
		t.Fatalf("expected cap %s, got %s", maxBackoff, got)
	}
}
