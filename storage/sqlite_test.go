package storage

import (
	"path/filepath"
	"testing"
	"time"

	"propsift/models"
)

func tempJobStore(t *testing.T) *JobStore {
	t.Helper()
	store, err := NewJobStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestJobStore_EnqueueClaimComplete(t *testing.T) {
	store := tempJobStore(t)

	id, err := store.Enqueue("crawl", []byte(`{"source_id":"homely"}`), 3, time.Now())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := store.Claim("crawl", 5)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 claimed job, got %d", len(claimed))
	}
	job := claimed[0]
	if job.ID != id || job.Status != models.JobRunning || job.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", job)
	}

	// Claimed jobs must not be claimable again.
	again, err := store.Claim("crawl", 5)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("running job was claimed twice")
	}

	if err := store.Complete(id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	active, err := store.ActiveCount()
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected 0 active jobs, got %d", active)
	}

	// Outbox rows nobody claims must not keep the count up when excluded.
	if _, err := store.Enqueue("deliver", []byte(`{}`), 3, time.Now()); err != nil {
		t.Fatalf("enqueue outbox: %v", err)
	}
	active, err = store.ActiveCount("deliver")
	if err != nil {
		t.Fatalf("active count with exclude: %v", err)
	}
	if active != 0 {
		t.Fatalf("excluded queue still counted, got %d", active)
	}
	active, err = store.ActiveCount()
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if active != 1 {
		t.Fatalf("outbox row should count when not excluded, got %d", active)
	}
}

func TestJobStore_ClaimHonorsQueueAndRunAt(t *testing.T) {
	store := tempJobStore(t)

	if _, err := store.Enqueue("crawl", []byte(`{}`), 3, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Enqueue("geo", []byte(`{}`), 3, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Enqueue("crawl", []byte(`{}`), 3, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("enqueue future: %v", err)
	}

	claimed, err := store.Claim("crawl", 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected only the due crawl job, got %d", len(claimed))
	}
}

func TestJobStore_RetryAndDeadLetter(t *testing.T) {
	store := tempJobStore(t)

	id, err := store.Enqueue("normalize", []byte(`{}`), 3, time.Now())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Claim("normalize", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Retry far in the future: not claimable yet.
	if err := store.Retry(id, time.Now().Add(time.Hour), "timeout"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	claimed, err := store.Claim("normalize", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("backed-off job claimed early")
	}

	// Retry due now: claimable, attempts keeps counting.
	if err := store.Retry(id, time.Now().Add(-time.Second), "timeout"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	claimed, err = store.Claim("normalize", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].Attempts != 2 {
		t.Fatalf("expected second delivery, got %+v", claimed)
	}

	if err := store.DeadLetter(id, "gave up"); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	dead, err := store.ListDeadLetters(10)
	if err != nil {
		t.Fatalf("list dead: %v", err)
	}
	if len(dead) != 1 || dead[0].LastError != "gave up" {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
}

func TestJobStore_RequeueRunning(t *testing.T) {
	store := tempJobStore(t)

	if _, err := store.Enqueue("crawl", []byte(`{}`), 3, time.Now()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.Claim("crawl", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := store.RequeueRunning()
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued job, got %d", n)
	}

	claimed, err := store.Claim("crawl", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("requeued job should be claimable again")
	}
}

func TestJobStore_StatsAndPrune(t *testing.T) {
	store := tempJobStore(t)

	doneID, _ := store.Enqueue("geo", []byte(`{}`), 3, time.Now())
	store.Enqueue("geo", []byte(`{}`), 3, time.Now())
	deadID, _ := store.Enqueue("alert", []byte(`{}`), 3, time.Now())

	store.Claim("geo", 1)
	store.Complete(doneID)
	store.Claim("alert", 1)
	store.DeadLetter(deadID, "boom")

	stats, err := store.QueueStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	byQueue := make(map[string]models.QueueStat)
	for _, st := range stats {
		byQueue[st.Queue] = st
	}
	if byQueue["geo"].Completed != 1 || byQueue["geo"].Pending != 1 {
		t.Fatalf("unexpected geo stats: %+v", byQueue["geo"])
	}
	if byQueue["alert"].Dead != 1 {
		t.Fatalf("unexpected alert stats: %+v", byQueue["alert"])
	}

	pruned, err := store.PruneCompleted(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned job, got %d", pruned)
	}

	expired, err := store.ListDeadLettersBefore(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired dead letter, got %d", len(expired))
	}
	if err := store.DeleteJob(expired[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if remaining, _ := store.ListDeadLetters(10); len(remaining) != 0 {
		t.Fatalf("dead letter not deleted")
	}
}
