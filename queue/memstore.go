package queue

import (
	"sync"
	"time"

	"propsift/models"
)

// MemoryStore is an in-process Store used in tests and one-shot runs where
// durability does not matter. Semantics mirror storage.JobStore.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*models.Job)}
}

func (s *MemoryStore) Enqueue(queue string, payload []byte, maxAttempts int, runAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now()
	s.jobs[s.nextID] = &models.Job{
		ID:          s.nextID,
		Queue:       queue,
		Payload:     append([]byte(nil), payload...),
		Status:      models.JobPending,
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.nextID, nil
}

func (s *MemoryStore) Claim(queue string, n int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var claimed []models.Job
	for _, j := range s.sorted() {
		if len(claimed) >= n {
			break
		}
		if j.Queue != queue || j.Status != models.JobPending || j.RunAt.After(now) {
			continue
		}
		j.Status = models.JobRunning
		j.Attempts++
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *MemoryStore) Complete(id int64) error {
	return s.setStatus(id, models.JobCompleted, "")
}

func (s *MemoryStore) Retry(id int64, runAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = models.JobPending
		j.RunAt = runAt
		j.LastError = lastError
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) DeadLetter(id int64, lastError string) error {
	return s.setStatus(id, models.JobDead, lastError)
}

func (s *MemoryStore) RequeueRunning() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobRunning {
			j.Status = models.JobPending
			n++
		}
	}
	return n, nil
}

// Snapshot returns copies of all jobs, for assertions and idle checks.
func (s *MemoryStore) Snapshot() []models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Job, 0, len(s.jobs))
	for _, j := range s.sorted() {
		out = append(out, *j)
	}
	return out
}

// Idle reports whether no job is pending or running.
func (s *MemoryStore) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Status == models.JobPending || j.Status == models.JobRunning {
			return false
		}
	}
	return true
}

func (s *MemoryStore) setStatus(id int64, status models.JobStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		if lastError != "" {
			j.LastError = lastError
		}
		j.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) sorted() []*models.Job {
	out := make([]*models.Job, 0, len(s.jobs))
	for id := int64(1); id <= s.nextID; id++ {
		if j, ok := s.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out
}
