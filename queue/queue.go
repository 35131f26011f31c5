package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"propsift/models"
)

// Pipeline queue names.
const (
	Crawl     = "crawl"
	Normalize = "normalize"
	Dedupe    = "dedupe"
	Geo       = "geo"
	Alert     = "alert"
	Index     = "index"
	Report    = "report"
	Cleanup   = "cleanup"

	// Deliver is the outbox for matched alert payloads. No in-process
	// worker pool claims it; an external sender consumes the rows.
	Deliver = "deliver"
)

// Config tunes one named queue.
type Config struct {
	Concurrency int
	MaxAttempts int
	Backoff     time.Duration // base delay, doubled per attempt
}

// DefaultConfigs carries the observed per-queue concurrency limits.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		Crawl:     {Concurrency: 20, MaxAttempts: 3, Backoff: 5 * time.Second},
		Normalize: {Concurrency: 20, MaxAttempts: 3, Backoff: 5 * time.Second},
		Dedupe:    {Concurrency: 10, MaxAttempts: 3, Backoff: 5 * time.Second},
		Geo:       {Concurrency: 15, MaxAttempts: 3, Backoff: 5 * time.Second},
		Alert:     {Concurrency: 5, MaxAttempts: 3, Backoff: 5 * time.Second},
		Index:     {Concurrency: 10, MaxAttempts: 2, Backoff: 30 * time.Second},
		Report:    {Concurrency: 3, MaxAttempts: 2, Backoff: 30 * time.Second},
		Cleanup:   {Concurrency: 1, MaxAttempts: 2, Backoff: time.Minute},
	}
}

const (
	maxBackoff      = 10 * time.Minute
	defaultAttempts = 3
	defaultBackoff  = 5 * time.Second
	pollInterval    = 250 * time.Millisecond
)

// Handler processes one job payload. Returning an error wrapped with
// NonRetryable dead-letters the job immediately; any other error schedules
// a retry until attempts run out.
type Handler func(ctx context.Context, payload []byte) error

// Store is the durable backing store for jobs. storage.JobStore implements
// it; tests substitute an in-memory one.
type Store interface {
	Enqueue(queue string, payload []byte, maxAttempts int, runAt time.Time) (int64, error)
	Claim(queue string, n int) ([]models.Job, error)
	Complete(id int64) error
	Retry(id int64, runAt time.Time, lastError string) error
	DeadLetter(id int64, lastError string) error
	RequeueRunning() (int64, error)
}

// Manager owns the named queues and their worker pools. It is an injected
// dependency with an explicit lifecycle: Start once, Close to drain.
type Manager struct {
	store    Store
	configs  map[string]Config
	handlers map[string]Handler

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(store Store, configs map[string]Config) *Manager {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &Manager{
		store:    store,
		configs:  configs,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a queue. Must be called before Start.
func (m *Manager) Handle(queue string, h Handler) {
	m.handlers[queue] = h
}

// Enqueue marshals payload and persists a job on the named queue.
func (m *Manager) Enqueue(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", queue, err)
	}
	cfg := m.configFor(queue)
	if _, err := m.store.Enqueue(queue, data, cfg.MaxAttempts, time.Now()); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}

// Start recovers interrupted jobs and spins up the worker pools. Workers
// stop claiming once ctx is cancelled; in-flight jobs run to completion.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("queue manager already started")
	}

	requeued, err := m.store.RequeueRunning()
	if err != nil {
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if requeued > 0 {
		log.Printf("Requeued %d interrupted jobs", requeued)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	for queue, handler := range m.handlers {
		cfg := m.configFor(queue)
		for i := 0; i < cfg.Concurrency; i++ {
			m.wg.Add(1)
			go m.worker(ctx, queue, cfg, handler)
		}
	}
	m.started = true
	return nil
}

// Close stops dequeuing and waits for in-flight jobs.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) worker(ctx context.Context, queue string, cfg Config, handler Handler) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := m.store.Claim(queue, 1)
		if err != nil {
			log.Printf("[%s] claim error: %v", queue, err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if len(jobs) == 0 {
			sleepCtx(ctx, pollInterval)
			continue
		}

		m.run(ctx, queue, cfg, handler, &jobs[0])
	}
}

// run executes one job and settles its outcome. A panic in a handler is a
// job failure, never an orchestrator crash.
func (m *Manager) run(ctx context.Context, queue string, cfg Config, handler Handler, job *models.Job) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return handler(ctx, job.Payload)
	}()

	if err == nil {
		if cErr := m.store.Complete(job.ID); cErr != nil {
			log.Printf("[%s] complete job %d: %v", queue, job.ID, cErr)
		}
		return
	}

	if IsNonRetryable(err) {
		log.Printf("[%s] job %d dead-lettered (non-retryable): %v", queue, job.ID, err)
		if dErr := m.store.DeadLetter(job.ID, err.Error()); dErr != nil {
			log.Printf("[%s] dead-letter job %d: %v", queue, job.ID, dErr)
		}
		return
	}

	if job.Attempts >= job.MaxAttempts {
		log.Printf("[%s] job %d dead-lettered after %d attempts: %v", queue, job.ID, job.Attempts, err)
		if dErr := m.store.DeadLetter(job.ID, err.Error()); dErr != nil {
			log.Printf("[%s] dead-letter job %d: %v", queue, job.ID, dErr)
		}
		return
	}

	delay := backoff(cfg.Backoff, job.Attempts)
	log.Printf("[%s] job %d failed (attempt %d/%d), retry in %s: %v",
		queue, job.ID, job.Attempts, job.MaxAttempts, delay, err)
	if rErr := m.store.Retry(job.ID, time.Now().Add(delay), err.Error()); rErr != nil {
		log.Printf("[%s] retry job %d: %v", queue, job.ID, rErr)
	}
}

func (m *Manager) configFor(queue string) Config {
	cfg, ok := m.configs[queue]
	if !ok {
		cfg = Config{Concurrency: 1, MaxAttempts: defaultAttempts, Backoff: defaultBackoff}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
