package storage

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"propsift/models"
)

// JobStore is the durable queue backing store. Jobs survive restarts and
// dead-lettered ones stay inspectable until cleanup archives them.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(dbPath string) (*JobStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Claim uses UPDATE...RETURNING inside one connection; serialize access.
	db.SetMaxOpenConns(1)

	store := &JobStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

func (s *JobStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY,
		queue TEXT NOT NULL,
		payload JSON NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		run_at DATETIME NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_queue_status_run_at
		ON jobs (queue, status, run_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *JobStore) Enqueue(queue string, payload []byte, maxAttempts int, runAt time.Time) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO jobs (queue, payload, status, max_attempts, run_at)
		VALUES (?, ?, 'pending', ?, ?)`,
		queue, payload, maxAttempts, runAt.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Claim atomically moves up to n due jobs of a queue to running and returns
// them. The attempt counter reflects delivery count, so it is bumped here.
func (s *JobStore) Claim(queue string, n int) ([]models.Job, error) {
	rows, err := s.db.Query(`
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = ? AND status = 'pending' AND run_at <= ?
			ORDER BY run_at, id
			LIMIT ?
		)
		RETURNING id, queue, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at`,
		queue, time.Now().UTC(), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) Complete(id int64) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'completed', updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (s *JobStore) Retry(id int64, runAt time.Time, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', run_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		runAt.UTC(), lastError, id)
	return err
}

func (s *JobStore) DeadLetter(id int64, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'dead', last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		lastError, id)
	return err
}

// RequeueRunning returns interrupted in-flight jobs to pending. Called at
// startup so a crash mid-job means redelivery, not loss (at-least-once).
func (s *JobStore) RequeueRunning() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'running'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *JobStore) QueueStats() ([]models.QueueStat, error) {
	rows, err := s.db.Query(`
		SELECT queue,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'dead' THEN 1 ELSE 0 END)
		FROM jobs GROUP BY queue ORDER BY queue`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueStat
	for rows.Next() {
		var st models.QueueStat
		if err := rows.Scan(&st.Queue, &st.Pending, &st.Running, &st.Completed, &st.Dead); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ActiveCount reports jobs still pending or running. Queues named in
// exclude are left out; outbox queues no in-process worker claims would
// otherwise keep the count from ever reaching zero.
func (s *JobStore) ActiveCount(exclude ...string) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE status IN ('pending', 'running')`
	args := make([]interface{}, 0, len(exclude))
	for _, q := range exclude {
		query += ` AND queue != ?`
		args = append(args, q)
	}
	var n int
	err := s.db.QueryRow(query, args...).Scan(&n)
	return n, err
}

func (s *JobStore) ListDeadLetters(limit int) ([]models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, queue, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at
		FROM jobs WHERE status = 'dead'
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) ListDeadLettersBefore(cutoff time.Time) ([]models.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, queue, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at
		FROM jobs WHERE status = 'dead' AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *JobStore) DeleteJob(id int64) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *JobStore) PruneCompleted(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM jobs WHERE status = 'completed' AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(
			&j.ID, &j.Queue, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
