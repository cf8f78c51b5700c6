// Package queue is the durable job-delivery substrate: at-least-once
// batch delivery with per-message ack/retry and a 1-based attempts
// counter. Jobs live in a Postgres table claimed with FOR UPDATE SKIP
// LOCKED, so any number of worker instances can pull concurrently.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Queue names used by the pipeline.
const (
	QueueIndexPhoto   = "index_photo"
	QueueCleanupEvent = "cleanup_event"
)

// Default queue configuration values.
const (
	DefaultBatchSize    = 10
	DefaultPollInterval = 2 * time.Second
	DefaultLease        = 5 * time.Minute
	DefaultMaxAttempts  = 3
)

// Config holds delivery settings for one queue.
type Config struct {
	Name string `yaml:"name"`

	// BatchSize is the maximum messages handed to the handler at once.
	// Default: 10.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is how long to sleep when the queue is empty.
	// Default: 2s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Lease is how long a claimed message stays invisible to other
	// workers before it is considered abandoned. Default: 5m.
	Lease time.Duration `yaml:"lease"`

	// MaxAttempts is the delivery ceiling: a message retried at or past
	// this attempt count goes to the dead-letter state instead of being
	// redelivered. Must stay in sync with the pipeline's max_retries
	// (validated at startup). Default: 3.
	MaxAttempts int `yaml:"max_attempts"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Lease == 0 {
		c.Lease = DefaultLease
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Message is one claimed delivery. Attempts is 1-based: the first
// delivery of a job observes Attempts == 1.
type Message struct {
	ID       int64
	Attempts int
	Body     []byte

	q    *Queue
	done bool
}

// Queue reads and settles messages for one queue name.
type Queue struct {
	db  *sql.DB
	cfg Config
}

// New creates a queue on the given database handle.
func New(db *sql.DB, cfg Config) (*Queue, error) {
	if db == nil {
		return nil, errors.New("db handle is required")
	}
	if cfg.Name == "" {
		return nil, errors.New("queue name is required")
	}
	return &Queue{db: db, cfg: cfg.withDefaults()}, nil
}

// MaxAttempts returns the configured delivery ceiling.
func (q *Queue) MaxAttempts() int { return q.cfg.MaxAttempts }

// Claim pulls up to the configured batch size of due messages,
// incrementing their attempt counter and leasing them to this worker.
func (q *Queue) Claim(ctx context.Context) ([]*Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1,
		    locked_until = NOW() + make_interval(secs => $3),
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE queue = $1
			  AND status = 'pending'
			  AND visible_at <= NOW()
			  AND (locked_until IS NULL OR locked_until <= NOW())
			ORDER BY enqueued_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, attempts, payload
	`, q.cfg.Name, q.cfg.BatchSize, q.cfg.Lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{q: q}
		if err := rows.Scan(&m.ID, &m.Attempts, &m.Body); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Ack settles the message successfully; it will never be redelivered.
func (m *Message) Ack(ctx context.Context) error {
	if m.done {
		return nil
	}
	_, err := m.q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'done', locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, m.ID)
	if err != nil {
		return fmt.Errorf("ack message %d: %w", m.ID, err)
	}
	m.done = true
	return nil
}

// Retry schedules the message for redelivery after delay. A message at or
// past the delivery ceiling goes to the dead-letter state instead, keeping
// the last error for inspection.
func (m *Message) Retry(ctx context.Context, delay time.Duration, lastErr string) error {
	if m.done {
		return nil
	}

	var err error
	if m.Attempts >= m.q.cfg.MaxAttempts {
		_, err = m.q.db.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'dead', last_error = $2, locked_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, m.ID, lastErr)
	} else {
		_, err = m.q.db.ExecContext(ctx, `
			UPDATE jobs
			SET visible_at = NOW() + make_interval(secs => $2),
			    last_error = $3, locked_until = NULL, updated_at = NOW()
			WHERE id = $1
		`, m.ID, delay.Seconds(), lastErr)
	}
	if err != nil {
		return fmt.Errorf("retry message %d: %w", m.ID, err)
	}
	m.done = true
	return nil
}

// Depth returns how many messages are pending delivery.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs WHERE queue = $1 AND status = 'pending'
	`, q.cfg.Name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Producer enqueues jobs. The upload pipeline and event teardown both
// publish through this.
type Producer struct {
	db *sql.DB
}

// NewProducer creates a producer on the given database handle.
func NewProducer(db *sql.DB) *Producer {
	return &Producer{db: db}
}

// Enqueue publishes one job to a queue.
func (p *Producer) Enqueue(ctx context.Context, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, payload, status, attempts, visible_at, enqueued_at, updated_at)
		VALUES ($1, $2, 'pending', 0, NOW(), NOW(), NOW())
	`, queueName, body); err != nil {
		return fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return nil
}
