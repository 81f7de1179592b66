// Package jobs is the SQLite-backed work queue behind the Trello webhook.
//
// A claimed row stays invisible for the visibility timeout. The consumer
// acks it after the card has been processed; a crash or timeout makes it
// visible again so a later poll redelivers it. A nacked row waits an
// exponential backoff (RetryBackoff doubled per attempt, capped at the
// visibility timeout) before it is redelivered. Rows that exceed
// MaxAttempts are discarded.
//
// Schema (applied through dbopen.WithSchema):
//
//	CREATE TABLE IF NOT EXISTS card_jobs (
//	    id          TEXT PRIMARY KEY,
//	    card_id     TEXT NOT NULL,
//	    payload     BLOB,
//	    visible_at  INTEGER NOT NULL DEFAULT 0,  -- unix ms
//	    created_at  INTEGER NOT NULL,            -- unix ms
//	    attempts    INTEGER NOT NULL DEFAULT 0,
//	    last_error  TEXT NOT NULL DEFAULT ''
//	);
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/agentcheck/dbopen"
	"github.com/hazyhaar/agentcheck/idgen"
)

// Schema creates the queue table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS card_jobs (
	id          TEXT PRIMARY KEY,
	card_id     TEXT NOT NULL,
	payload     BLOB,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_card_jobs_visible ON card_jobs (visible_at);
`

// CardJob asks the consumer to verify the agent named on a Trello card.
type CardJob struct {
	CardID   string    `json:"card_id"`
	CardName string    `json:"card_name,omitempty"`
	Received time.Time `json:"received"`
}

// Job is a claimed row.
type Job struct {
	ID        string
	Card      CardJob
	VisibleAt time.Time
	CreatedAt time.Time
	Attempts  int
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is how long a claimed job stays hidden. Default: 10m,
	// longer than a full query with retries.
	Visibility time.Duration
	// PollInterval is the delay between claim passes in Run. Default: 1s.
	PollInterval time.Duration
	// MaxAttempts bounds redelivery. 0 means unlimited. Default: 3.
	MaxAttempts int
	// RetryBackoff is the wait after the first Nack; it doubles with every
	// further attempt, up to Visibility. Default: 1m.
	RetryBackoff time.Duration
	// IDs generates job IDs. Default: idgen.Prefixed("job_", idgen.Default).
	IDs    idgen.Generator
	Now    func() time.Time
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Minute
	}
	if o.IDs == nil {
		o.IDs = idgen.Prefixed("job_", idgen.Default)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New wraps db, which must already carry Schema (see dbopen.WithSchema).
func New(db *sql.DB, opts Options) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// Publish enqueues a card job that is immediately visible. It returns the job ID.
func (q *Queue) Publish(ctx context.Context, card CardJob) (string, error) {
	if card.CardID == "" {
		return "", errors.New("jobs: card id required")
	}
	now := q.opts.Now()
	if card.Received.IsZero() {
		card.Received = now
	}
	payload, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	id := q.opts.IDs()
	_, err = dbopen.Exec(ctx, q.db,
		`INSERT INTO card_jobs (id, card_id, payload, visible_at, created_at) VALUES (?,?,?,?,?)`,
		id, card.CardID, payload, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("jobs: publish: %w", err)
	}
	return id, nil
}

// Claim picks the oldest visible job and hides it for the visibility
// timeout. It returns nil, nil when nothing is visible.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := q.opts.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE card_jobs
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM card_jobs
			WHERE visible_at <= ?
			ORDER BY visible_at ASC, created_at ASC
			LIMIT 1
		)
		RETURNING id, payload, visible_at, created_at, attempts`,
		hideUntil, now.UnixMilli(),
	)

	var j Job
	var payload []byte
	var visAt, creAt int64
	err := row.Scan(&j.ID, &payload, &visAt, &creAt, &j.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Card); err != nil {
		return nil, fmt.Errorf("jobs: decode %s: %w", j.ID, err)
	}
	j.VisibleAt = time.UnixMilli(visAt)
	j.CreatedAt = time.UnixMilli(creAt)
	return &j, nil
}

// Ack deletes a processed job.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := dbopen.Exec(ctx, q.db, `DELETE FROM card_jobs WHERE id = ?`, id)
	return err
}

// Nack records why a job failed and hides it for the retry backoff of its
// attempt count.
func (q *Queue) Nack(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := dbopen.Exec(ctx, q.db, `
		UPDATE card_jobs
		SET visible_at = ? + MIN(? << MIN(MAX(attempts - 1, 0), 20), ?),
			last_error = ?
		WHERE id = ?`,
		q.opts.Now().UnixMilli(), q.opts.RetryBackoff.Milliseconds(), q.opts.Visibility.Milliseconds(),
		msg, id)
	return err
}

// Len returns the number of queued jobs, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM card_jobs`).Scan(&n)
	return n, err
}

// Handler processes a claimed job. Return nil to ack, non-nil to nack.
type Handler func(ctx context.Context, job *Job) error

// Run polls for visible jobs and handles them one at a time until ctx is
// cancelled. Only one headless browser runs per consumer.
func (q *Queue) Run(ctx context.Context, handler Handler) {
	log := q.opts.Logger
	log.Info("jobs: consumer started", "visibility", q.opts.Visibility, "poll", q.opts.PollInterval)

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("jobs: consumer stopped")
			return
		case <-ticker.C:
			q.Drain(ctx, handler)
		}
	}
}

// Drain handles every currently visible job and returns how many it processed.
func (q *Queue) Drain(ctx context.Context, handler Handler) int {
	log := q.opts.Logger
	n := 0
	for ctx.Err() == nil {
		job, err := q.Claim(ctx)
		if err != nil {
			log.Warn("jobs: claim failed", "error", err)
			return n
		}
		if job == nil {
			return n
		}
		n++

		if q.opts.MaxAttempts > 0 && job.Attempts > q.opts.MaxAttempts {
			log.Warn("jobs: job exceeded max attempts, discarding",
				"id", job.ID, "card_id", job.Card.CardID, "attempts", job.Attempts)
			_ = q.Ack(ctx, job.ID)
			continue
		}

		if err := handler(ctx, job); err != nil {
			log.Warn("jobs: handler failed, nacking", "id", job.ID, "card_id", job.Card.CardID, "error", err)
			_ = q.Nack(context.WithoutCancel(ctx), job.ID, err)
		} else {
			_ = q.Ack(context.WithoutCancel(ctx), job.ID)
		}
	}
	return n
}
