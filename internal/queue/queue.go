// Package queue implements the two durable, at-least-once work queues
// (C3): TaskQ (crawl units) and IndexQ (documents awaiting indexing).
// Each queue is its own SQLite database, grounded on the teacher's
// single-writer-SQLite pattern (internal/config.DBPool), with a single
// items table carrying a ready/in_flight/dead state column.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kadirpekel/corpussearch/internal/config"
)

// ErrEmpty is returned by Get when no item became available before the
// timeout elapsed.
var ErrEmpty = errors.New("queue: empty")

// Item is a dequeued payload paired with its durable row id, needed by
// the caller to Ack/Nack/Update it later.
type Item[T any] struct {
	ID      int64
	Payload T
}

// Queue is a generic durable, at-least-once SQLite-backed work queue.
type Queue[T any] struct {
	db *sql.DB
}

// Open opens (creating if needed) a queue database and recovers any item
// left in_flight from a prior crash back to ready.
func Open[T any](ctx context.Context, cfg config.DatabaseConfig, pool *config.DBPool) (*Queue[T], error) {
	db, err := pool.Get(&cfg)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	q := &Queue[T]{db: db}
	if err := q.migrate(ctx); err != nil {
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}
	if err := q.recoverInFlight(ctx); err != nil {
		return nil, fmt.Errorf("queue: recover in-flight: %w", err)
	}
	return q, nil
}

func (q *Queue[T]) migrate(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'ready',
		attempts_remaining INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		dequeued_at TIMESTAMP
	)`)
	return err
}

// recoverInFlight returns every item left in_flight (dequeued but never
// acked, e.g. from a crash) back to ready, run once at construction.
func (q *Queue[T]) recoverInFlight(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET state = 'ready', dequeued_at = NULL WHERE state = 'in_flight'`)
	return err
}

// Put enqueues a new item with the given initial attempts_remaining budget.
func (q *Queue[T]) Put(ctx context.Context, payload T, attemptsRemaining int) (int64, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO items (payload, state, attempts_remaining, created_at) VALUES (?, 'ready', ?, ?)`,
		string(blob), attemptsRemaining, time.Now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get dequeues and marks in_flight the oldest ready item, polling until
// timeout elapses or ctx is cancelled. Returns ErrEmpty on timeout.
func (q *Queue[T]) Get(ctx context.Context, timeout time.Duration) (*Item[T], error) {
	deadline := time.Now().Add(timeout)
	for {
		item, ok, err := q.tryDequeueOne(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return item, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrEmpty
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue[T]) tryDequeueOne(ctx context.Context) (*Item[T], bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var id int64
	var blob string
	err = tx.QueryRowContext(ctx,
		`SELECT id, payload FROM items WHERE state = 'ready' ORDER BY id LIMIT 1`).Scan(&id, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE items SET state = 'in_flight', dequeued_at = ? WHERE id = ?`, time.Now(), id); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	var payload T
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return nil, false, fmt.Errorf("unmarshal payload %d: %w", id, err)
	}
	return &Item[T]{ID: id, Payload: payload}, true, nil
}

// Drain blocks up to timeout, then returns up to maxN currently-ready
// items at once, marking each in_flight. Returns an empty slice (not
// ErrEmpty) if nothing became ready before the timeout — the indexer's
// batch loop treats an empty drain as "nothing to do this tick".
func (q *Queue[T]) Drain(ctx context.Context, maxN int, timeout time.Duration) ([]Item[T], error) {
	deadline := time.Now().Add(timeout)
	for {
		items, err := q.tryDrain(ctx, maxN)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 || time.Now().After(deadline) {
			return items, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue[T]) tryDrain(ctx context.Context, maxN int) ([]Item[T], error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, payload FROM items WHERE state = 'ready' ORDER BY id LIMIT ?`, maxN)
	if err != nil {
		return nil, err
	}

	type raw struct {
		id   int64
		blob string
	}
	var batch []raw
	for rows.Next() {
		var r raw
		if err := rows.Scan(&r.id, &r.blob); err != nil {
			rows.Close()
			return nil, err
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	now := time.Now()
	items := make([]Item[T], 0, len(batch))
	for _, r := range batch {
		if _, err := tx.ExecContext(ctx, `UPDATE items SET state = 'in_flight', dequeued_at = ? WHERE id = ?`, now, r.id); err != nil {
			return nil, err
		}
		var payload T
		if err := json.Unmarshal([]byte(r.blob), &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload %d: %w", r.id, err)
		}
		items = append(items, Item[T]{ID: r.id, Payload: payload})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// Ack removes an item permanently after successful processing.
func (q *Queue[T]) Ack(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	return err
}

// Nack returns an item to ready for redelivery after a failed attempt.
func (q *Queue[T]) Nack(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET state = 'ready', dequeued_at = NULL WHERE id = ?`, id)
	return err
}

// AckFailed moves an item to the dead-letter region: retries exhausted.
func (q *Queue[T]) AckFailed(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET state = 'dead', dequeued_at = NULL WHERE id = ?`, id)
	return err
}

// Update rewrites an item's payload in place. It does not touch the
// attempts_remaining column, which DecrementAttempts manages.
func (q *Queue[T]) Update(ctx context.Context, id int64, payload T) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `UPDATE items SET payload = ? WHERE id = ?`, string(blob), id)
	return err
}

// AttemptsRemaining reads the current attempts_remaining counter for an
// item, used by workers deciding whether to Nack or AckFailed.
func (q *Queue[T]) AttemptsRemaining(ctx context.Context, id int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT attempts_remaining FROM items WHERE id = ?`, id).Scan(&n)
	return n, err
}

// DecrementAttempts lowers an item's attempts_remaining by one and
// returns the new value.
func (q *Queue[T]) DecrementAttempts(ctx context.Context, id int64) (int, error) {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET attempts_remaining = attempts_remaining - 1 WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	return q.AttemptsRemaining(ctx, id)
}

// Depth reports the number of ready-or-in-flight items, used by the
// /status endpoint.
func (q *Queue[T]) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE state IN ('ready', 'in_flight')`).Scan(&n)
	return n, err
}
