package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// InboxInsertResult reports whether a new row was created or an existing
// one with the same idempotency key was found.
type InboxInsertResult struct {
	Stored bool
	ID     int64
	Key    string
}

// InboxInsert treats a duplicate idempotency_key as success with
// stored=false, returning the original row's id. Empty keys are always
// inserted as new rows and never deduped. The insert and the duplicate
// check happen in a single statement, so two concurrent callers with the
// same key can never both believe they stored a new row.
func (s *Store) InboxInsert(ctx context.Context, key, source string, payload []byte) (InboxInsertResult, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO inbox (idempotency_key, source, payload) VALUES ($1, $2, $3) RETURNING id`,
		key, source, payload,
	).Scan(&id)
	if err == nil {
		return InboxInsertResult{Stored: true, ID: id, Key: key}, nil
	}

	if isDuplicateKeyError(err) {
		var existingID int64
		lookupErr := s.pool.QueryRow(ctx,
			`SELECT id FROM inbox WHERE idempotency_key = $1`, key,
		).Scan(&existingID)
		if lookupErr != nil {
			return InboxInsertResult{}, fmt.Errorf("store: inbox insert: duplicate key lookup: %w", lookupErr)
		}
		return InboxInsertResult{Stored: false, ID: existingID, Key: key}, nil
	}

	return InboxInsertResult{}, fmt.Errorf("store: inbox insert: %w", err)
}

// isDuplicateKeyError reports whether err is a Postgres unique-violation
// (code 23505), the signal that inbox_insert's dedupe index rejected a
// repeated idempotency_key.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// InboxNextPending returns the oldest pending row, or nil if there is none.
// The query runs on the pool in its own implicit transaction, so its row
// lock is released as soon as the statement returns; InboxNextPendingTx
// holds the lock until the caller's transaction ends.
func (s *Store) InboxNextPending(ctx context.Context) (*model.InboxRecord, error) {
	var r model.InboxRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, idempotency_key, source, payload, state, created_ts, updated_ts, last_error
		 FROM inbox WHERE state = 'pending'
		 ORDER BY created_ts ASC, id ASC
		 FOR UPDATE SKIP LOCKED LIMIT 1`,
	).Scan(&r.ID, &r.IdempotencyKey, &r.Source, &r.Payload, &r.State, &r.CreatedAt, &r.UpdatedAt, &r.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: inbox next pending: %w", err)
	}
	return &r, nil
}

// InboxMark transitions a row to a terminal state (or back to pending with
// an error set, for the atomic-group retry case in the Router loop).
func (s *Store) InboxMark(ctx context.Context, id int64, state model.InboxState, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE inbox SET state = $2, last_error = $3, updated_ts = now() WHERE id = $1`,
		id, state, lastError,
	)
	if err != nil {
		return fmt.Errorf("store: inbox mark: %w", err)
	}
	return nil
}

// InboxNextPendingTx and InboxMarkTx are the transaction-scoped variants used
// by the Router loop to claim a row and, in the same transaction, enqueue
// its derived Outbox jobs atomically (spec's "atomic group" resolution).
func InboxNextPendingTx(ctx context.Context, tx pgx.Tx) (*model.InboxRecord, error) {
	var r model.InboxRecord
	err := tx.QueryRow(ctx,
		`SELECT id, idempotency_key, source, payload, state, created_ts, updated_ts, last_error
		 FROM inbox WHERE state = 'pending'
		 ORDER BY created_ts ASC, id ASC
		 FOR UPDATE SKIP LOCKED LIMIT 1`,
	).Scan(&r.ID, &r.IdempotencyKey, &r.Source, &r.Payload, &r.State, &r.CreatedAt, &r.UpdatedAt, &r.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: inbox next pending (tx): %w", err)
	}
	return &r, nil
}

func InboxMarkTx(ctx context.Context, tx pgx.Tx, id int64, state model.InboxState, lastError string) error {
	_, err := tx.Exec(ctx,
		`UPDATE inbox SET state = $2, last_error = $3, updated_ts = now() WHERE id = $1`,
		id, state, lastError,
	)
	if err != nil {
		return fmt.Errorf("store: inbox mark (tx): %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}
