package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// OutboxInsert enqueues one callback job. Used both by the Router loop
// (inside the atomic-group transaction, via OutboxInsertTx) and directly
// when the caller already holds no transaction.
func (s *Store) OutboxInsert(ctx context.Context, job model.OutboxJob) (int64, error) {
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return 0, fmt.Errorf("store: outbox insert: marshal headers: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO outbox (method, url, headers, body, idempotency_key, correlation_id, retry_count, next_attempt_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		job.Method, job.URL, headers, job.Body, job.IdempotencyKey, job.CorrelationID, job.RetryCount, job.NextAttemptTs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: outbox insert: %w", err)
	}
	return id, nil
}

func OutboxInsertTx(ctx context.Context, tx pgx.Tx, job model.OutboxJob) (int64, error) {
	headers, err := json.Marshal(job.Headers)
	if err != nil {
		return 0, fmt.Errorf("store: outbox insert (tx): marshal headers: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO outbox (method, url, headers, body, idempotency_key, correlation_id, retry_count, next_attempt_ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		job.Method, job.URL, headers, job.Body, job.IdempotencyKey, job.CorrelationID, job.RetryCount, job.NextAttemptTs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: outbox insert (tx): %w", err)
	}
	return id, nil
}

// OutboxNextDue claims the next job eligible to send, ordered per spec:
// (next_attempt_ts ASC, retry_count ASC, created_ts ASC, id ASC).
func (s *Store) OutboxNextDue(ctx context.Context, now time.Time) (*model.OutboxJob, error) {
	var j model.OutboxJob
	var headers []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, method, url, headers, body, idempotency_key, correlation_id, retry_count,
			next_attempt_ts, state, created_ts, updated_ts, last_status, last_error
		 FROM outbox
		 WHERE state = 'pending' AND next_attempt_ts <= $1
		 ORDER BY next_attempt_ts ASC, retry_count ASC, created_ts ASC, id ASC
		 FOR UPDATE SKIP LOCKED LIMIT 1`,
		now,
	).Scan(&j.ID, &j.Method, &j.URL, &headers, &j.Body, &j.IdempotencyKey, &j.CorrelationID, &j.RetryCount,
		&j.NextAttemptTs, &j.State, &j.CreatedAt, &j.UpdatedAt, &j.LastStatus, &j.LastError)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: outbox next due: %w", err)
	}
	if err := json.Unmarshal(headers, &j.Headers); err != nil {
		return nil, fmt.Errorf("store: outbox next due: unmarshal headers: %w", err)
	}
	return &j, nil
}

func (s *Store) OutboxMarkDone(ctx context.Context, id int64, status int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET state = 'done', last_status = $2, updated_ts = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("store: outbox mark done: %w", err)
	}
	return nil
}

func (s *Store) OutboxMarkPermanent(ctx context.Context, id int64, status int, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET state = 'failed_permanent', last_status = $2, last_error = $3, updated_ts = now() WHERE id = $1`,
		id, status, reason,
	)
	if err != nil {
		return fmt.Errorf("store: outbox mark permanent: %w", err)
	}
	return nil
}

// OutboxReschedule records a failed attempt and advances the job's next
// attempt time per the exponential-backoff schedule computed by the caller.
func (s *Store) OutboxReschedule(ctx context.Context, id int64, retryCount int, nextAttemptTs time.Time, lastError string, lastStatus int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE outbox SET retry_count = $2, next_attempt_ts = $3, last_error = $4, last_status = $5, updated_ts = now() WHERE id = $1`,
		id, retryCount, nextAttemptTs, lastError, lastStatus,
	)
	if err != nil {
		return fmt.Errorf("store: outbox reschedule: %w", err)
	}
	return nil
}
