// Package store is the single point of synchronization for the bridge: all
// mutation of Inbox, Outbox, and simulated device state goes through it.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// Store owns every persistent row. Loops read and mutate exclusively through
// this package. The Router loop's WithTx transaction keeps its claimed Inbox
// row locked while the device adapters execute that row's commands.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema. Idempotent: every statement is CREATE ... IF
// NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) Counts(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM inbox WHERE state = 'pending'),
			(SELECT count(*) FROM outbox WHERE state = 'pending')`,
	).Scan(&c.InboxPending, &c.OutboxPending)
	if err != nil {
		return model.Counts{}, fmt.Errorf("store: counts: %w", err)
	}
	return c, nil
}
