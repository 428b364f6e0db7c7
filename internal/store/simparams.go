package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// SimParamGet returns the persisted simulation metadata/value for a pkey on
// a channel, or nil if no row exists (an unseeded, unwritten parameter).
func (s *Store) SimParamGet(ctx context.Context, channel, pkey string) (*model.SimParam, error) {
	var p model.SimParam
	err := s.pool.QueryRow(ctx,
		`SELECT pkey, channel, min_v, max_v, default_v, rw, current_v, updated_ts
		 FROM sim_params WHERE channel = $1 AND pkey = $2`,
		channel, pkey,
	).Scan(&p.Pkey, &p.Channel, &p.MinV, &p.MaxV, &p.DefaultV, &p.RW, &p.CurrentV, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: sim param get: %w", err)
	}
	return &p, nil
}

// SimParamSeed inserts metadata for a pkey if absent; it never overwrites an
// operator-written current value. Mirrors params_store.py's upsert, minus
// the Excel-driven population path, which stays out of scope.
func (s *Store) SimParamSeed(ctx context.Context, p model.SimParam) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sim_params (pkey, channel, min_v, max_v, default_v, rw)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pkey, channel) DO NOTHING`,
		p.Pkey, p.Channel, p.MinV, p.MaxV, p.DefaultV, p.RW,
	)
	if err != nil {
		return fmt.Errorf("store: sim param seed: %w", err)
	}
	return nil
}

// SimParamSetCurrent persists a newly written value, matching
// params.py's set_value/apply_device_value once validation has passed.
func (s *Store) SimParamSetCurrent(ctx context.Context, channel, pkey, value string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sim_params SET current_v = $3, updated_ts = now() WHERE channel = $1 AND pkey = $2`,
		channel, pkey, value,
	)
	if err != nil {
		return fmt.Errorf("store: sim param set current: %w", err)
	}
	return nil
}
