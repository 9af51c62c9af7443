package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pgRepo stores cart snapshots in the carts table, one JSONB row per session.
type pgRepo struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPGRepo creates a postgres-backed Repository.
func NewPGRepo(pool *pgxpool.Pool, logger zerolog.Logger) Repository {
	return &pgRepo{
		pool:   pool,
		logger: logger.With().Str("component", "cart_pg_repo").Logger(),
	}
}

func (r *pgRepo) Load(ctx context.Context, session string) (*Cart, error) {
	var data []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM carts WHERE session = $1`, session,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupt payload: purge and start over with an empty cart.
		r.logger.Warn().Str("session", session).Err(err).Msg("discarding corrupt cart row")
		_, _ = r.pool.Exec(ctx, `DELETE FROM carts WHERE session = $1`, session)
		return &Cart{}, nil
	}
	return &Cart{Items: items}, nil
}

func (r *pgRepo) Save(ctx context.Context, session string, c *Cart) error {
	data, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO carts (session, payload, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (session) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`,
		session, data,
	)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

func (r *pgRepo) Delete(ctx context.Context, session string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM carts WHERE session = $1`, session); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
