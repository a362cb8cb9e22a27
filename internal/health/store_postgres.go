package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

// PostgresEventStore persists the health_events audit trail that makes
// HealthAtRisk edge-triggered rather than level-triggered.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

func (s *PostgresEventStore) LastBand(ctx context.Context, partnershipID string) (string, error) {
	var band string
	err := s.pool.QueryRow(ctx, `
		SELECT band FROM health_events WHERE partnership_id = $1 ORDER BY created_at DESC LIMIT 1`, partnershipID).Scan(&band)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", mpcerr.Wrap(mpcerr.Transient, "failed to load last health band", err)
	}
	return band, nil
}

func (s *PostgresEventStore) RecordBand(ctx context.Context, partnershipID string, score float64, band string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO health_events (id, partnership_id, score, band, created_at) VALUES ($1,$2,$3,$4,$5)`,
		uuid.NewString(), partnershipID, score, band, now)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Transient, "failed to record health event", err)
	}
	return nil
}
