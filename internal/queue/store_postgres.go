package queue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/buddyup/internal/dberror"
	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Join(ctx context.Context, userID string, now time.Time) (Entry, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_entries (user_id, status, enqueued_at, last_considered)
		VALUES ($1,'WAITING',$2,$2)`, userID, now)
	if err != nil {
		if dberror.IsUniqueViolation(err) {
			return Entry{}, mpcerr.New(mpcerr.Conflict, "user is already queued")
		}
		return Entry{}, mpcerr.Wrap(mpcerr.Transient, "failed to join queue", err)
	}
	return Entry{UserID: userID, EnqueuedAt: now, Status: Waiting, LastConsidered: now}, nil
}

func (s *PostgresStore) Leave(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE user_id = $1`, userID)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Transient, "failed to leave queue", err)
	}
	if tag.RowsAffected() == 0 {
		return mpcerr.Newf(mpcerr.NotFound, "user %s is not queued", userID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `SELECT user_id, status, enqueued_at, last_considered FROM queue_entries WHERE user_id = $1`, userID).
		Scan(&e.UserID, &e.Status, &e.EnqueuedAt, &e.LastConsidered)
	if err == pgx.ErrNoRows {
		return Entry{}, mpcerr.Newf(mpcerr.NotFound, "user %s is not queued", userID)
	}
	if err != nil {
		return Entry{}, mpcerr.Wrap(mpcerr.Transient, "failed to load queue entry", err)
	}
	return e, nil
}

// Position returns the 1-indexed rank of userID among WAITING entries
// ordered oldest-first. Non-WAITING entries (ADMITTED/LEFT) are NotFound,
// matching the spec's position semantics for resolved queue entries.
func (s *PostgresStore) Position(ctx context.Context, userID string) (Position, error) {
	var status string
	var enqueuedAt time.Time
	err := s.pool.QueryRow(ctx, `SELECT status, enqueued_at FROM queue_entries WHERE user_id = $1`, userID).Scan(&status, &enqueuedAt)
	if err == pgx.ErrNoRows {
		return Position{}, mpcerr.Newf(mpcerr.NotFound, "user %s is not queued", userID)
	}
	if err != nil {
		return Position{}, mpcerr.Wrap(mpcerr.Transient, "failed to load queue entry", err)
	}
	if status != string(Waiting) {
		return Position{}, mpcerr.Newf(mpcerr.NotFound, "user %s is not waiting", userID)
	}

	var rank int
	err = s.pool.QueryRow(ctx, `
		SELECT count(*) FROM queue_entries WHERE status = 'WAITING' AND enqueued_at <= $1`, enqueuedAt).Scan(&rank)
	if err != nil {
		return Position{}, mpcerr.Wrap(mpcerr.Transient, "failed to compute queue position", err)
	}
	return Position{Position: rank, EnqueuedAt: enqueuedAt}, nil
}

func (s *PostgresStore) SnapshotWaiting(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, status, enqueued_at, last_considered FROM queue_entries
		WHERE status = 'WAITING' ORDER BY enqueued_at ASC`)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to snapshot queue", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.Status, &e.EnqueuedAt, &e.LastConsidered); err != nil {
			return nil, mpcerr.Wrap(mpcerr.Transient, "failed to scan queue entry", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to read queue entries", err)
	}
	return out, nil
}

// Admit removes entries from the queue on successful matching (spec §3:
// "removed on leave, admission, or eviction"), freeing the user_id key for
// a future rejoin.
func (s *PostgresStore) Admit(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Transient, "failed to admit queue entries", err)
	}
	return nil
}

func (s *PostgresStore) EvictIdle(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM queue_entries WHERE status = 'WAITING' AND enqueued_at < $1`, cutoff)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Transient, "failed to evict idle queue entries", err)
	}
	return int(tag.RowsAffected()), nil
}
