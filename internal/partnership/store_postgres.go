package partnership

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/buddyup/internal/dberror"
	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

// PostgresStore is the pgx-backed implementation of Store. Each
// state-changing method runs its read-modify-write inside a single
// transaction so the pair-uniqueness partial index and the transition
// table are evaluated consistently (spec §4.4: "modified only under a
// row-level lock").
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanPartnership(row pgx.Row) (Partnership, error) {
	var p Partnership
	err := row.Scan(&p.ID, &p.UserA, &p.UserB, &p.Initiator, &p.Status, &p.Message, &p.MatchScore,
		&p.CreatedAt, &p.RespondedAt, &p.PausedAt, &p.TotalPausedDuration, &p.EndedAt, &p.EndReason,
		&p.DurationDays, &p.TotalSessions, &p.TotalGoalsCompleted, &p.CurrentStreak,
		&p.LastActivityAt, &p.Health, &p.HealthUpdatedAt, &p.Version)
	return p, err
}

const selectCols = `id, user_a, user_b, initiator, status, message, match_score,
	created_at, responded_at, paused_at, total_paused_duration, ended_at, end_reason,
	duration_days, total_sessions, total_goals_completed, current_streak,
	last_activity_at, health, health_updated_at, version`

func (s *PostgresStore) Get(ctx context.Context, id string, viewer string) (Partnership, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM partnerships WHERE id = $1`, id)
	p, err := scanPartnership(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Partnership{}, mpcerr.Newf(mpcerr.NotFound, "partnership %s not found", id)
		}
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to load partnership", err)
	}
	if !p.IsParticipant(viewer) {
		return Partnership{}, mpcerr.New(mpcerr.Forbidden, "viewer is not a participant")
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, userID string, filter Filter) ([]Partnership, error) {
	query := `SELECT ` + selectCols + ` FROM partnerships WHERE (user_a = $1 OR user_b = $1)`
	args := []any{userID}
	if len(filter.Statuses) > 0 {
		query += ` AND status = ANY($2)`
		args = append(args, filter.Statuses)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= $` + itoa(len(args)+1)
		args = append(args, filter.Since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to list partnerships", err)
	}
	defer rows.Close()

	var out []Partnership
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, mpcerr.Wrap(mpcerr.Transient, "failed to scan partnership", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to read partnerships", err)
	}
	return out, nil
}

func itoa(n int) string {
	digits := "0123456789"
	if n < 10 {
		return string(digits[n])
	}
	return itoa(n/10) + string(digits[n%10])
}

// Request opens a PENDING partnership between initiator and recipient.
// Rejects self-requests, existing live pairs (Conflict, backed by the
// partial unique index), and cap violations (LimitExceeded).
func (s *PostgresStore) Request(ctx context.Context, initiator, recipient, message string, durationDays int, matchScore float64, maxConcurrent int, now time.Time) (Partnership, error) {
	if initiator == recipient {
		return Partnership{}, mpcerr.New(mpcerr.Invalid, "cannot request a partnership with oneself")
	}
	userA, userB := OrderPair(initiator, recipient)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range []string{initiator, recipient} {
		count, err := countLiveTx(ctx, tx, u)
		if err != nil {
			return Partnership{}, err
		}
		if count >= maxConcurrent {
			return Partnership{}, mpcerr.New(mpcerr.LimitExceeded, "participant is at their concurrent partnership cap")
		}
	}

	id := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO partnerships (id, user_a, user_b, initiator, status, message, match_score,
			created_at, last_activity_at, duration_days, health, health_updated_at, version)
		VALUES ($1,$2,$3,$4,'PENDING',$5,$6,$7,$7,$8,50,$7,1)
		RETURNING `+selectCols,
		id, userA, userB, initiator, message, matchScore, now, durationDays)
	p, err := scanPartnership(row)
	if err != nil {
		if dberror.IsUniqueViolation(err) {
			return Partnership{}, mpcerr.New(mpcerr.Conflict, "a live partnership already exists between these users")
		}
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to create partnership", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to commit", err)
	}
	return p, nil
}

func countLiveTx(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count(*) FROM partnerships
		WHERE (user_a = $1 OR user_b = $1) AND status IN ('ACTIVE','PAUSED')`, userID).Scan(&count)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Transient, "failed to count live partnerships", err)
	}
	return count, nil
}

func (s *PostgresStore) CountLive(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM partnerships
		WHERE (user_a = $1 OR user_b = $1) AND status IN ('ACTIVE','PAUSED')`, userID).Scan(&count)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Transient, "failed to count live partnerships", err)
	}
	return count, nil
}

// transition runs a single data-driven state change inside a transaction,
// re-checking authorization and (where relevant) the concurrent-cap
// invariant before committing. mutate may adjust additional columns.
func (s *PostgresStore) transition(ctx context.Context, id string, act action, authorize func(pgx.Tx, Partnership) error, mutate func(*Partnership, time.Time), now time.Time) (Partnership, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+selectCols+` FROM partnerships WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPartnership(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Partnership{}, mpcerr.Newf(mpcerr.NotFound, "partnership %s not found", id)
		}
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to load partnership", err)
	}

	if authorize != nil {
		if err := authorize(tx, p); err != nil {
			return Partnership{}, err
		}
	}

	toStatus, err := next(p.Status, act)
	if err != nil {
		return Partnership{}, err
	}

	p.Status = toStatus
	if mutate != nil {
		mutate(&p, now)
	}

	updated, err := scanPartnership(tx.QueryRow(ctx, `
		UPDATE partnerships SET status=$2, responded_at=$3, paused_at=$4, total_paused_duration=$5,
			ended_at=$6, end_reason=$7, last_activity_at=$8, version=version+1
		WHERE id=$1
		RETURNING `+selectCols,
		p.ID, p.Status, p.RespondedAt, p.PausedAt, p.TotalPausedDuration, p.EndedAt, p.EndReason, p.LastActivityAt))
	if err != nil {
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to persist transition", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Partnership{}, mpcerr.Wrap(mpcerr.Transient, "failed to commit", err)
	}
	return updated, nil
}

func (s *PostgresStore) Accept(ctx context.Context, id, actingUser string, maxConcurrent int, now time.Time) (Partnership, error) {
	return s.transition(ctx, id, actionAccept,
		func(tx pgx.Tx, p Partnership) error {
			if p.Initiator == actingUser {
				return mpcerr.New(mpcerr.Forbidden, "only the recipient may accept")
			}
			if !p.IsParticipant(actingUser) {
				return mpcerr.New(mpcerr.Forbidden, "not a participant")
			}
			// Both caps are re-checked here, not just at Request time: time
			// has passed since the request was opened, and other
			// partnerships may have gone ACTIVE in the meantime (spec §4.4).
			for _, u := range []string{p.UserA, p.UserB} {
				count, err := countLiveTx(ctx, tx, u)
				if err != nil {
					return err
				}
				if count >= maxConcurrent {
					return mpcerr.New(mpcerr.LimitExceeded, "participant is at their concurrent partnership cap")
				}
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			p.RespondedAt = &now
			p.LastActivityAt = now
		}, now)
}

func (s *PostgresStore) Reject(ctx context.Context, id, actingUser, reason string, now time.Time) (Partnership, error) {
	return s.transition(ctx, id, actionReject,
		func(tx pgx.Tx, p Partnership) error {
			if p.Initiator == actingUser {
				return mpcerr.New(mpcerr.Forbidden, "only the recipient may reject")
			}
			if !p.IsParticipant(actingUser) {
				return mpcerr.New(mpcerr.Forbidden, "not a participant")
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			p.RespondedAt = &now
			p.EndReason = EndReasonOther
		}, now)
}

func (s *PostgresStore) Cancel(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error) {
	return s.transition(ctx, id, actionCancel,
		func(tx pgx.Tx, p Partnership) error {
			if p.Initiator != actingUser {
				return mpcerr.New(mpcerr.Forbidden, "only the initiator may cancel")
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			p.EndedAt = &now
			p.EndReason = EndReasonCancelled
		}, now)
}

func (s *PostgresStore) Pause(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error) {
	return s.transition(ctx, id, actionPause,
		func(tx pgx.Tx, p Partnership) error {
			if !p.IsParticipant(actingUser) {
				return mpcerr.New(mpcerr.Forbidden, "not a participant")
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			p.PausedAt = &now
		}, now)
}

func (s *PostgresStore) Resume(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error) {
	return s.transition(ctx, id, actionResume,
		func(tx pgx.Tx, p Partnership) error {
			if !p.IsParticipant(actingUser) {
				return mpcerr.New(mpcerr.Forbidden, "not a participant")
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			if p.PausedAt != nil {
				p.TotalPausedDuration += now.Sub(*p.PausedAt)
			}
			p.PausedAt = nil
			p.LastActivityAt = now
		}, now)
}

func (s *PostgresStore) End(ctx context.Context, id, actingUser, reason string, rating *int, now time.Time) (Partnership, error) {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return Partnership{}, mpcerr.New(mpcerr.Invalid, "rating must be in 1..5")
	}
	return s.transition(ctx, id, actionEnd,
		func(tx pgx.Tx, p Partnership) error {
			if !p.IsParticipant(actingUser) {
				return mpcerr.New(mpcerr.Forbidden, "not a participant")
			}
			// The rating is written inside the transition's transaction, so
			// a disallowed transition rolls it back.
			if rating != nil {
				_, err := tx.Exec(ctx, `
					INSERT INTO partnership_ratings (id, partnership_id, rater_user_id, value, created_at)
					VALUES ($1,$2,$3,$4,$5)`, uuid.NewString(), id, actingUser, *rating, now)
				if err != nil {
					return mpcerr.Wrap(mpcerr.Transient, "failed to record rating", err)
				}
			}
			return nil
		},
		func(p *Partnership, now time.Time) {
			p.EndedAt = &now
			if reason != "" {
				p.EndReason = EndReason(reason)
			} else {
				p.EndReason = EndReasonMutual
			}
		}, now)
}

func (s *PostgresStore) ExpireStalePending(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-ttl)
	tag, err := s.pool.Exec(ctx, `
		UPDATE partnerships SET status='EXPIRED', ended_at=$1, end_reason='TTL_EXPIRED', version=version+1
		WHERE status='PENDING' AND created_at < $2`, now, cutoff)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Transient, "failed to expire stale pending partnerships", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SetHealth(ctx context.Context, id string, health float64, now time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE partnerships SET health=$2, health_updated_at=$3 WHERE id=$1`, id, health, now)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Transient, "failed to set health", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveOrPaused(ctx context.Context, staleAfter time.Duration, now time.Time) ([]Partnership, error) {
	cutoff := now.Add(-staleAfter)
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectCols+` FROM partnerships
		WHERE status IN ('ACTIVE','PAUSED') AND health_updated_at < $1`, cutoff)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to list partnerships due for health recompute", err)
	}
	defer rows.Close()

	var out []Partnership
	for rows.Next() {
		p, err := scanPartnership(rows)
		if err != nil {
			return nil, mpcerr.Wrap(mpcerr.Transient, "failed to scan partnership", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to read partnerships", err)
	}
	return out, nil
}
