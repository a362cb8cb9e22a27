package checkin

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/buddyup/internal/dberror"
	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

// PostgresStore is the pgx-backed implementation of Store. The per-day and
// per-week partial unique indexes on check_ins double as the dedupe
// mechanism (spec §5: "serialized by the per-day/per-week unique
// constraint, which doubles as a deduper").
type PostgresStore struct {
	pool         *pgxpool.Pool
	clock        clockwork.Clock
	windowDays   int
	accountCache *accountabilityCache
}

func NewPostgresStore(pool *pgxpool.Pool, clock clockwork.Clock, windowDays int, cacheTTL time.Duration) *PostgresStore {
	return &PostgresStore{
		pool:         pool,
		clock:        clock,
		windowDays:   windowDays,
		accountCache: newAccountabilityCache(cacheTTL, clock),
	}
}

func (s *PostgresStore) partnershipParticipantsAndStatus(ctx context.Context, tx pgx.Tx, partnershipID string) (userA, userB, status string, err error) {
	err = tx.QueryRow(ctx, `SELECT user_a, user_b, status FROM partnerships WHERE id = $1`, partnershipID).Scan(&userA, &userB, &status)
	if err == pgx.ErrNoRows {
		return "", "", "", mpcerr.Newf(mpcerr.NotFound, "partnership %s not found", partnershipID)
	}
	if err != nil {
		return "", "", "", mpcerr.Wrap(mpcerr.Transient, "failed to load partnership", err)
	}
	return userA, userB, status, nil
}

func (s *PostgresStore) SubmitDaily(ctx context.Context, partnershipID, authorUserID, authorTimezone string, payload Payload, now time.Time) (CheckIn, StreakState, error) {
	localDate, err := LocalDate(now, authorTimezone)
	if err != nil {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Invalid, "unparseable author timezone", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	userA, userB, status, err := s.partnershipParticipantsAndStatus(ctx, tx, partnershipID)
	if err != nil {
		return CheckIn{}, StreakState{}, err
	}
	if authorUserID != userA && authorUserID != userB {
		return CheckIn{}, StreakState{}, mpcerr.New(mpcerr.Forbidden, "author is not a participant")
	}
	if status != "ACTIVE" {
		return CheckIn{}, StreakState{}, mpcerr.WrongStateErr(status, "submitDaily")
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO check_ins (id, partnership_id, author_user_id, kind, mood, energy, productivity, stress, notes, created_at, local_date)
		VALUES ($1,$2,$3,'DAILY',$4,$5,$6,$7,$8,$9,$10)`,
		id, partnershipID, authorUserID, payload.Mood, payload.Energy, payload.Productivity, payload.Stress, payload.Notes, now, localDate)
	if err != nil {
		if dberror.IsUniqueViolation(err) {
			return CheckIn{}, StreakState{}, mpcerr.New(mpcerr.Conflict, "daily check-in already recorded for this date")
		}
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to insert check-in", err)
	}

	var prev StreakState
	err = tx.QueryRow(ctx, `SELECT current, longest, last_check_in_date FROM streak_state WHERE partnership_id=$1 AND user_id=$2`, partnershipID, authorUserID).
		Scan(&prev.Current, &prev.Longest, &prev.LastCheckInDate)
	if err != nil && err != pgx.ErrNoRows {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to load streak state", err)
	}
	prev.PartnershipID = partnershipID
	prev.UserID = authorUserID

	updated := NextStreak(prev, localDate)

	_, err = tx.Exec(ctx, `
		INSERT INTO streak_state (partnership_id, user_id, current, longest, last_check_in_date)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (partnership_id, user_id) DO UPDATE SET current=$3, longest=$4, last_check_in_date=$5`,
		partnershipID, authorUserID, updated.Current, updated.Longest, updated.LastCheckInDate)
	if err != nil {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to persist streak state", err)
	}

	_, err = tx.Exec(ctx, `UPDATE partnerships SET last_activity_at=$2, current_streak=$3 WHERE id=$1`, partnershipID, now, updated.Current)
	if err != nil {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to update partnership activity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CheckIn{}, StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to commit", err)
	}

	s.accountCache.Invalidate(partnershipID, authorUserID)

	return CheckIn{
		ID: id, PartnershipID: partnershipID, AuthorUserID: authorUserID, Kind: Daily,
		Mood: payload.Mood, Energy: payload.Energy, Productivity: payload.Productivity,
		Stress: payload.Stress, Notes: payload.Notes, CreatedAt: now,
	}, updated, nil
}

func (s *PostgresStore) SubmitWeekly(ctx context.Context, partnershipID, authorUserID string, payload Payload, now time.Time) (CheckIn, error) {
	isoYear, isoWeek := now.ISOWeek()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return CheckIn{}, mpcerr.Wrap(mpcerr.Transient, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	userA, userB, status, err := s.partnershipParticipantsAndStatus(ctx, tx, partnershipID)
	if err != nil {
		return CheckIn{}, err
	}
	if authorUserID != userA && authorUserID != userB {
		return CheckIn{}, mpcerr.New(mpcerr.Forbidden, "author is not a participant")
	}
	if status != "ACTIVE" {
		return CheckIn{}, mpcerr.WrongStateErr(status, "submitWeekly")
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO check_ins (id, partnership_id, author_user_id, kind, mood, energy, productivity, stress, notes, created_at, iso_year, iso_week)
		VALUES ($1,$2,$3,'WEEKLY',$4,$5,$6,$7,$8,$9,$10,$11)`,
		id, partnershipID, authorUserID, payload.Mood, payload.Energy, payload.Productivity, payload.Stress, payload.Notes, now, isoYear, isoWeek)
	if err != nil {
		if dberror.IsUniqueViolation(err) {
			return CheckIn{}, mpcerr.New(mpcerr.Conflict, "weekly check-in already recorded for this week")
		}
		return CheckIn{}, mpcerr.Wrap(mpcerr.Transient, "failed to insert check-in", err)
	}

	_, err = tx.Exec(ctx, `UPDATE partnerships SET last_activity_at=$2 WHERE id=$1`, partnershipID, now)
	if err != nil {
		return CheckIn{}, mpcerr.Wrap(mpcerr.Transient, "failed to update partnership activity", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return CheckIn{}, mpcerr.Wrap(mpcerr.Transient, "failed to commit", err)
	}

	s.accountCache.Invalidate(partnershipID, authorUserID)

	return CheckIn{
		ID: id, PartnershipID: partnershipID, AuthorUserID: authorUserID, Kind: Weekly,
		Mood: payload.Mood, Energy: payload.Energy, Productivity: payload.Productivity,
		Stress: payload.Stress, Notes: payload.Notes, CreatedAt: now,
	}, nil
}

func (s *PostgresStore) List(ctx context.Context, partnershipID, viewer string, r Range) ([]CheckIn, error) {
	var userA, userB string
	err := s.pool.QueryRow(ctx, `SELECT user_a, user_b FROM partnerships WHERE id=$1`, partnershipID).Scan(&userA, &userB)
	if err == pgx.ErrNoRows {
		return nil, mpcerr.Newf(mpcerr.NotFound, "partnership %s not found", partnershipID)
	}
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to load partnership", err)
	}
	if viewer != userA && viewer != userB {
		return nil, mpcerr.New(mpcerr.Forbidden, "viewer is not a participant")
	}

	query := `SELECT id, partnership_id, author_user_id, kind, mood, energy, productivity, stress, notes, created_at
		FROM check_ins WHERE partnership_id = $1`
	args := []any{partnershipID}
	if !r.Since.IsZero() {
		args = append(args, r.Since)
		query += ` AND created_at >= $` + itoa(len(args))
	}
	if !r.Until.IsZero() {
		args = append(args, r.Until)
		query += ` AND created_at <= $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to list check-ins", err)
	}
	defer rows.Close()

	var out []CheckIn
	for rows.Next() {
		var c CheckIn
		if err := rows.Scan(&c.ID, &c.PartnershipID, &c.AuthorUserID, &c.Kind, &c.Mood, &c.Energy, &c.Productivity, &c.Stress, &c.Notes, &c.CreatedAt); err != nil {
			return nil, mpcerr.Wrap(mpcerr.Transient, "failed to scan check-in", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "failed to read check-ins", err)
	}
	return out, nil
}

func (s *PostgresStore) Streak(ctx context.Context, partnershipID, userID string) (StreakState, error) {
	var st StreakState
	st.PartnershipID = partnershipID
	st.UserID = userID
	err := s.pool.QueryRow(ctx, `SELECT current, longest, last_check_in_date FROM streak_state WHERE partnership_id=$1 AND user_id=$2`, partnershipID, userID).
		Scan(&st.Current, &st.Longest, &st.LastCheckInDate)
	if err == pgx.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return StreakState{}, mpcerr.Wrap(mpcerr.Transient, "failed to load streak", err)
	}
	return st, nil
}

func (s *PostgresStore) Accountability(ctx context.Context, partnershipID, userID string, now time.Time) (int, error) {
	if cached, ok := s.accountCache.Get(partnershipID, userID); ok {
		return cached, nil
	}

	windowDays := s.windowDays
	if windowDays <= 0 {
		windowDays = AccountabilityWindowDays
	}
	since := now.AddDate(0, 0, -windowDays)

	var dailyHits, weeklyHits int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FILTER (WHERE kind='DAILY'), count(*) FILTER (WHERE kind='WEEKLY')
		FROM check_ins WHERE partnership_id=$1 AND author_user_id=$2 AND created_at >= $3`,
		partnershipID, userID, since).Scan(&dailyHits, &weeklyHits)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Transient, "failed to compute accountability", err)
	}

	score := AccountabilityScore(dailyHits, weeklyHits, windowDays)
	s.accountCache.Put(partnershipID, userID, score)
	return score, nil
}

// accountabilityCache is a short-TTL cache invalidated on any CheckIn
// write for the affected (partnership,user) pair (spec §5).
type accountabilityCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock clockwork.Clock
	items map[[2]string]cachedScore
}

type cachedScore struct {
	score     int
	expiresAt time.Time
}

func newAccountabilityCache(ttl time.Duration, clock clockwork.Clock) *accountabilityCache {
	return &accountabilityCache{ttl: ttl, clock: clock, items: make(map[[2]string]cachedScore)}
}

func (c *accountabilityCache) Get(partnershipID, userID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[[2]string{partnershipID, userID}]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		return 0, false
	}
	return entry.score, true
}

func (c *accountabilityCache) Put(partnershipID, userID string, score int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[[2]string{partnershipID, userID}] = cachedScore{score: score, expiresAt: c.clock.Now().Add(c.ttl)}
}

func (c *accountabilityCache) Invalidate(partnershipID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, [2]string{partnershipID, userID})
}
