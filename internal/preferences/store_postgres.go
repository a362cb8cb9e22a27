package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/buddyup/internal/dberror"
	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

// PostgresStore is the pgx-backed implementation of Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// workingHoursJSON is the on-the-wire shape for the working_hours jsonb column.
type workingHoursJSON map[string][]Interval

func toJSON(w WorkingHours) workingHoursJSON {
	out := make(workingHoursJSON, len(w))
	for day, ivs := range w {
		out[fmt.Sprintf("%d", day)] = ivs
	}
	return out
}

func fromJSON(j workingHoursJSON) WorkingHours {
	out := make(WorkingHours, len(j))
	for k, ivs := range j {
		var day int
		fmt.Sscanf(k, "%d", &day)
		out[day] = ivs
	}
	return out
}

func toSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func toSet(s []string) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, v := range s {
		out[v] = struct{}{}
	}
	return out
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (UserPreferences, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, timezone, working_hours, interests, focus_goals, communication_style,
		       experience_level, personality_tags, session_duration_mins, max_concurrent,
		       available, version, created_at, updated_at
		FROM preferences WHERE user_id = $1`, userID)

	var (
		p          UserPreferences
		whRaw      []byte
		interests  []string
		goals      []string
		tags       []string
	)
	err := row.Scan(&p.UserID, &p.Timezone, &whRaw, &interests, &goals, &p.CommunicationStyle,
		&p.ExperienceLevel, &tags, &p.SessionDurationMins, &p.MaxConcurrent,
		&p.Available, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return UserPreferences{}, mpcerr.Newf(mpcerr.NotFound, "preferences not found for user %s", userID)
		}
		if dberror.IsTransient(err) {
			return UserPreferences{}, mpcerr.Wrap(mpcerr.Transient, "failed to load preferences", err)
		}
		return UserPreferences{}, mpcerr.Wrap(mpcerr.Transient, "failed to load preferences", err)
	}

	var wh workingHoursJSON
	if err := json.Unmarshal(whRaw, &wh); err != nil {
		return UserPreferences{}, mpcerr.Wrap(mpcerr.Invalid, "corrupt working_hours", err)
	}
	p.WorkingHours = fromJSON(wh)
	p.Interests = toSet(interests)
	p.FocusGoals = toSet(goals)
	p.PersonalityTags = toSet(tags)
	return p, nil
}

// Upsert validates prefs and writes them with an optimistic version bump. A
// version mismatch on an existing row returns Conflict (spec §4.1's "last
// writer wins with optimistic version tag").
func (s *PostgresStore) Upsert(ctx context.Context, prefs UserPreferences) (UserPreferences, error) {
	if prefs.MaxConcurrent == 0 {
		prefs.MaxConcurrent = DefaultMaxConcurrent
	}

	if err := Validate(prefs); err != nil {
		return UserPreferences{}, err
	}

	whJSON, err := json.Marshal(toJSON(prefs.WorkingHours))
	if err != nil {
		return UserPreferences{}, mpcerr.Wrap(mpcerr.Invalid, "failed to encode working hours", err)
	}

	now := time.Now().UTC()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO preferences (user_id, timezone, working_hours, interests, focus_goals,
			communication_style, experience_level, personality_tags, session_duration_mins,
			max_concurrent, available, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,$12,$12)
		ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			working_hours = EXCLUDED.working_hours,
			interests = EXCLUDED.interests,
			focus_goals = EXCLUDED.focus_goals,
			communication_style = EXCLUDED.communication_style,
			experience_level = EXCLUDED.experience_level,
			personality_tags = EXCLUDED.personality_tags,
			session_duration_mins = EXCLUDED.session_duration_mins,
			max_concurrent = EXCLUDED.max_concurrent,
			available = EXCLUDED.available,
			version = preferences.version + 1,
			updated_at = $12
		WHERE preferences.version = $13 OR $13 = 0
		RETURNING user_id, timezone, working_hours, interests, focus_goals, communication_style,
		          experience_level, personality_tags, session_duration_mins, max_concurrent,
		          available, version, created_at, updated_at`,
		prefs.UserID, prefs.Timezone, whJSON, toSlice(prefs.Interests), toSlice(prefs.FocusGoals),
		prefs.CommunicationStyle, prefs.ExperienceLevel, toSlice(prefs.PersonalityTags),
		prefs.SessionDurationMins, prefs.MaxConcurrent, prefs.Available, now, prefs.Version)

	var (
		out       UserPreferences
		whRaw     []byte
		interests []string
		goals     []string
		tags      []string
	)
	scanErr := row.Scan(&out.UserID, &out.Timezone, &whRaw, &interests, &goals, &out.CommunicationStyle,
		&out.ExperienceLevel, &tags, &out.SessionDurationMins, &out.MaxConcurrent,
		&out.Available, &out.Version, &out.CreatedAt, &out.UpdatedAt)
	if scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return UserPreferences{}, mpcerr.New(mpcerr.Conflict, "preferences were modified concurrently")
		}
		if dberror.IsUniqueViolation(scanErr) {
			return UserPreferences{}, mpcerr.New(mpcerr.Conflict, "preferences were modified concurrently")
		}
		return UserPreferences{}, mpcerr.Wrap(mpcerr.Transient, "failed to save preferences", scanErr)
	}

	var wh workingHoursJSON
	_ = json.Unmarshal(whRaw, &wh)
	out.WorkingHours = fromJSON(wh)
	out.Interests = toSet(interests)
	out.FocusGoals = toSet(goals)
	out.PersonalityTags = toSet(tags)
	return out, nil
}

func (s *PostgresStore) SetAvailability(ctx context.Context, userID string, available bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE preferences SET available = $2, updated_at = now() WHERE user_id = $1`, userID, available)
	if err != nil {
		return mpcerr.Wrap(mpcerr.Transient, "failed to set availability", err)
	}
	if tag.RowsAffected() == 0 {
		return mpcerr.Newf(mpcerr.NotFound, "preferences not found for user %s", userID)
	}
	return nil
}
