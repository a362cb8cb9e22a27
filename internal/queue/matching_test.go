package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/buddyup/internal/compatibility"
	"github.com/malbeclabs/buddyup/internal/notify"
	"github.com/malbeclabs/buddyup/internal/partnership"
	"github.com/malbeclabs/buddyup/internal/preferences"
)

type fakeQueueStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func newFakeQueueStore() *fakeQueueStore { return &fakeQueueStore{entries: map[string]Entry{}} }

func (f *fakeQueueStore) Join(ctx context.Context, userID string, now time.Time) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := Entry{UserID: userID, EnqueuedAt: now, Status: Waiting}
	f.entries[userID] = e
	return e, nil
}

func (f *fakeQueueStore) Leave(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, userID)
	return nil
}

func (f *fakeQueueStore) Get(ctx context.Context, userID string) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[userID], nil
}

func (f *fakeQueueStore) Position(ctx context.Context, userID string) (Position, error) {
	return Position{}, nil
}

func (f *fakeQueueStore) SnapshotWaiting(ctx context.Context) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entry
	for _, e := range f.entries {
		if e.Status == Waiting {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeQueueStore) Admit(ctx context.Context, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range userIDs {
		delete(f.entries, id)
	}
	return nil
}

func (f *fakeQueueStore) EvictIdle(ctx context.Context, cutoff time.Time) (int, error) { return 0, nil }

type fakePrefsStore struct {
	prefs map[string]preferences.UserPreferences
}

func (f *fakePrefsStore) Get(ctx context.Context, userID string) (preferences.UserPreferences, error) {
	return f.prefs[userID], nil
}
func (f *fakePrefsStore) Upsert(ctx context.Context, p preferences.UserPreferences) (preferences.UserPreferences, error) {
	f.prefs[p.UserID] = p
	return p, nil
}
func (f *fakePrefsStore) SetAvailability(ctx context.Context, userID string, available bool) error {
	return nil
}

type fakePartnershipStore struct {
	mu       sync.Mutex
	requests int
}

func (f *fakePartnershipStore) Get(ctx context.Context, id, viewer string) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) List(ctx context.Context, userID string, filter partnership.Filter) ([]partnership.Partnership, error) {
	return nil, nil
}
func (f *fakePartnershipStore) Request(ctx context.Context, initiator, recipient, message string, durationDays int, matchScore float64, maxConcurrent int, now time.Time) (partnership.Partnership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return partnership.Partnership{Initiator: initiator}, nil
}
func (f *fakePartnershipStore) Accept(ctx context.Context, id, actingUser string, maxConcurrent int, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) Reject(ctx context.Context, id, actingUser, reason string, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) Cancel(ctx context.Context, id, actingUser string, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) Pause(ctx context.Context, id, actingUser string, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) Resume(ctx context.Context, id, actingUser string, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) End(ctx context.Context, id, actingUser, reason string, rating *int, now time.Time) (partnership.Partnership, error) {
	return partnership.Partnership{}, nil
}
func (f *fakePartnershipStore) CountLive(ctx context.Context, userID string) (int, error) { return 0, nil }
func (f *fakePartnershipStore) ExpireStalePending(ctx context.Context, ttl time.Duration, now time.Time) (int, error) {
	return 0, nil
}
func (f *fakePartnershipStore) SetHealth(ctx context.Context, id string, health float64, now time.Time) error {
	return nil
}
func (f *fakePartnershipStore) ListActiveOrPaused(ctx context.Context, staleAfter time.Duration, now time.Time) ([]partnership.Partnership, error) {
	return nil, nil
}

func prefsFor(userID, tz string, interests []string) preferences.UserPreferences {
	set := make(map[string]struct{}, len(interests))
	for _, i := range interests {
		set[i] = struct{}{}
	}
	wh := preferences.WorkingHours{}
	for d := 1; d <= 5; d++ {
		wh[d] = []preferences.Interval{{Start: 9 * 60, End: 17 * 60}}
	}
	return preferences.UserPreferences{
		UserID: userID, Timezone: tz, Interests: set, FocusGoals: set,
		PersonalityTags: set, CommunicationStyle: preferences.Balanced,
		ExperienceLevel: preferences.Intermediate, SessionDurationMins: 30,
		MaxConcurrent: 3, Available: true, WorkingHours: wh, Version: 1,
	}
}

func TestRunMatchingPass_IdempotentOnSecondRun(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	qs := newFakeQueueStore()
	ps := &fakePrefsStore{prefs: map[string]preferences.UserPreferences{
		"x": prefsFor("x", "Europe/London", []string{"reading", "coding"}),
		"y": prefsFor("y", "Europe/Berlin", []string{"coding", "reading"}),
	}}
	pships := &fakePartnershipStore{}
	qs.Join(ctx, "x", now)
	qs.Join(ctx, "y", now.Add(time.Minute))

	engine := NewEngine(qs, ps, pships, compatibility.NewRuleBasedScorer(), notify.NewMemoryNotifier(), slog.Default(), 0.5, 6, 3)

	n1, err := engine.RunMatchingPass(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, n1)

	// Property 7: a second pass with no queue mutation proposes nothing,
	// because matched users were removed from the queue.
	n2, err := engine.RunMatchingPass(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 0, n2)
	require.Equal(t, 1, pships.requests)
}
