package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S6 Health at risk from spec §8.
func TestScore_S6HealthAtRisk(t *testing.T) {
	score := Score(Inputs{
		DaysSinceLastActivity: 10,
		AccountabilityA:       30,
		AccountabilityB:       20,
		CurrentStreak:         0,
	})
	require.InDelta(t, 38.9, score, 0.2)
	require.True(t, AtRisk(score))
}

type fakeEventStore struct {
	lastBand string
	records  []string
}

func (f *fakeEventStore) LastBand(ctx context.Context, partnershipID string) (string, error) {
	return f.lastBand, nil
}

func (f *fakeEventStore) RecordBand(ctx context.Context, partnershipID string, score float64, band string, now time.Time) error {
	f.lastBand = band
	f.records = append(f.records, band)
	return nil
}

func TestRecompute_EdgeTriggeredOnce(t *testing.T) {
	store := &fakeEventStore{}
	ctx := context.Background()
	in := Inputs{DaysSinceLastActivity: 10, AccountabilityA: 30, AccountabilityB: 20, CurrentStreak: 0}

	_, entered, err := Recompute(ctx, store, "p1", in, time.Now())
	require.NoError(t, err)
	require.True(t, entered)

	// Recomputing again with the same inputs should not re-trigger.
	_, entered2, err := Recompute(ctx, store, "p1", in, time.Now())
	require.NoError(t, err)
	require.False(t, entered2)
}

func TestRecompute_ReentryAfterRecoveryTriggersAgain(t *testing.T) {
	store := &fakeEventStore{}
	ctx := context.Background()
	risky := Inputs{DaysSinceLastActivity: 10, AccountabilityA: 30, AccountabilityB: 20, CurrentStreak: 0}
	healthy := Inputs{DaysSinceLastActivity: 0, AccountabilityA: 90, AccountabilityB: 90, CurrentStreak: 14}

	_, entered, _ := Recompute(ctx, store, "p1", risky, time.Now())
	require.True(t, entered)

	_, entered, _ = Recompute(ctx, store, "p1", healthy, time.Now())
	require.False(t, entered)

	_, entered, _ = Recompute(ctx, store, "p1", risky, time.Now())
	require.True(t, entered)
}
