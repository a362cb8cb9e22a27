package compatibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/buddyup/internal/preferences"
)

func mustPrefs(t *testing.T, userID, tz string, interests, goals, tags []string, style preferences.CommunicationStyle, wh preferences.WorkingHours) preferences.UserPreferences {
	t.Helper()
	p := preferences.UserPreferences{
		UserID:              userID,
		Timezone:            tz,
		WorkingHours:        wh,
		Interests:           toSet(interests),
		FocusGoals:          toSet(goals),
		PersonalityTags:     toSet(tags),
		CommunicationStyle:  style,
		ExperienceLevel:     preferences.Intermediate,
		SessionDurationMins: 30,
		MaxConcurrent:       3,
		Available:           true,
		Version:             1,
	}
	require.NoError(t, preferences.Validate(p))
	return p
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, v := range items {
		out[v] = struct{}{}
	}
	return out
}

func nineToFive() preferences.WorkingHours {
	wh := preferences.WorkingHours{}
	for d := 1; d <= 5; d++ {
		wh[d] = []preferences.Interval{{Start: 9 * 60, End: 17 * 60}}
	}
	return wh
}

// S1 Happy path pairing from spec §8.
func TestScore_S1HappyPath(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	x := mustPrefs(t, "x", "Europe/London", []string{"reading", "coding"}, []string{"fitness"}, []string{"calm"}, preferences.Balanced, nineToFive())
	y := mustPrefs(t, "y", "Europe/Berlin", []string{"coding", "fitness"}, []string{"fitness"}, []string{"calm"}, preferences.Balanced, nineToFive())

	scorer := NewRuleBasedScorer()
	score, err := scorer.Score(x, y, now)
	require.NoError(t, err)
	require.GreaterOrEqual(t, score.Total, MinimumAcceptable)
	require.False(t, score.BelowThreshold)
	require.InDelta(t, 1.0, score.Breakdown.Communication, 1e-9)
	require.InDelta(t, 1.0/3.0, score.Breakdown.Interests, 1e-9)
}

// Property 1: symmetry and bounds.
func TestScore_SymmetricAndBounded(t *testing.T) {
	now := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	x := mustPrefs(t, "x", "America/New_York", []string{"reading"}, []string{"fitness"}, nil, preferences.Direct, nineToFive())
	y := mustPrefs(t, "y", "Asia/Tokyo", []string{"music"}, nil, []string{"calm"}, preferences.Supportive, preferences.WorkingHours{})

	scorer := NewRuleBasedScorer()
	ab, err := scorer.Score(x, y, now)
	require.NoError(t, err)
	ba, err := scorer.Score(y, x, now)
	require.NoError(t, err)

	require.InDelta(t, ab.Total, ba.Total, 1e-9)
	require.GreaterOrEqual(t, ab.Total, 0.0)
	require.LessOrEqual(t, ab.Total, 1.0)
}

func TestScore_UnparseableTimezone(t *testing.T) {
	now := time.Now()
	x := mustPrefs(t, "x", "Europe/London", nil, nil, nil, preferences.Balanced, nineToFive())
	bad := x
	bad.UserID = "y"
	bad.Timezone = "Not/AZone"

	scorer := NewRuleBasedScorer()
	_, err := scorer.Score(x, bad, now)
	require.Error(t, err)
}

func TestCommunicationMatrix_Symmetric(t *testing.T) {
	styles := []preferences.CommunicationStyle{preferences.Direct, preferences.Supportive, preferences.Balanced, preferences.Analytical}
	for _, a := range styles {
		for _, b := range styles {
			require.InDelta(t, communicationMatrix(a, b), communicationMatrix(b, a), 1e-9)
		}
		require.Equal(t, 1.0, communicationMatrix(a, a))
	}
}

func TestJaccard_EmptyBothIsNeutral(t *testing.T) {
	require.Equal(t, 0.5, jaccard(nil, nil, 0.5))
}

func TestPersonalityFloor(t *testing.T) {
	a := toSet([]string{"a"})
	b := toSet([]string{"b"})
	require.Equal(t, 0.3, jaccardFloor(a, b, 0.3))
}

func TestBreakTies(t *testing.T) {
	candidates := []Score{
		{UserA: "v", UserB: "z", Total: 0.7, Breakdown: Breakdown{Schedule: 0.5, Timezone: 0.9}},
		{UserA: "v", UserB: "a", Total: 0.7, Breakdown: Breakdown{Schedule: 0.5, Timezone: 0.9}},
	}
	BreakTies(candidates, "v")
	require.Equal(t, "a", candidates[0].UserB)
}
