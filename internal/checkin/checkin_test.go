package checkin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S5 Streak from spec §8.
func TestNextStreak_S5(t *testing.T) {
	var st StreakState
	st.PartnershipID = "p1"
	st.UserID = "x"

	st = NextStreak(st, "2025-01-01")
	require.Equal(t, 1, st.Current)
	require.Equal(t, 1, st.Longest)

	st = NextStreak(st, "2025-01-02")
	require.Equal(t, 2, st.Current)
	require.Equal(t, 2, st.Longest)

	// skip 2025-01-03
	st = NextStreak(st, "2025-01-04")
	require.Equal(t, 1, st.Current)
	require.Equal(t, 2, st.Longest)
}

func TestNextStreak_MonotonicInvariant(t *testing.T) {
	var st StreakState
	dates := []string{"2025-02-01", "2025-02-02", "2025-02-03", "2025-02-10"}
	for _, d := range dates {
		prevDate := st.LastCheckInDate
		st = NextStreak(st, d)
		require.LessOrEqual(t, st.Current, st.Longest)
		require.GreaterOrEqual(t, st.LastCheckInDate, prevDate)
	}
}

func TestAccountabilityScore_Bounds(t *testing.T) {
	require.Equal(t, 0, AccountabilityScore(0, 0, 28))
	require.Equal(t, 100, AccountabilityScore(28, 4, 28))
	score := AccountabilityScore(14, 2, 28)
	require.GreaterOrEqual(t, score, 0)
	require.LessOrEqual(t, score, 100)
}

func TestIsMilestone(t *testing.T) {
	require.True(t, IsMilestone(7))
	require.True(t, IsMilestone(30))
	require.False(t, IsMilestone(8))
}
