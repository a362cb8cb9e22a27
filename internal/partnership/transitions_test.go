package partnership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

func TestNext_AllowedTransitions(t *testing.T) {
	cases := []struct {
		from Status
		act  action
		to   Status
	}{
		{Pending, actionAccept, Active},
		{Pending, actionReject, Rejected},
		{Pending, actionCancel, Expired},
		{Pending, actionExpire, Expired},
		{Active, actionPause, Paused},
		{Active, actionEnd, Ended},
		{Paused, actionResume, Active},
		{Paused, actionEnd, Ended},
	}
	for _, c := range cases {
		got, err := next(c.from, c.act)
		require.NoError(t, err, "%s -(%s)-> ?", c.from, c.act)
		require.Equal(t, c.to, got)
	}
}

func TestNext_DisallowedTransitionsYieldWrongState(t *testing.T) {
	cases := []struct {
		from Status
		act  action
	}{
		{Active, actionAccept},
		{Rejected, actionAccept},
		{Ended, actionPause},
		{Expired, actionResume},
		{Pending, actionPause},
		{Paused, actionAccept},
	}
	for _, c := range cases {
		_, err := next(c.from, c.act)
		require.Error(t, err, "%s-(%s) should be disallowed", c.from, c.act)
		require.Equal(t, mpcerr.WrongState, mpcerr.KindOf(err))
	}
}

func TestOrderPair(t *testing.T) {
	a, b := OrderPair("zoe", "amy")
	require.Equal(t, "amy", a)
	require.Equal(t, "zoe", b)
}

func TestPartnership_OtherUser(t *testing.T) {
	p := Partnership{UserA: "a", UserB: "b"}
	require.Equal(t, "b", p.OtherUser("a"))
	require.Equal(t, "a", p.OtherUser("b"))
}
