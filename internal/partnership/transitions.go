package partnership

import "github.com/malbeclabs/buddyup/internal/mpcerr"

// action names the caller-visible operations that attempt a transition.
type action string

const (
	actionAccept action = "accept"
	actionReject action = "reject"
	actionCancel action = "cancel"
	actionPause  action = "pause"
	actionResume action = "resume"
	actionEnd    action = "end"
	actionExpire action = "expire"
)

// transitions maps a (current status, action) pair to the resulting status.
// A missing entry means the action is disallowed in that state.
var transitions = map[Status]map[action]Status{
	Pending: {
		actionAccept: Active,
		actionReject: Rejected,
		actionCancel: Expired,
		actionExpire: Expired,
	},
	Active: {
		actionPause: Paused,
		actionEnd:   Ended,
	},
	Paused: {
		actionResume: Active,
		actionEnd:    Ended,
	},
}

// next returns the resulting status for (current, act), or a WrongState
// error carrying the current status if the transition is disallowed. This
// table is the sole authority on what transitions are legal (spec §4.4,
// §8 property 4): any attempted disallowed transition yields WrongState
// without mutation.
func next(current Status, act action) (Status, error) {
	byAction, ok := transitions[current]
	if !ok {
		return "", mpcerr.WrongStateErr(string(current), string(act))
	}
	to, ok := byAction[act]
	if !ok {
		return "", mpcerr.WrongStateErr(string(current), string(act))
	}
	return to, nil
}
