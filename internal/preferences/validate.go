package preferences

import (
	"errors"
	"time"

	"github.com/malbeclabs/buddyup/internal/mpcerr"
)

var (
	errInvalidInterval     = errors.New("interval out of range or empty")
	errOverlappingInterval = errors.New("overlapping working-hour interval")
)

// Validate enforces the invariants from spec §3: timezone parses, and
// working-hour intervals are non-overlapping within a day.
func Validate(p UserPreferences) error {
	if p.UserID == "" {
		return mpcerr.New(mpcerr.Invalid, "user id is required")
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return mpcerr.Wrap(mpcerr.Invalid, "timezone does not parse", err)
	}
	for day, intervals := range p.WorkingHours {
		if day < 0 || day > 6 {
			return mpcerr.Newf(mpcerr.Invalid, "invalid day of week %d", day)
		}
		if err := ValidateIntervals(intervals); err != nil {
			return mpcerr.Wrap(mpcerr.Invalid, "invalid working hours", err)
		}
	}
	if p.SessionDurationMins < MinSessionDurationMin || p.SessionDurationMins > MaxSessionDurationMin {
		return mpcerr.Newf(mpcerr.Invalid, "session duration must be in [%d,%d] minutes", MinSessionDurationMin, MaxSessionDurationMin)
	}
	if p.MaxConcurrent < MinMaxConcurrent || p.MaxConcurrent > MaxMaxConcurrent {
		return mpcerr.Newf(mpcerr.Invalid, "max concurrent partners must be in [%d,%d]", MinMaxConcurrent, MaxMaxConcurrent)
	}
	switch p.CommunicationStyle {
	case Direct, Supportive, Balanced, Analytical:
	default:
		return mpcerr.Newf(mpcerr.Invalid, "unknown communication style %q", p.CommunicationStyle)
	}
	switch p.ExperienceLevel {
	case Beginner, Intermediate, Advanced:
	default:
		return mpcerr.Newf(mpcerr.Invalid, "unknown experience level %q", p.ExperienceLevel)
	}
	return nil
}
