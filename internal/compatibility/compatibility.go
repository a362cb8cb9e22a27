// Package compatibility implements C2, the Compatibility Engine: a pure,
// deterministic scoring function over two users' preferences (spec §4.2).
package compatibility

import (
	"math"
	"sort"
	"time"

	"github.com/malbeclabs/buddyup/internal/mpcerr"
	"github.com/malbeclabs/buddyup/internal/preferences"
)

// MinimumAcceptable is the threshold below which a pair is never
// auto-proposed by the matching queue.
const MinimumAcceptable = 0.6

// Weights, must sum to 1.0 (asserted in init).
const (
	weightTimezone      = 0.25
	weightInterests     = 0.20
	weightGoals         = 0.20
	weightSchedule      = 0.15
	weightCommunication = 0.10
	weightPersonality   = 0.10
)

func init() {
	sum := weightTimezone + weightInterests + weightGoals + weightSchedule + weightCommunication + weightPersonality
	if math.Abs(sum-1.0) > 1e-9 {
		panic("compatibility: factor weights must sum to 1.0")
	}
}

// Breakdown is the per-factor sub-score accompanying a Score's total.
type Breakdown struct {
	Timezone      float64
	Interests     float64
	Goals         float64
	Schedule      float64
	Communication float64
	Personality   float64
}

// Score is the ephemeral CompatibilityScore entity (spec §3). UserA and
// UserB are ordered so UserA < UserB by id.
type Score struct {
	UserA, UserB  string
	Total         float64
	Breakdown     Breakdown
	BelowThreshold bool
	ComputedAt    time.Time
}

// Scorer computes compatibility between two users' preferences. The spec
// names a rule-based matcher but suggests a pluggable interface to leave
// room for a future ML-backed implementation (spec §9 open question).
type Scorer interface {
	Score(a, b preferences.UserPreferences, now time.Time) (Score, error)
}

// RuleBasedScorer is the scorer this repo ships with: the fixed six-factor
// weighted formula from spec §4.2.
type RuleBasedScorer struct{}

func NewRuleBasedScorer() RuleBasedScorer { return RuleBasedScorer{} }

// Score computes the compatibility between a and b. It fails with Invalid
// only when a preference's timezone does not parse; otherwise it always
// produces a score, per spec §4.2.
func (RuleBasedScorer) Score(a, b preferences.UserPreferences, now time.Time) (Score, error) {
	userA, userB := a, b
	if userB.UserID < userA.UserID {
		userA, userB = userB, userA
	}

	tz, err := timezoneFactor(userA.Timezone, userB.Timezone, now)
	if err != nil {
		return Score{}, err
	}

	bd := Breakdown{
		Timezone:      tz,
		Interests:     jaccard(userA.Interests, userB.Interests, 0.5),
		Goals:         jaccard(userA.FocusGoals, userB.FocusGoals, 0.5),
		Schedule:      scheduleOverlap(userA.WorkingHours, userB.WorkingHours),
		Communication: communicationMatrix(userA.CommunicationStyle, userB.CommunicationStyle),
		Personality:   jaccardFloor(userA.PersonalityTags, userB.PersonalityTags, 0.3),
	}

	total := weightTimezone*bd.Timezone +
		weightInterests*bd.Interests +
		weightGoals*bd.Goals +
		weightSchedule*bd.Schedule +
		weightCommunication*bd.Communication +
		weightPersonality*bd.Personality

	return Score{
		UserA:          userA.UserID,
		UserB:          userB.UserID,
		Total:          total,
		Breakdown:      bd,
		BelowThreshold: total < MinimumAcceptable,
		ComputedAt:     now,
	}, nil
}

func timezoneFactor(tzA, tzB string, now time.Time) (float64, error) {
	locA, err := time.LoadLocation(tzA)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Invalid, "unparseable timezone", err)
	}
	locB, err := time.LoadLocation(tzB)
	if err != nil {
		return 0, mpcerr.Wrap(mpcerr.Invalid, "unparseable timezone", err)
	}
	_, offA := now.In(locA).Zone()
	_, offB := now.In(locB).Zone()
	deltaHours := math.Abs(float64(offA-offB)) / 3600.0
	if deltaHours > 12 {
		deltaHours = 12
	}
	return 1 - deltaHours/12, nil
}

func jaccard(a, b map[string]struct{}, emptyBoth float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return emptyBoth
	}
	inter, union := setOverlap(a, b)
	if union == 0 {
		return emptyBoth
	}
	return float64(inter) / float64(union)
}

func jaccardFloor(a, b map[string]struct{}, floor float64) float64 {
	v := jaccard(a, b, floor)
	if v < floor {
		return floor
	}
	return v
}

func setOverlap(a, b map[string]struct{}) (intersection, union int) {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	return intersection, len(seen)
}

// scheduleOverlap is the fraction of weekly working-hour minutes that both
// users share, divided by the smaller of the two totals.
func scheduleOverlap(a, b preferences.WorkingHours) float64 {
	totalA, totalB := a.TotalMinutes(), b.TotalMinutes()
	smaller := totalA
	if totalB < smaller {
		smaller = totalB
	}
	if smaller == 0 {
		return 0
	}

	overlap := 0
	for day, ivsA := range a {
		ivsB, ok := b[day]
		if !ok {
			continue
		}
		overlap += overlapMinutes(ivsA, ivsB)
	}
	return float64(overlap) / float64(smaller)
}

func overlapMinutes(a, b []preferences.Interval) int {
	total := 0
	for _, ia := range a {
		for _, ib := range b {
			start := ia.Start
			if ib.Start > start {
				start = ib.Start
			}
			end := ia.End
			if ib.End < end {
				end = ib.End
			}
			if end > start {
				total += end - start
			}
		}
	}
	return total
}

var commMatrix = map[preferences.CommunicationStyle]map[preferences.CommunicationStyle]float64{
	preferences.Direct: {
		preferences.Direct:     1.0,
		preferences.Analytical: 0.8,
		preferences.Balanced:   0.7,
		preferences.Supportive: 0.5,
	},
	preferences.Balanced: {
		preferences.Balanced:   1.0,
		preferences.Analytical: 0.8,
		preferences.Supportive: 0.9,
		preferences.Direct:     0.7,
	},
	preferences.Analytical: {
		preferences.Analytical: 1.0,
		preferences.Direct:     0.8,
		preferences.Balanced:   0.8,
		preferences.Supportive: 0.6,
	},
	preferences.Supportive: {
		preferences.Supportive: 1.0,
		preferences.Balanced:   0.9,
		preferences.Analytical: 0.6,
		preferences.Direct:     0.5,
	},
}

func communicationMatrix(a, b preferences.CommunicationStyle) float64 {
	if row, ok := commMatrix[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return 0.5
}

// BreakTies orders candidates by §4.2's tie-break rule: higher schedule
// factor, then lower absolute timezone difference (approximated here via
// higher timezone factor, since both are monotonic in |Δh|), then
// lexicographically smaller partner userId.
func BreakTies(candidates []Score, viewer string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.Total != cj.Total {
			return ci.Total > cj.Total
		}
		if ci.Breakdown.Schedule != cj.Breakdown.Schedule {
			return ci.Breakdown.Schedule > cj.Breakdown.Schedule
		}
		if ci.Breakdown.Timezone != cj.Breakdown.Timezone {
			return ci.Breakdown.Timezone > cj.Breakdown.Timezone
		}
		return otherUser(ci, viewer) < otherUser(cj, viewer)
	})
}

func otherUser(s Score, viewer string) string {
	if s.UserA == viewer {
		return s.UserB
	}
	return s.UserA
}
