// Package partnership implements C4, the Partnership Store & State Machine:
// the authoritative record of partnerships and their transitions (spec §4.4).
package partnership

import (
	"context"
	"time"
)

// Status is a partnership's lifecycle state (spec §4.4 diagram).
type Status string

const (
	Pending  Status = "PENDING"
	Active   Status = "ACTIVE"
	Paused   Status = "PAUSED"
	Rejected Status = "REJECTED"
	Expired  Status = "EXPIRED"
	Ended    Status = "ENDED"
)

// LiveSet is the set of statuses counted against the pair-uniqueness and
// per-user concurrency invariants (spec GLOSSARY).
var LiveSet = map[Status]bool{Pending: true, Active: true, Paused: true}

// EndReason records why a partnership ended or was expired.
type EndReason string

const (
	EndReasonNone      EndReason = ""
	EndReasonCancelled EndReason = "CANCELLED"
	EndReasonTTL       EndReason = "TTL_EXPIRED"
	EndReasonMutual    EndReason = "MUTUAL"
	EndReasonOther     EndReason = "OTHER"
)

// Partnership is the C4 entity, keyed by ID. UserA < UserB by id ordering.
type Partnership struct {
	ID                  string
	UserA, UserB        string
	Initiator           string
	Status              Status
	Message             string
	MatchScore          float64
	CreatedAt           time.Time
	RespondedAt         *time.Time
	PausedAt            *time.Time
	TotalPausedDuration time.Duration
	EndedAt             *time.Time
	EndReason           EndReason
	DurationDays        int
	TotalSessions       int
	TotalGoalsCompleted int
	CurrentStreak       int
	LastActivityAt      time.Time
	Health              float64
	HealthUpdatedAt     time.Time
	Version             int
}

// OtherUser returns the participant that is not userID.
func (p Partnership) OtherUser(userID string) string {
	if p.UserA == userID {
		return p.UserB
	}
	return p.UserA
}

// IsParticipant reports whether userID is one of the two partners.
func (p Partnership) IsParticipant(userID string) bool {
	return p.UserA == userID || p.UserB == userID
}

// Filter narrows List() results.
type Filter struct {
	Statuses []Status
	Since    time.Time
}

// Rating is a 1..5 participant rating of an ended partnership.
type Rating struct {
	PartnershipID string
	RaterUserID   string
	Value         int
	CreatedAt     time.Time
}

// Store is the persistence and transition boundary for partnerships.
type Store interface {
	Get(ctx context.Context, id string, viewer string) (Partnership, error)
	List(ctx context.Context, userID string, filter Filter) ([]Partnership, error)

	Request(ctx context.Context, initiator, recipient, message string, durationDays int, matchScore float64, maxConcurrent int, now time.Time) (Partnership, error)
	Accept(ctx context.Context, id, actingUser string, maxConcurrent int, now time.Time) (Partnership, error)
	Reject(ctx context.Context, id, actingUser, reason string, now time.Time) (Partnership, error)
	Cancel(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error)
	Pause(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error)
	Resume(ctx context.Context, id, actingUser string, now time.Time) (Partnership, error)
	End(ctx context.Context, id, actingUser, reason string, rating *int, now time.Time) (Partnership, error)

	// CountLive returns the number of ACTIVE|PAUSED partnerships for userID.
	CountLive(ctx context.Context, userID string) (int, error)

	// ExpireStalePending transitions PENDING partnerships older than ttl to
	// EXPIRED and returns how many were expired.
	ExpireStalePending(ctx context.Context, ttl time.Duration, now time.Time) (int, error)

	// SetHealth writes a recomputed health score (C6 boundary).
	SetHealth(ctx context.Context, id string, health float64, now time.Time) error

	// ListActiveOrPaused returns partnerships eligible for health
	// recomputation whose health is older than staleAfter.
	ListActiveOrPaused(ctx context.Context, staleAfter time.Duration, now time.Time) ([]Partnership, error)
}

// OrderPair returns (userA,userB) such that userA < userB, per spec §3.
func OrderPair(u1, u2 string) (string, string) {
	if u2 < u1 {
		return u2, u1
	}
	return u1, u2
}
