// Package notify defines the MPC's outbound notification boundary.
//
// Notifier.emit is the sole outbound interface named in spec §6; event
// payloads are JSON-serializable records with the stable field names listed
// in the GLOSSARY. Events are not persisted before emission: an Emit that
// fails (after the Slack notifier's retries) is not redelivered, so delivery
// is not at-least-once.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// EventName enumerates the stable outbound event names from the GLOSSARY.
type EventName string

const (
	MatchProposed        EventName = "MatchProposed"
	PartnershipAccepted  EventName = "PartnershipAccepted"
	PartnershipRejected  EventName = "PartnershipRejected"
	PartnershipExpired   EventName = "PartnershipExpired"
	PartnershipPaused    EventName = "PartnershipPaused"
	PartnershipResumed   EventName = "PartnershipResumed"
	PartnershipEnded     EventName = "PartnershipEnded"
	CheckInRecorded      EventName = "CheckInRecorded"
	StreakMilestone      EventName = "StreakMilestone"
	HealthAtRisk         EventName = "HealthAtRisk"
)

// Event is the envelope emitted to the Notifier.
type Event struct {
	ID        string          `json:"id"`
	Name      EventName       `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notifier is the sole outbound interface the MPC depends on. Delivery is
// best-effort and may be dropped on cancellation per spec §5.
type Notifier interface {
	Emit(ctx context.Context, event Event) error
}

// MarshalPayload is a small helper so callers don't repeat json.Marshal error
// handling at every call site.
func MarshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payloads are built from internal, always-marshalable structs; a
		// failure here means a programming error, not a runtime condition.
		return json.RawMessage(`{}`)
	}
	return b
}
