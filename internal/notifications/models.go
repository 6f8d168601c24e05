package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventHoldPlaced            EventType = "booking.hold_placed"
	EventAwaitingPayment       EventType = "booking.awaiting_payment"
	EventBookingConfirmed      EventType = "booking.confirmed"
	EventBookingCancelled      EventType = "booking.cancelled"
	EventPaymentFailed         EventType = "booking.payment_failed"
	EventHoldExtended          EventType = "hold.extended"
	EventHoldExpired           EventType = "hold.expired"
	EventHoldReleased          EventType = "hold.released"
	EventStaleCallback         EventType = "payment.stale_callback"
	EventRefundRequired        EventType = "payment.refund_required"
	EventPaymentLinkIssued     EventType = "payment.link_issued"
	EventCancellationRequested EventType = "booking.cancellation_requested"
	EventCancellationReviewed  EventType = "booking.cancellation_reviewed"
	EventAdminOverride         EventType = "admin.override"
)

// Event is a domain event published for downstream consumers (notification
// delivery, analytics, external audit).
type Event struct {
	ID          uuid.UUID              `json:"id"`
	Type        EventType              `json:"type"`
	AggregateID string                 `json:"aggregate_id"`
	UnitID      string                 `json:"unit_id,omitempty"`
	ActorID     string                 `json:"actor_id,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

func NewEvent(t EventType, aggregateID string, at time.Time) *Event {
	return &Event{
		ID:          uuid.New(),
		Type:        t,
		AggregateID: aggregateID,
		OccurredAt:  at,
		Payload:     map[string]interface{}{},
	}
}

func (e *Event) WithUnit(unitID string) *Event {
	e.UnitID = unitID
	return e
}

func (e *Event) WithActor(actorID string) *Event {
	e.ActorID = actorID
	return e
}

func (e *Event) With(key string, value interface{}) *Event {
	if e.Payload == nil {
		e.Payload = map[string]interface{}{}
	}
	e.Payload[key] = value
	return e
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// GetPartitionKey keeps every event of one booking on the same partition so
// consumers see them in order.
func (e *Event) GetPartitionKey() string {
	return e.AggregateID
}
