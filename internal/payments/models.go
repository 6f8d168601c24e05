package payments

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderCash marks money collected at the front desk. Cash attempts are
// resolved by staff, never by a webhook.
const ProviderCash = "cash"

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
	AttemptExpired   AttemptStatus = "EXPIRED"
)

func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptSucceeded || s == AttemptFailed || s == AttemptExpired
}

// IsResult reports whether s is a status a gateway can report.
func (s AttemptStatus) IsResult() bool {
	return s.IsTerminal()
}

// Attempt is one try at collecting payment for a booking. Rows are
// append-mostly: only Status, ResolvedAt and Metadata change after insert.
type Attempt struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	BookingID uuid.UUID         `gorm:"type:uuid;not null;index" json:"booking_id"`
	Reference string            `gorm:"type:varchar(128);uniqueIndex;not null" json:"reference"`
	Sequence  int               `gorm:"not null" json:"sequence"`
	Provider  string            `gorm:"type:varchar(32);not null" json:"provider"`
	Amount    int64             `gorm:"not null" json:"amount"`
	Currency  string            `gorm:"type:varchar(3);not null" json:"currency"`
	Status    AttemptStatus     `gorm:"type:varchar(16);not null;index" json:"status"`
	Metadata  map[string]string `gorm:"serializer:json;type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	// ResolvedAt is set when the attempt leaves PENDING.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (Attempt) TableName() string {
	return "payment_attempts"
}

// Resolve moves a pending attempt to a terminal status.
func (a *Attempt) Resolve(status AttemptStatus, metadata map[string]string, at time.Time) {
	a.Status = status
	a.ResolvedAt = &at
	if len(metadata) > 0 {
		if a.Metadata == nil {
			a.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			a.Metadata[k] = v
		}
	}
}

// VerifyCapture checks that a success reports the amount and currency the
// attempt was opened for. A success without an amount does not match.
func (a *Attempt) VerifyCapture(cb Callback) error {
	if cb.Amount != a.Amount {
		return fmt.Errorf("%w: captured %d, attempt %s expects %d", ErrAmountMismatch, cb.Amount, a.Reference, a.Amount)
	}
	if cb.Currency != "" && !strings.EqualFold(cb.Currency, a.Currency) {
		return fmt.Errorf("%w: captured in %s, attempt %s expects %s", ErrAmountMismatch, cb.Currency, a.Reference, a.Currency)
	}
	return nil
}

// Metadata keys written by the booking engine.
const (
	MetaError           = "error"
	MetaCapturedAmount  = "captured_amount"
	MetaRefundRequested = "refund_requested"
	MetaCollectedBy     = "collected_by"
	MetaChannel         = "channel"
)

// Callback is a payment result reported by a gateway, in any intake.
// Amount is in minor units.
type Callback struct {
	Reference  string            `json:"reference"`
	Status     AttemptStatus     `json:"status"`
	Provider   string            `json:"provider"`
	Amount     int64             `json:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	EventID    string            `json:"event_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Outcome is how the reconciler disposed of a callback.
type Outcome string

const (
	OutcomeApplied   Outcome = "APPLIED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeStale     Outcome = "STALE"
	OutcomeUnmatched Outcome = "UNMATCHED"
	OutcomeIgnored   Outcome = "IGNORED"
)
