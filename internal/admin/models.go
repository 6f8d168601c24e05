package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/zomestaydeveloper/Zomestay/internal/shared/identity"
)

type Action string

const (
	ActionForceCancel      Action = "FORCE_CANCEL"
	ActionForceBlock       Action = "FORCE_BLOCK"
	ActionForceUnblock     Action = "FORCE_UNBLOCK"
	ActionForceReleaseHold Action = "FORCE_RELEASE_HOLD"
	ActionExtendHold       Action = "EXTEND_HOLD"
	ActionSetUnitStatus    Action = "SET_UNIT_STATUS"

	ActionApproveCancellation Action = "APPROVE_CANCELLATION"
	ActionRejectCancellation  Action = "REJECT_CANCELLATION"
)

// actionCapabilities is the capability each override needs.
var actionCapabilities = map[Action]identity.Capability{
	ActionForceCancel:      identity.CapForceCancel,
	ActionForceBlock:       identity.CapForceBlock,
	ActionForceUnblock:     identity.CapForceBlock,
	ActionForceReleaseHold: identity.CapForceReleaseHold,
	ActionExtendHold:       identity.CapForceReleaseHold,
	ActionSetUnitStatus:    identity.CapManageUnits,

	ActionApproveCancellation: identity.CapForceCancel,
	ActionRejectCancellation:  identity.CapForceCancel,
}

func (a Action) IsValid() bool {
	_, ok := actionCapabilities[a]
	return ok
}

type TargetType string

const (
	TargetBooking TargetType = "BOOKING"
	TargetUnit    TargetType = "UNIT"
	TargetHold    TargetType = "HOLD"

	TargetCancellationRequest TargetType = "CANCEL_REQUEST"
)

type Outcome string

const (
	OutcomeApplied Outcome = "APPLIED"
	OutcomeDenied  Outcome = "DENIED"
	OutcomeFailed  Outcome = "FAILED"
)

// AuditEntry records one override attempt, allowed or not. Rows are never
// updated.
type AuditEntry struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ActorID    string     `gorm:"type:varchar(64);not null;index" json:"actor_id"`
	ActorRole  string     `gorm:"type:varchar(20);not null" json:"actor_role"`
	Action     Action     `gorm:"type:varchar(32);not null;index" json:"action"`
	TargetType TargetType `gorm:"type:varchar(16);not null" json:"target_type"`
	TargetID   string     `gorm:"type:varchar(64);not null;index" json:"target_id"`
	Reason     string     `gorm:"type:text;not null" json:"reason"`
	Outcome    Outcome    `gorm:"type:varchar(16);not null" json:"outcome"`
	Detail     string     `gorm:"type:text" json:"detail,omitempty"`
	// Snapshot is the state of the target after the override.
	Snapshot map[string]interface{} `gorm:"serializer:json;type:jsonb" json:"snapshot,omitempty"`
	At       time.Time              `gorm:"not null;index" json:"at"`
}

func (AuditEntry) TableName() string {
	return "admin_audit_log"
}
