package identity

import "strings"

type Role string

const (
	RoleUser       Role = "USER"
	RoleAgent      Role = "AGENT"
	RoleHost       Role = "HOST"
	RoleFrontDesk  Role = "FRONT_DESK"
	RoleAdmin      Role = "ADMIN"
	RoleSystem     Role = "SYSTEM"
	RoleUnassigned Role = ""
)

// Capability is a single permission. Identities carry a flat capability set
// instead of inheriting permissions from a role hierarchy.
type Capability string

const (
	CapBook             Capability = "booking:create"
	CapBookOnBehalf     Capability = "booking:create_on_behalf"
	CapCollectPayment   Capability = "payment:collect"
	CapViewAnyBooking   Capability = "booking:view_any"
	CapForceCancel      Capability = "override:force_cancel"
	CapForceBlock       Capability = "override:force_block"
	CapForceReleaseHold Capability = "override:force_release_hold"
	CapManageUnits      Capability = "units:manage"
	CapManagePolicies   Capability = "policies:manage"
	CapViewAudit        Capability = "audit:view"
)

var roleCapabilities = map[Role][]Capability{
	RoleUser:  {CapBook},
	RoleAgent: {CapBook},
	RoleHost:  {CapBook, CapForceBlock, CapManageUnits, CapManagePolicies},
	RoleFrontDesk: {
		CapBookOnBehalf, CapCollectPayment, CapViewAnyBooking,
		CapForceBlock, CapForceReleaseHold,
	},
	RoleAdmin: {
		CapBook, CapBookOnBehalf, CapCollectPayment, CapViewAnyBooking, CapForceCancel,
		CapForceBlock, CapForceReleaseHold, CapManageUnits, CapManagePolicies, CapViewAudit,
	},
	RoleSystem: {CapForceCancel, CapForceReleaseHold},
}

// Identity is the authenticated caller as seen by the booking engine.
type Identity struct {
	ID           string
	Role         Role
	Capabilities map[Capability]struct{}
}

// New builds an identity with the default capabilities for role plus any
// extra grants carried in the token.
func New(id string, role Role, extra ...Capability) Identity {
	caps := make(map[Capability]struct{})
	for _, c := range roleCapabilities[role] {
		caps[c] = struct{}{}
	}
	for _, c := range extra {
		if c != "" {
			caps[c] = struct{}{}
		}
	}
	return Identity{ID: id, Role: role, Capabilities: caps}
}

// ParseRole normalises a role claim.
func ParseRole(s string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := roleCapabilities[r]; ok {
		return r
	}
	return RoleUnassigned
}

func (i Identity) Can(c Capability) bool {
	_, ok := i.Capabilities[c]
	return ok
}

func (i Identity) IsZero() bool {
	return i.ID == ""
}

// System is the identity used by background jobs.
func System(name string) Identity {
	return New("system:"+name, RoleSystem)
}
