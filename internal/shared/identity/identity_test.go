package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesByRole(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleUser, CapBook, true},
		{RoleUser, CapForceCancel, false},
		{RoleHost, CapForceBlock, true},
		{RoleHost, CapForceCancel, false},
		{RoleFrontDesk, CapForceReleaseHold, true},
		{RoleFrontDesk, CapCollectPayment, true},
		{RoleFrontDesk, CapBook, false},
		{RoleUser, CapBookOnBehalf, false},
		{RoleAdmin, CapForceCancel, true},
		{RoleUnassigned, CapBook, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.role)+"/"+string(tc.cap), func(t *testing.T) {
			assert.Equal(t, tc.want, New("u1", tc.role).Can(tc.cap))
		})
	}
}

func TestExtraGrants(t *testing.T) {
	id := New("agent-7", RoleAgent, CapForceBlock, "")
	assert.True(t, id.Can(CapForceBlock))
	assert.True(t, id.Can(CapBook))
	assert.False(t, id.Can(CapForceCancel))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole(" admin "))
	assert.Equal(t, RoleFrontDesk, ParseRole("front_desk"))
	assert.Equal(t, RoleUnassigned, ParseRole("superuser"))
}
