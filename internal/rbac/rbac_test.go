package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAtLeastOrdering(t *testing.T) {
	cases := []struct {
		role     Role
		required Role
		want     bool
	}{
		{RoleView, RoleView, true},
		{RoleView, RoleEdit, false},
		{RoleView, RoleAdmin, false},
		{RoleEdit, RoleView, true},
		{RoleEdit, RoleEdit, true},
		{RoleEdit, RoleAdmin, false},
		{RoleAdmin, RoleEdit, true},
		{RoleAdmin, RoleAdmin, true},
		{Role("OWNER"), RoleView, false},
		{Role(""), RoleView, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AtLeast(tc.role, tc.required), "%s >= %s", tc.role, tc.required)
	}
}

func TestParseAndNormalize(t *testing.T) {
	role, ok := Parse(" edit ")
	assert.True(t, ok)
	assert.Equal(t, RoleEdit, role)

	_, ok = Parse("superuser")
	assert.False(t, ok)

	assert.Equal(t, RoleView, Normalize("superuser"))
	assert.Equal(t, RoleAdmin, Normalize("admin"))
}
