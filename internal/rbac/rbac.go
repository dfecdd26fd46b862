package rbac

import "strings"

type Role string

const (
	RoleView  Role = "VIEW"
	RoleEdit  Role = "EDIT"
	RoleAdmin Role = "ADMIN"
)

func rank(role Role) int {
	switch role {
	case RoleView:
		return 1
	case RoleEdit:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether role satisfies required under VIEW < EDIT < ADMIN.
// Unknown roles satisfy nothing.
func AtLeast(role, required Role) bool {
	have := rank(role)
	return have > 0 && have >= rank(required)
}

func Valid(role Role) bool {
	return rank(role) > 0
}

// Parse accepts a role name in any case.
func Parse(value string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	return role, Valid(role)
}

// Normalize maps unknown values to the least privileged role.
func Normalize(value string) Role {
	if role, ok := Parse(value); ok {
		return role
	}
	return RoleView
}
