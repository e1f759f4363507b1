package enums

import "fmt"

// Role is the caller role carried in the bearer token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStaff   Role = "staff"
	RoleShipper Role = "shipper"
	// RoleService identifies machine callers such as the order workflow.
	RoleService Role = "service"
)

var validRoles = []Role{
	RoleAdmin,
	RoleStaff,
	RoleShipper,
	RoleService,
}

// String implements fmt.Stringer.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether the value is a known Role.
func (r Role) IsValid() bool {
	for _, candidate := range validRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role.
func ParseRole(value string) (Role, error) {
	for _, candidate := range validRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid role %q", value)
}
