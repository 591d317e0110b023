package auth

// Role is the access level carried in a token.
type Role string

// Viewers read event state and progress, operators start and cancel DR events
// and export reports, admins own everything else under /api/.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole returns value as a Role if it is known.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleLevels[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants at least the access of required.
// Unknown roles grant nothing.
func RoleAtLeast(role Role, required Role) bool {
	have, ok := roleLevels[role]
	if !ok {
		return false
	}
	return have >= roleLevels[required]
}
