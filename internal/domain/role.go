package domain

// Role is the caller role carried in the bearer token.
type Role string

// Roles. Viewer < operator < admin form a hierarchy; detector is a separate
// machine role that may only ingest incidents.
const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleDetector Role = "detector"
)

var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok || r == RoleDetector
}

// HasPermission reports whether r satisfies the required role.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	if r == RoleDetector || required == RoleDetector {
		return r == required
	}
	return roleLevels[r] >= roleLevels[required] && roleLevels[required] > 0
}
