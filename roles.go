package authsync

// Role is the marketplace role of an identity.
type Role string

const (
	// RoleCustomer books services
	RoleCustomer Role = "customer"
	// RoleWorker provides services and carries worker stats
	RoleWorker Role = "worker"
	// RoleAdmin administers the marketplace, see AdminLevel
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleCustomer, RoleWorker, RoleAdmin:
		return true
	default:
		return false
	}
}

// ParseRole safely parses a string into a Role
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []Role {
	return []Role{RoleCustomer, RoleWorker, RoleAdmin}
}

// AdminLevel is the administrative privilege tier of an admin identity.
type AdminLevel string

const (
	AdminLevelSupport   AdminLevel = "support"
	AdminLevelModerator AdminLevel = "moderator"
	AdminLevelSuper     AdminLevel = "super"
)

var adminHierarchy = map[AdminLevel]int{
	AdminLevelSupport:   0,
	AdminLevelModerator: 1,
	AdminLevelSuper:     2,
}

// IsValid checks if the level is a known tier
func (l AdminLevel) IsValid() bool {
	_, ok := adminHierarchy[l]
	return ok
}

// ParseAdminLevel safely parses a string into an AdminLevel
func ParseAdminLevel(s string) (AdminLevel, bool) {
	level := AdminLevel(s)
	return level, level.IsValid()
}

// IsAtLeast checks if this level meets the minimum required tier
func (l AdminLevel) IsAtLeast(min AdminLevel) bool {
	current, ok := adminHierarchy[l]
	if !ok {
		return false
	}
	required, ok := adminHierarchy[min]
	if !ok {
		return false
	}
	return current >= required
}

// CanModerate reports whether the identity may act on reported content.
func (i *Identity) CanModerate() bool {
	return i.IsAdmin() && i.AdminLevel.IsAtLeast(AdminLevelModerator)
}

// CanManageAdmins reports whether the identity may change other admins.
func (i *Identity) CanManageAdmins() bool {
	return i.IsAdmin() && i.AdminLevel.IsAtLeast(AdminLevelSuper)
}

// CanAcceptJobs reports whether the identity may take worker jobs. Unverified
// workers are held back until an administrator verifies them.
func (i *Identity) CanAcceptJobs() bool {
	return i != nil && i.Role == RoleWorker && i.Verified
}
