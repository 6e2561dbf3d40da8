package rbac

// Role names. Keep these stable; they are part of auth contracts.
const (
	// RoleClient is the caller-eligible party (the person seeking counsel).
	RoleClient = "client"
	// RoleCounselor is the callee-eligible party.
	RoleCounselor = "counselor"
	// RoleAdmin is for internal operations surfaces only.
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsKnown reports whether role is one of the roles this service issues.
func IsKnown(role string) bool {
	switch role {
	case RoleClient, RoleCounselor, RoleAdmin:
		return true
	default:
		return false
	}
}

// CalleeEligible reports whether identities with this role may be rung.
// Both parties of a call can receive calls; admin accounts cannot.
func CalleeEligible(role string) bool {
	return role == RoleClient || role == RoleCounselor
}
