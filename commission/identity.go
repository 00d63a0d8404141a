package commission

// =============================================================================
// IDENTITY CONTEXT - Authenticated actor supplied by the auth collaborator
// =============================================================================

// Role is the coarse authorization role attached to an actor.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleVendor   Role = "VENDOR"
	RoleMechanic Role = "MECHANIC"
)

// Actor is the identity context the core trusts. Authentication itself
// is external; the core only enforces role checks: vendors record
// transactions for themselves, admins create and pay settlements,
// mechanics create orders.
type Actor struct {
	ID   int64
	Role Role
}

// Require returns nil when the actor holds one of the allowed roles,
// and a ForbiddenError otherwise.
func (a Actor) Require(op string, roles ...Role) error {
	for _, r := range roles {
		if a.Role == r {
			return nil
		}
	}
	return &ForbiddenError{Role: a.Role, Op: op}
}

// Is reports whether the actor holds the given role.
func (a Actor) Is(r Role) bool { return a.Role == r }
