package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOperator    = "operator"
	RoleSupervisor  = "supervisor"
	RoleAdmin       = "admin"
	RoleIntegration = "integration" // billing, compliance and gateway callers
)

func IsAdmin(role string) bool { return role == RoleAdmin }
