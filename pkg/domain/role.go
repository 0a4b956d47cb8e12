package domain

// Role identifies a pipeline step. The set is extensible; these are the
// built-in roles of the default pipeline.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleResearcher  Role = "researcher"
	RoleAnalyst     Role = "analyst"
	RoleWriter      Role = "writer"
	RoleBuilder     Role = "builder"
)

// AgentID returns the registry id of a built-in role, or 0 for unknown roles.
func (r Role) AgentID() uint64 {
	switch r {
	case RoleCoordinator:
		return 1
	case RoleResearcher:
		return 2
	case RoleAnalyst:
		return 3
	case RoleWriter:
		return 4
	case RoleBuilder:
		return 5
	default:
		return 0
	}
}

// Valid reports whether the role is one of the built-in roles.
func (r Role) Valid() bool {
	return r.AgentID() != 0
}

// PricedRole binds a role to its per-task price for one run.
type PricedRole struct {
	Role  Role   `json:"role"`
	Price uint64 `json:"price"`
}

// DefaultPipeline returns the built-in role ordering used when the caller
// does not supply an explicit sequence.
func DefaultPipeline() []Role {
	return []Role{RoleResearcher, RoleAnalyst, RoleWriter, RoleBuilder}
}
