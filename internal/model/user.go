package model

type Role string

const (
	RoleCitizen Role = "citizen"
	RolePatrol  Role = "patrol"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated actor a client session acts as.
type Identity struct {
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

func (i Identity) CanPatrol() bool {
	return i.Role == RolePatrol || i.Role == RoleAdmin
}
