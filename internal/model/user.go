package model

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleRep     Role = "rep"
)

// User is the slice of the CRM user record the goal subsystem needs:
// identity for ownership checks and audit attribution, role for authorization.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// IsManager reports whether the user may act on goals they do not own.
func (u *User) IsManager() bool { return u.Role == RoleAdmin || u.Role == RoleManager }
