package domain

import "time"

// Role enumerates actor roles.
type Role string

const (
	RoleCitizen    Role = "CITIZEN"
	RoleOfficer    Role = "OFFICER"
	RoleSupervisor Role = "SUPERVISOR"
	RoleAdmin      Role = "ADMIN"
)

// AllRoles lists every role from least to most privileged.
var AllRoles = []Role{RoleCitizen, RoleOfficer, RoleSupervisor, RoleAdmin}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleSupervisor, RoleAdmin:
		return true
	}
	return false
}

// Staff reports whether the role belongs to municipal staff.
func (r Role) Staff() bool {
	return r == RoleOfficer || r == RoleSupervisor || r == RoleAdmin
}

// User is an account able to report issues or work on them.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	WardID       *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role Role
}
