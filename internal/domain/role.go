package domain

import "strings"

// Role is an ordered room role. Compare levels, never positions.
type Role int

const (
	RoleListener  Role = 0
	RoleMember    Role = 10
	RoleModerator Role = 20
	RoleAdmin     Role = 30
	RoleOwner     Role = 40
)

func (r Role) String() string {
	switch {
	case r >= RoleOwner:
		return "owner"
	case r >= RoleAdmin:
		return "admin"
	case r >= RoleModerator:
		return "moderator"
	case r >= RoleMember:
		return "member"
	default:
		return "listener"
	}
}

// AtLeast reports whether r meets the threshold min.
func (r Role) AtLeast(min Role) bool { return r >= min }

// Outranks reports whether r is strictly above other.
func (r Role) Outranks(other Role) bool { return r > other }

func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "listener", "":
		return RoleListener, true
	case "member":
		return RoleMember, true
	case "moderator", "mod":
		return RoleModerator, true
	case "admin":
		return RoleAdmin, true
	case "owner":
		return RoleOwner, true
	}
	return RoleListener, false
}
