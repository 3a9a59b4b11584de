package models

import "strings"

// Role is the authorization role of a principal.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole maps a claim value to a Role. Anything that is not ADMIN is a
// plain user.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleAdmin)) {
		return RoleAdmin
	}
	return RoleUser
}

// Principal is an authenticated actor (mapped from token claims)
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
