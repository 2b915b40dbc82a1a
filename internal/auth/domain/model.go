package domain

import "strings"

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleClient:
		return RoleClient, true
	case RoleProfessional:
		return RoleProfessional, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	SubjectID string
	Role      Role
	Email     string
	Name      string
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}
