package models

// Role constants for organization membership.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)
