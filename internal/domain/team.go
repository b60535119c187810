package domain

import "time"

// Team is a collaborative group owned by the teams module.
type Team struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TeamMember links a user to a team with a role. (TeamID, UserID) is unique.
type TeamMember struct {
	ID        string
	TeamID    string
	UserID    string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TeamUser is the denormalized user copy the teams module keeps in sync from
// auth lifecycle events so member listings need no cross-module call.
type TeamUser struct {
	ID        string
	Email     string
	Name      string
	UpdatedAt time.Time
}

// MemberInfo is a membership row joined with the mirrored user record.
type MemberInfo struct {
	TeamMember
	Email    string
	UserName string
}
