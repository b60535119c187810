package repository

import (
	"context"
	"time"

	"github.com/pagestack/platform/internal/domain"
)

// UserRepository persists auth-module users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByActivationToken(ctx context.Context, token string) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	DeleteUser(ctx context.Context, id string) error
	// RecordFailedLogin atomically increments the failed-attempt counter and
	// sets locked_at once the counter reaches threshold. It reports the new
	// counter value and whether the account is now locked.
	RecordFailedLogin(ctx context.Context, id string, threshold int) (int, bool, error)
	ResetFailedLogins(ctx context.Context, id string) error
	UnlockUser(ctx context.Context, id string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsByUser(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// TeamRepository manages teams, memberships and the mirrored user records.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	UpdateTeam(ctx context.Context, team *domain.Team) error
	DeleteTeam(ctx context.Context, teamID string) error
	ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error)
	CountTeamsOwnedBy(ctx context.Context, userID string) (int, error)

	AddMember(ctx context.Context, member *domain.TeamMember) error
	GetMember(ctx context.Context, teamID, userID string) (*domain.TeamMember, error)
	ListMembers(ctx context.Context, teamID string) ([]domain.MemberInfo, error)
	CountMembers(ctx context.Context, teamID string) (int, error)
	CountOwners(ctx context.Context, teamID string) (int, error)
	UpdateMemberRole(ctx context.Context, teamID, userID string, role domain.Role) error
	// UpdateMemberRoleGuarded demotes a row only while at least one other
	// owner remains; it reports the number of rows changed.
	UpdateMemberRoleGuarded(ctx context.Context, teamID, userID string, role domain.Role) (int64, error)
	RemoveMember(ctx context.Context, teamID, userID string) error
	// RemoveMemberGuarded deletes a row only while at least one other owner
	// remains; it reports the number of rows deleted.
	RemoveMemberGuarded(ctx context.Context, teamID, userID string) (int64, error)

	UpsertTeamUser(ctx context.Context, user *domain.TeamUser) error
	GetTeamUser(ctx context.Context, id string) (*domain.TeamUser, error)
	DeleteTeamUser(ctx context.Context, id string) error
}
