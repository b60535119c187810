package team

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/internal/ws"
	"github.com/pagestack/platform/pkg/config"
	"github.com/pagestack/platform/pkg/event"
)

var (
	// ErrPermissionDenied indicates the actor's role does not allow the
	// operation. Non-members have no permissions at all.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrLastOwner guards the invariant that a team keeps at least one owner.
	ErrLastOwner = errors.New("operation would leave team without an owner")
	// ErrTeamQuota indicates the per-user team cap was reached.
	ErrTeamQuota = errors.New("team quota exceeded")
	// ErrMemberQuota indicates the per-team member cap was reached.
	ErrMemberQuota = errors.New("team member quota exceeded")
	// ErrAlreadyMember indicates a duplicate (team, user) membership.
	ErrAlreadyMember = errors.New("user is already a team member")
	// ErrValidation marks malformed input; concrete causes wrap it.
	ErrValidation = errors.New("invalid input")

	errNameRequired = fmt.Errorf("%w: team name is required", ErrValidation)
	errUnknownRole  = fmt.Errorf("%w: unknown role", ErrValidation)
)

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Service enforces the role hierarchy and ownership invariants for every
// mutating team operation. Each check-then-act sequence is evaluated against
// one consistent read, and the last-owner invariant is re-validated inside
// the final SQL statement so concurrent mutations cannot both slip through.
type Service struct {
	repo      repository.TeamRepository
	publisher *lifecycle.Publisher
	hub       *ws.Hub
	logger    *slog.Logger
	cfg       config.TeamsConfig
}

// New constructs a Service. hub may be nil when no activity stream is wired.
func New(repo repository.TeamRepository, publisher *lifecycle.Publisher, hub *ws.Hub, logger *slog.Logger, cfg config.TeamsConfig) Service {
	if cfg.MaxTeamsPerUser <= 0 {
		cfg.MaxTeamsPerUser = 5
	}
	if cfg.MaxMembersPerTeam <= 0 {
		cfg.MaxMembersPerTeam = 10
	}
	return Service{repo: repo, publisher: publisher, hub: hub, logger: logger, cfg: cfg}
}

// Create registers a team with the creator as sole owner.
func (s Service) Create(ctx context.Context, actorID, name string) (*domain.Team, error) {
	if name == "" {
		return nil, errNameRequired
	}
	owned, err := s.repo.CountTeamsOwnedBy(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if owned >= s.cfg.MaxTeamsPerUser {
		return nil, ErrTeamQuota
	}
	now := time.Now().UTC()
	team := &domain.Team{
		ID:        uuid.NewString(),
		Name:      name,
		Slug:      newSlug(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTeam(ctx, team); err != nil {
		return nil, err
	}
	member := &domain.TeamMember{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		UserID:    actorID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "owner_id", actorID)
	s.publisher.PublishTeam(ctx, event.TeamCreated, event.TeamPayload{
		ID:      team.ID,
		Name:    team.Name,
		Slug:    team.Slug,
		OwnerID: actorID,
	})
	s.notify(team.ID, activity{Type: "team.created", TeamID: team.ID, UserID: actorID})
	return team, nil
}

// Get returns a team; any member may read it.
func (s Service) Get(ctx context.Context, actorID, teamID string) (*domain.Team, error) {
	if _, err := s.resolveRole(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return s.repo.GetTeamByID(ctx, teamID)
}

// ListForUser returns teams the user belongs to.
func (s Service) ListForUser(ctx context.Context, userID string) ([]domain.Team, error) {
	return s.repo.ListTeamsByUser(ctx, userID)
}

// Update renames a team. Owners and admins may update.
func (s Service) Update(ctx context.Context, actorID, teamID, name string) (*domain.Team, error) {
	if name == "" {
		return nil, errNameRequired
	}
	role, err := s.resolveRole(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !roleAllowed(actionUpdateTeam, role) {
		return nil, ErrPermissionDenied
	}
	team, err := s.repo.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	team.Name = name
	team.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateTeam(ctx, team); err != nil {
		return nil, err
	}
	s.notify(teamID, activity{Type: "team.updated", TeamID: teamID, UserID: actorID})
	return team, nil
}

// Delete removes a team and its memberships. Owners only.
func (s Service) Delete(ctx context.Context, actorID, teamID string) error {
	role, err := s.resolveRole(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if !roleAllowed(actionDeleteTeam, role) {
		return ErrPermissionDenied
	}
	if err := s.repo.DeleteTeam(ctx, teamID); err != nil {
		return err
	}
	s.logger.Info("team deleted", "team_id", teamID, "actor_id", actorID)
	s.notify(teamID, activity{Type: "team.deleted", TeamID: teamID, UserID: actorID})
	return nil
}

// AddMember adds a user to a team. Owners and admins may add; only an owner
// may mint another owner.
func (s Service) AddMember(ctx context.Context, actorID, teamID, userID string, role domain.Role) (*domain.TeamMember, error) {
	if !role.Valid() {
		return nil, errUnknownRole
	}
	actorRole, err := s.resolveRole(ctx, teamID, actorID)
	if err != nil {
		return nil, err
	}
	if !roleAllowed(actionAddMember, actorRole) {
		return nil, ErrPermissionDenied
	}
	if role == domain.RoleOwner && actorRole != domain.RoleOwner {
		return nil, ErrPermissionDenied
	}
	count, err := s.repo.CountMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxMembersPerTeam {
		return nil, ErrMemberQuota
	}
	now := time.Now().UTC()
	member := &domain.TeamMember{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		UserID:    userID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.AddMember(ctx, member); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyMember
		}
		return nil, err
	}
	s.logger.Info("member added", "team_id", teamID, "user_id", userID, "role", role)
	s.notify(teamID, activity{Type: "member.added", TeamID: teamID, UserID: userID, Role: role})
	return member, nil
}

// UpdateMemberRole changes a member's role. Owners may change anyone but may
// never demote the last owner; admins may only move members and viewers
// between the member and viewer roles.
func (s Service) UpdateMemberRole(ctx context.Context, actorID, teamID, userID string, role domain.Role) error {
	if !role.Valid() {
		return errUnknownRole
	}
	actorRole, err := s.resolveRole(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	if !roleAllowed(actionUpdateMember, actorRole) {
		return ErrPermissionDenied
	}
	target, err := s.repo.GetMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if !canManage(actorRole, target.Role) || !canManage(actorRole, role) {
		return ErrPermissionDenied
	}
	rows, err := s.repo.UpdateMemberRoleGuarded(ctx, teamID, userID, role)
	if err != nil {
		return err
	}
	if rows == 0 {
		// the row existed on our consistent read, so the guard tripped
		return ErrLastOwner
	}
	s.logger.Info("member role changed", "team_id", teamID, "user_id", userID, "role", role, "actor_id", actorID)
	s.notify(teamID, activity{Type: "member.role_changed", TeamID: teamID, UserID: userID, Role: role})
	return nil
}

// RemoveMember removes a membership. Self-removal is always allowed unless
// the actor is the last owner; owners may remove anyone subject to the same
// rule; admins may remove only members and viewers.
func (s Service) RemoveMember(ctx context.Context, actorID, teamID, userID string) error {
	actorRole, err := s.resolveRole(ctx, teamID, actorID)
	if err != nil {
		return err
	}
	target, err := s.repo.GetMember(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if actorID != userID {
		if !roleAllowed(actionRemoveMember, actorRole) {
			return ErrPermissionDenied
		}
		if !canManage(actorRole, target.Role) {
			return ErrPermissionDenied
		}
	}
	rows, err := s.repo.RemoveMemberGuarded(ctx, teamID, userID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLastOwner
	}
	s.logger.Info("member removed", "team_id", teamID, "user_id", userID, "actor_id", actorID)
	s.notify(teamID, activity{Type: "member.removed", TeamID: teamID, UserID: userID})
	return nil
}

// ListMembers returns memberships joined with mirrored user info. Any member,
// including viewers, may read the roster.
func (s Service) ListMembers(ctx context.Context, actorID, teamID string) ([]domain.MemberInfo, error) {
	if _, err := s.resolveRole(ctx, teamID, actorID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, teamID)
}

// Membership resolves the actor's role without permission semantics; used by
// transport-level checks such as the activity stream.
func (s Service) Membership(ctx context.Context, teamID, userID string) (*domain.TeamMember, error) {
	return s.repo.GetMember(ctx, teamID, userID)
}

// resolveRole maps "not a member" onto ErrPermissionDenied: absence of
// membership grants no permissions and leaks no team existence.
func (s Service) resolveRole(ctx context.Context, teamID, actorID string) (domain.Role, error) {
	member, err := s.repo.GetMember(ctx, teamID, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrPermissionDenied
		}
		return "", err
	}
	return member.Role, nil
}

type activity struct {
	Type   string      `json:"type"`
	TeamID string      `json:"team_id"`
	UserID string      `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

func (s Service) notify(teamID string, act activity) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastJSON(teamID, act)
}

// newSlug returns a short random identifier that cannot be guessed from the
// team name.
func newSlug() string {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()[:10]
	}
	for i, b := range buf {
		buf[i] = slugAlphabet[int(b)%len(slugAlphabet)]
	}
	return string(buf)
}
