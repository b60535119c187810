package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
	"github.com/pagestack/platform/internal/service/team"
	"github.com/pagestack/platform/pkg/event"
)

// ErrUnknownEvent indicates an envelope naming no handled lifecycle event.
var ErrUnknownEvent = errors.New("unknown lifecycle event")

// errMissingUser indicates an envelope without its user payload.
var errMissingUser = errors.New("lifecycle event missing user payload")

// Reconciler reacts to auth lifecycle events. Delivery carries no event ID
// and may repeat or arrive out of order, so every handler re-derives state
// from the store instead of assuming exactly-once semantics.
type Reconciler struct {
	repo   repository.TeamRepository
	teams  team.Service
	logger *slog.Logger
}

// New constructs a Reconciler.
func New(repo repository.TeamRepository, teams team.Service, logger *slog.Logger) Reconciler {
	return Reconciler{repo: repo, teams: teams, logger: logger}
}

// Handle dispatches an inbound lifecycle envelope.
func (r Reconciler) Handle(ctx context.Context, env event.Envelope) error {
	switch env.Event {
	case event.UserCreated:
		return r.handleUserCreated(ctx, env)
	case event.UserUpdated:
		return r.handleUserUpdated(ctx, env)
	case event.UserDeleted:
		return r.handleUserDeleted(ctx, env)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// handleUserCreated provisions the user's initial team. Duplicate deliveries
// find the team already in place and do nothing.
func (r Reconciler) handleUserCreated(ctx context.Context, env event.Envelope) error {
	if env.User == nil {
		return errMissingUser
	}
	if err := r.upsertMirror(ctx, env.User); err != nil {
		return err
	}
	existing, err := r.repo.ListTeamsByUser(ctx, env.User.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		r.logger.Info("user already has a team, skipping provisioning", "user_id", env.User.ID)
		return nil
	}
	created, err := r.teams.Create(ctx, env.User.ID, defaultTeamName(env.User))
	if err != nil {
		return err
	}
	r.logger.Info("initial team provisioned", "user_id", env.User.ID, "team_id", created.ID)
	return nil
}

// handleUserUpdated resyncs the denormalized user copy.
func (r Reconciler) handleUserUpdated(ctx context.Context, env event.Envelope) error {
	if env.User == nil {
		return errMissingUser
	}
	return r.upsertMirror(ctx, env.User)
}

// handleUserDeleted retires the user from every team independently: one
// team's failure is logged and does not block the rest.
func (r Reconciler) handleUserDeleted(ctx context.Context, env event.Envelope) error {
	if env.User == nil {
		return errMissingUser
	}
	userID := env.User.ID
	teams, err := r.repo.ListTeamsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, t := range teams {
		if err := r.retireFromTeam(ctx, t.ID, userID); err != nil {
			r.logger.Error("failed to retire user from team",
				"team_id", t.ID, "user_id", userID, "error", err)
			continue
		}
		r.logger.Info("user retired from team", "team_id", t.ID, "user_id", userID)
	}
	if err := r.repo.DeleteTeamUser(ctx, userID); err != nil {
		r.logger.Error("failed to delete mirrored user", "user_id", userID, "error", err)
	}
	return nil
}

// retireFromTeam removes one membership while preserving the last-owner
// invariant: promote a successor first, or delete the team when none exists.
func (r Reconciler) retireFromTeam(ctx context.Context, teamID, userID string) error {
	member, err := r.repo.GetMember(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// a duplicate delivery already removed the row
			return nil
		}
		return err
	}
	if member.Role != domain.RoleOwner {
		if err := r.repo.RemoveMember(ctx, teamID, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		return nil
	}

	members, err := r.repo.ListMembers(ctx, teamID)
	if err != nil {
		return err
	}
	if countOtherOwners(members, userID) > 0 {
		rows, err := r.repo.RemoveMemberGuarded(ctx, teamID, userID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return team.ErrLastOwner
		}
		return nil
	}

	successor := pickSuccessor(members, userID)
	if successor == "" {
		// no promotable member remains; an ownerless team must not survive
		if err := r.repo.DeleteTeam(ctx, teamID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		r.logger.Info("team deleted with departing sole owner", "team_id", teamID)
		return nil
	}

	// ordered so the team never transiently has zero owners
	if err := r.repo.UpdateMemberRole(ctx, teamID, successor, domain.RoleOwner); err != nil {
		return err
	}
	rows, err := r.repo.UpdateMemberRoleGuarded(ctx, teamID, userID, domain.RoleMember)
	if err != nil {
		return err
	}
	if rows == 0 {
		return team.ErrLastOwner
	}
	if err := r.repo.RemoveMember(ctx, teamID, userID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	r.logger.Info("ownership transferred", "team_id", teamID, "from", userID, "to", successor)
	return nil
}

func (r Reconciler) upsertMirror(ctx context.Context, user *event.UserPayload) error {
	return r.repo.UpsertTeamUser(ctx, &domain.TeamUser{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		UpdatedAt: time.Now().UTC(),
	})
}

// pickSuccessor prefers an admin, then a member. Viewers are never promoted.
func pickSuccessor(members []domain.MemberInfo, departingID string) string {
	var memberCandidate string
	for _, m := range members {
		if m.UserID == departingID {
			continue
		}
		switch m.Role {
		case domain.RoleAdmin:
			return m.UserID
		case domain.RoleMember:
			if memberCandidate == "" {
				memberCandidate = m.UserID
			}
		}
	}
	return memberCandidate
}

func countOtherOwners(members []domain.MemberInfo, departingID string) int {
	count := 0
	for _, m := range members {
		if m.UserID != departingID && m.Role == domain.RoleOwner {
			count++
		}
	}
	return count
}

// defaultTeamName derives the provisioned team's name from the user record.
func defaultTeamName(user *event.UserPayload) string {
	name := strings.TrimSpace(user.Name)
	if name == "" {
		if at := strings.IndexByte(user.Email, '@'); at > 0 {
			name = user.Email[:at]
		} else {
			name = user.Email
		}
	}
	if name == "" {
		name = "New"
	}
	return name + "'s Team"
}
