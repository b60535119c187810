package team

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository/memory"
	"github.com/pagestack/platform/internal/service/lifecycle"
	"github.com/pagestack/platform/pkg/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(store *memory.TeamStore) Service {
	publisher := lifecycle.NewPublisher("", "", time.Second, newLogger())
	return New(store, publisher, nil, newLogger(), config.TeamsConfig{
		MaxTeamsPerUser:   5,
		MaxMembersPerTeam: 10,
	})
}

// seedTeam creates a team owned by ownerID and adds the given members.
func seedTeam(t *testing.T, svc Service, ownerID string, roles map[string]domain.Role) *domain.Team {
	t.Helper()
	team, err := svc.Create(context.Background(), ownerID, "Test Team")
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	for userID, role := range roles {
		if _, err := svc.AddMember(context.Background(), ownerID, team.ID, userID, role); err != nil {
			t.Fatalf("add member %s: %v", userID, err)
		}
	}
	return team
}

func TestCreateAssignsCreatorAsOwner(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)

	team, err := svc.Create(context.Background(), "alice", "Alice's Team")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if team.Slug == "" {
		t.Fatalf("expected random slug")
	}
	member, err := store.GetMember(context.Background(), team.ID, "alice")
	if err != nil {
		t.Fatalf("owner membership missing: %v", err)
	}
	if member.Role != domain.RoleOwner {
		t.Fatalf("creator role = %s, want owner", member.Role)
	}
}

func TestCreateEnforcesTeamQuota(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Create(ctx, "alice", fmt.Sprintf("Team %d", i)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := svc.Create(ctx, "alice", "One Too Many"); !errors.Is(err, ErrTeamQuota) {
		t.Fatalf("expected ErrTeamQuota, got %v", err)
	}
}

func TestNonMemberHasNoPermissions(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", nil)

	if _, err := svc.Update(ctx, "stranger", team.ID, "Hijacked"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("update: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.Delete(ctx, "stranger", team.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("delete: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := svc.ListMembers(ctx, "stranger", team.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("list: expected ErrPermissionDenied, got %v", err)
	}
}

func TestDeleteRequiresOwner(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{"bob": domain.RoleAdmin})

	if err := svc.Delete(ctx, "bob", team.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin delete: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.Delete(ctx, "alice", team.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if store.TeamExists(team.ID) {
		t.Fatalf("team should be gone")
	}
}

func TestAddMemberRules(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{
		"bob":  domain.RoleAdmin,
		"carl": domain.RoleMember,
	})

	// member cannot add
	if _, err := svc.AddMember(ctx, "carl", team.ID, "dora", domain.RoleViewer); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member add: expected ErrPermissionDenied, got %v", err)
	}
	// admin can add members and viewers
	if _, err := svc.AddMember(ctx, "bob", team.ID, "dora", domain.RoleViewer); err != nil {
		t.Fatalf("admin add viewer: %v", err)
	}
	// admin may not mint an owner
	if _, err := svc.AddMember(ctx, "bob", team.ID, "erin", domain.RoleOwner); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin add owner: expected ErrPermissionDenied, got %v", err)
	}
	// owner may
	if _, err := svc.AddMember(ctx, "alice", team.ID, "erin", domain.RoleOwner); err != nil {
		t.Fatalf("owner add owner: %v", err)
	}
	// duplicates rejected
	if _, err := svc.AddMember(ctx, "alice", team.ID, "bob", domain.RoleMember); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("duplicate: expected ErrAlreadyMember, got %v", err)
	}
	// unknown role rejected
	if _, err := svc.AddMember(ctx, "alice", team.ID, "fred", domain.Role("root")); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad role: expected ErrValidation, got %v", err)
	}
}

func TestAddMemberEnforcesMemberQuota(t *testing.T) {
	store := memory.NewTeamStore()
	publisher := lifecycle.NewPublisher("", "", time.Second, newLogger())
	svc := New(store, publisher, nil, newLogger(), config.TeamsConfig{MaxTeamsPerUser: 5, MaxMembersPerTeam: 3})
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{"bob": domain.RoleMember, "carl": domain.RoleMember})

	if _, err := svc.AddMember(ctx, "alice", team.ID, "dora", domain.RoleMember); !errors.Is(err, ErrMemberQuota) {
		t.Fatalf("expected ErrMemberQuota, got %v", err)
	}
}

func TestAdminCannotTouchOwnerOrAdminRows(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{
		"bob":  domain.RoleAdmin,
		"carl": domain.RoleAdmin,
		"dora": domain.RoleMember,
		"erin": domain.RoleViewer,
	})

	// admin vs owner/admin rows
	if err := svc.UpdateMemberRole(ctx, "bob", team.ID, "alice", domain.RoleMember); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin demote owner: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.UpdateMemberRole(ctx, "bob", team.ID, "carl", domain.RoleMember); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin demote admin: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.RemoveMember(ctx, "bob", team.ID, "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin remove owner: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.RemoveMember(ctx, "bob", team.ID, "carl"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin remove admin: expected ErrPermissionDenied, got %v", err)
	}
	// admin may not promote a member into the admin/owner tier either
	if err := svc.UpdateMemberRole(ctx, "bob", team.ID, "dora", domain.RoleAdmin); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin promote to admin: expected ErrPermissionDenied, got %v", err)
	}
	// the same actor succeeds against member/viewer rows
	if err := svc.UpdateMemberRole(ctx, "bob", team.ID, "dora", domain.RoleViewer); err != nil {
		t.Fatalf("admin viewer swap: %v", err)
	}
	if err := svc.RemoveMember(ctx, "bob", team.ID, "erin"); err != nil {
		t.Fatalf("admin remove viewer: %v", err)
	}
	// members and viewers can mutate nothing
	if err := svc.UpdateMemberRole(ctx, "dora", team.ID, "erin", domain.RoleMember); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("member mutate: expected ErrPermissionDenied, got %v", err)
	}
}

func TestLastOwnerCannotBeDemotedOrRemoved(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{"bob": domain.RoleMember})

	if err := svc.UpdateMemberRole(ctx, "alice", team.ID, "alice", domain.RoleMember); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("demote last owner: expected ErrLastOwner, got %v", err)
	}
	if err := svc.RemoveMember(ctx, "alice", team.ID, "alice"); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("self-remove last owner: expected ErrLastOwner, got %v", err)
	}
	if store.OwnerCount(team.ID) != 1 {
		t.Fatalf("owner invariant violated")
	}

	// once a second owner exists the same operations succeed
	if err := svc.UpdateMemberRole(ctx, "alice", team.ID, "bob", domain.RoleOwner); err != nil {
		t.Fatalf("promote second owner: %v", err)
	}
	if err := svc.UpdateMemberRole(ctx, "alice", team.ID, "alice", domain.RoleMember); err != nil {
		t.Fatalf("demote with second owner present: %v", err)
	}
	if store.OwnerCount(team.ID) != 1 {
		t.Fatalf("expected exactly one owner after demotion")
	}
}

func TestTwoOwnersRemoveEachOther(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{"bob": domain.RoleOwner})

	// B removes A: fine, B remains owner
	if err := svc.RemoveMember(ctx, "bob", team.ID, "alice"); err != nil {
		t.Fatalf("remove co-owner: %v", err)
	}
	if store.OwnerCount(team.ID) != 1 {
		t.Fatalf("expected one owner left")
	}
	// B removing itself as sole owner must be rejected
	if err := svc.RemoveMember(ctx, "bob", team.ID, "bob"); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}
}

func TestSelfRemovalAllowedForNonOwners(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	team := seedTeam(t, svc, "alice", map[string]domain.Role{"erin": domain.RoleViewer})

	// viewers cannot remove others but may leave
	if err := svc.RemoveMember(ctx, "erin", team.ID, "alice"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("viewer remove other: expected ErrPermissionDenied, got %v", err)
	}
	if err := svc.RemoveMember(ctx, "erin", team.ID, "erin"); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if store.MemberCount(team.ID) != 1 {
		t.Fatalf("expected one member remaining")
	}
}

func TestListMembersIncludesMirroredUserInfo(t *testing.T) {
	store := memory.NewTeamStore()
	svc := newService(store)
	ctx := context.Background()
	_ = store.UpsertTeamUser(ctx, &domain.TeamUser{ID: "alice", Email: "alice@example.com", Name: "Alice"})
	team := seedTeam(t, svc, "alice", nil)

	members, err := svc.ListMembers(ctx, "alice", team.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 1 || members[0].Email != "alice@example.com" || members[0].UserName != "Alice" {
		t.Fatalf("unexpected roster: %+v", members)
	}
}
