// Package memory holds in-memory repository implementations used by tests
// and local development. The guarded writes mirror the semantics of the SQL
// statements in the postgres package.
package memory

import (
	"context"
	"sync"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
)

// TeamStore is an in-memory repository.TeamRepository.
type TeamStore struct {
	mu      sync.Mutex
	teams   map[string]*domain.Team
	members map[string]map[string]*domain.TeamMember // teamID -> userID
	users   map[string]*domain.TeamUser
}

var _ repository.TeamRepository = (*TeamStore)(nil)

// NewTeamStore returns an empty TeamStore.
func NewTeamStore() *TeamStore {
	return &TeamStore{
		teams:   make(map[string]*domain.Team),
		members: make(map[string]map[string]*domain.TeamMember),
		users:   make(map[string]*domain.TeamUser),
	}
}

func (m *TeamStore) CreateTeam(_ context.Context, team *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *team
	m.teams[team.ID] = &clone
	m.members[team.ID] = make(map[string]*domain.TeamMember)
	return nil
}

func (m *TeamStore) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

func (m *TeamStore) UpdateTeam(_ context.Context, team *domain.Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[team.ID]
	if !ok {
		return repository.ErrNotFound
	}
	t.Name = team.Name
	t.UpdatedAt = team.UpdatedAt
	return nil
}

func (m *TeamStore) DeleteTeam(_ context.Context, teamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.teams, teamID)
	delete(m.members, teamID)
	return nil
}

func (m *TeamStore) ListTeamsByUser(_ context.Context, userID string) ([]domain.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var teams []domain.Team
	for teamID, members := range m.members {
		if _, ok := members[userID]; ok {
			teams = append(teams, *m.teams[teamID])
		}
	}
	return teams, nil
}

func (m *TeamStore) CountTeamsOwnedBy(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, members := range m.members {
		if member, ok := members[userID]; ok && member.Role == domain.RoleOwner {
			count++
		}
	}
	return count, nil
}

func (m *TeamStore) AddMember(_ context.Context, member *domain.TeamMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.members[member.TeamID]
	if !ok {
		members = make(map[string]*domain.TeamMember)
		m.members[member.TeamID] = members
	}
	if _, exists := members[member.UserID]; exists {
		return repository.ErrConflict
	}
	clone := *member
	members[member.UserID] = &clone
	return nil
}

func (m *TeamStore) GetMember(_ context.Context, teamID, userID string) (*domain.TeamMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[teamID][userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *member
	return &clone, nil
}

func (m *TeamStore) ListMembers(_ context.Context, teamID string) ([]domain.MemberInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []domain.MemberInfo
	for _, member := range m.members[teamID] {
		info := domain.MemberInfo{TeamMember: *member}
		if u, ok := m.users[member.UserID]; ok {
			info.Email = u.Email
			info.UserName = u.Name
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (m *TeamStore) CountMembers(_ context.Context, teamID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[teamID]), nil
}

func (m *TeamStore) CountOwners(_ context.Context, teamID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countOwnersLocked(teamID), nil
}

func (m *TeamStore) countOwnersLocked(teamID string) int {
	count := 0
	for _, member := range m.members[teamID] {
		if member.Role == domain.RoleOwner {
			count++
		}
	}
	return count
}

func (m *TeamStore) UpdateMemberRole(_ context.Context, teamID, userID string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[teamID][userID]
	if !ok {
		return repository.ErrNotFound
	}
	member.Role = role
	return nil
}

func (m *TeamStore) UpdateMemberRoleGuarded(_ context.Context, teamID, userID string, role domain.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[teamID][userID]
	if !ok {
		return 0, nil
	}
	if member.Role == domain.RoleOwner && role != domain.RoleOwner && m.countOwnersLocked(teamID) <= 1 {
		return 0, nil
	}
	member.Role = role
	return 1, nil
}

func (m *TeamStore) RemoveMember(_ context.Context, teamID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[teamID][userID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.members[teamID], userID)
	return nil
}

func (m *TeamStore) RemoveMemberGuarded(_ context.Context, teamID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[teamID][userID]
	if !ok {
		return 0, nil
	}
	if member.Role == domain.RoleOwner && m.countOwnersLocked(teamID) <= 1 {
		return 0, nil
	}
	delete(m.members[teamID], userID)
	return 1, nil
}

func (m *TeamStore) UpsertTeamUser(_ context.Context, user *domain.TeamUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *user
	m.users[user.ID] = &clone
	return nil
}

func (m *TeamStore) GetTeamUser(_ context.Context, id string) (*domain.TeamUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *TeamStore) DeleteTeamUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

// OwnerCount reports the number of owner rows a team holds.
func (m *TeamStore) OwnerCount(teamID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countOwnersLocked(teamID)
}

// MemberCount reports the number of membership rows a team holds.
func (m *TeamStore) MemberCount(teamID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[teamID])
}

// TeamExists reports whether a team row is present.
func (m *TeamStore) TeamExists(teamID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.teams[teamID]
	return ok
}
