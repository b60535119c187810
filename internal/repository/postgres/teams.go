package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/pagestack/platform/internal/domain"
	"github.com/pagestack/platform/internal/repository"
)

// CreateTeam creates a team record.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO teams (id, name, slug, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.Slug, team.CreatedAt, team.UpdatedAt)
	return mapError(err)
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	const query = `SELECT id, name, slug, created_at, updated_at FROM teams WHERE id = $1`
	var team domain.Team
	err := r.pool.QueryRow(ctx, query, teamID).Scan(&team.ID, &team.Name, &team.Slug, &team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &team, nil
}

// UpdateTeam persists team name changes.
func (r *Repository) UpdateTeam(ctx context.Context, team *domain.Team) error {
	const query = `UPDATE teams SET name = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTeam removes a team. Memberships cascade at the schema level.
func (r *Repository) DeleteTeam(ctx context.Context, teamID string) error {
	const query = `DELETE FROM teams WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListTeamsByUser returns teams the user belongs to.
func (r *Repository) ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error) {
	const query = `SELECT t.id, t.name, t.slug, t.created_at, t.updated_at
		FROM teams t JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = $1 ORDER BY t.created_at`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var teams []domain.Team
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Slug, &team.CreatedAt, &team.UpdatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// CountTeamsOwnedBy counts teams where the user holds the owner role.
func (r *Repository) CountTeamsOwnedBy(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(1) FROM team_members WHERE user_id = $1 AND role = 'owner'`
	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// AddMember inserts a membership row.
func (r *Repository) AddMember(ctx context.Context, member *domain.TeamMember) error {
	const query = `INSERT INTO team_members (id, team_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, member.ID, member.TeamID, member.UserID,
		member.Role, member.CreatedAt, member.UpdatedAt)
	return mapError(err)
}

// GetMember fetches a membership row.
func (r *Repository) GetMember(ctx context.Context, teamID, userID string) (*domain.TeamMember, error) {
	const query = `SELECT id, team_id, user_id, role, created_at, updated_at
		FROM team_members WHERE team_id = $1 AND user_id = $2`
	var m domain.TeamMember
	err := r.pool.QueryRow(ctx, query, teamID, userID).Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers returns membership rows joined with mirrored user info.
func (r *Repository) ListMembers(ctx context.Context, teamID string) ([]domain.MemberInfo, error) {
	const query = `SELECT m.id, m.team_id, m.user_id, m.role, m.created_at, m.updated_at,
			COALESCE(u.email, ''), COALESCE(u.name, '')
		FROM team_members m LEFT JOIN team_users u ON u.id = m.user_id
		WHERE m.team_id = $1 ORDER BY m.created_at`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.MemberInfo
	for rows.Next() {
		var info domain.MemberInfo
		if err := rows.Scan(&info.ID, &info.TeamID, &info.UserID, &info.Role,
			&info.CreatedAt, &info.UpdatedAt, &info.Email, &info.UserName); err != nil {
			return nil, err
		}
		members = append(members, info)
	}
	return members, rows.Err()
}

// CountMembers counts membership rows for a team.
func (r *Repository) CountMembers(ctx context.Context, teamID string) (int, error) {
	const query = `SELECT COUNT(1) FROM team_members WHERE team_id = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, teamID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountOwners counts members holding the owner role.
func (r *Repository) CountOwners(ctx context.Context, teamID string) (int, error) {
	const query = `SELECT COUNT(1) FROM team_members WHERE team_id = $1 AND role = 'owner'`
	var count int
	if err := r.pool.QueryRow(ctx, query, teamID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateMemberRole changes a member's role without invariant checks.
func (r *Repository) UpdateMemberRole(ctx context.Context, teamID, userID string, role domain.Role) error {
	const query = `UPDATE team_members SET role = $3, updated_at = now()
		WHERE team_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, teamID, userID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateMemberRoleGuarded changes a role only while the team keeps at least
// one owner. The owner count is re-read inside the statement so two
// concurrent demotions cannot both pass.
func (r *Repository) UpdateMemberRoleGuarded(ctx context.Context, teamID, userID string, role domain.Role) (int64, error) {
	const query = `UPDATE team_members SET role = $3, updated_at = now()
		WHERE team_id = $1 AND user_id = $2
		AND (role <> 'owner' OR $3 = 'owner'
			OR (SELECT COUNT(1) FROM team_members WHERE team_id = $1 AND role = 'owner') > 1)`
	tag, err := r.pool.Exec(ctx, query, teamID, userID, role)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RemoveMember deletes a membership row without invariant checks.
func (r *Repository) RemoveMember(ctx context.Context, teamID, userID string) error {
	const query = `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, teamID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RemoveMemberGuarded deletes a membership row only while the team keeps at
// least one owner after the removal.
func (r *Repository) RemoveMemberGuarded(ctx context.Context, teamID, userID string) (int64, error) {
	const query = `DELETE FROM team_members WHERE team_id = $1 AND user_id = $2
		AND (role <> 'owner'
			OR (SELECT COUNT(1) FROM team_members WHERE team_id = $1 AND role = 'owner') > 1)`
	tag, err := r.pool.Exec(ctx, query, teamID, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// UpsertTeamUser refreshes the denormalized user copy.
func (r *Repository) UpsertTeamUser(ctx context.Context, user *domain.TeamUser) error {
	const query = `INSERT INTO team_users (id, email, name, updated_at)
		VALUES ($1, lower($2), $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.UpdatedAt)
	return err
}

// GetTeamUser fetches a mirrored user record.
func (r *Repository) GetTeamUser(ctx context.Context, id string) (*domain.TeamUser, error) {
	const query = `SELECT id, email, name, updated_at FROM team_users WHERE id = $1`
	var u domain.TeamUser
	if err := r.pool.QueryRow(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// DeleteTeamUser drops a mirrored user record.
func (r *Repository) DeleteTeamUser(ctx context.Context, id string) error {
	const query = `DELETE FROM team_users WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}
