package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	var lastSync sql.NullTime
	if err := row.Scan(&m.ProjectID, &m.UserID, &m.Role, &lastSync, &m.CreatedAt); err != nil {
		return Member{}, err
	}
	m.LastSyncAt = timePtr(lastSync)
	return m, nil
}

func (s *SQLStore) GetMember(ctx context.Context, projectID, userID string) (Member, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT project_id, user_id, role, last_sync_at, created_at
		FROM project_members WHERE project_id = $1 AND user_id = $2
	`), projectID, userID)
	member, err := scanMember(row)
	if err != nil {
		return Member{}, notFound(err)
	}
	return member, nil
}

func (s *SQLStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT project_id, user_id, role, last_sync_at, created_at
		FROM project_members WHERE project_id = $1
		ORDER BY created_at, user_id
	`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// AddMember inserts the membership unless one already exists; created
// reports which happened.
func (s *SQLStore) AddMember(ctx context.Context, member Member) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO project_members (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`), member.ProjectID, member.UserID, member.Role, utc(member.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert member rows affected: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) UpdateMemberRole(ctx context.Context, projectID, userID, role string) error {
	return s.execOne(ctx, "update member role", `
		UPDATE project_members SET role = $3 WHERE project_id = $1 AND user_id = $2
	`, projectID, userID, role)
}

func (s *SQLStore) RemoveMember(ctx context.Context, projectID, userID string) error {
	return s.execOne(ctx, "remove member", `
		DELETE FROM project_members WHERE project_id = $1 AND user_id = $2
	`, projectID, userID)
}

// TouchMemberSync records the time of the user's latest push or pull. Owners
// without a membership row are left alone.
func (s *SQLStore) TouchMemberSync(ctx context.Context, projectID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE project_members SET last_sync_at = $3 WHERE project_id = $1 AND user_id = $2
	`), projectID, userID, utc(at))
	if err != nil {
		return fmt.Errorf("touch member sync: %w", err)
	}
	return nil
}

func (s *SQLStore) execOne(ctx context.Context, what, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
