package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const projectColumns = `id, name, slug, description, owner_id, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreateProject inserts the project and makes its owner an ADMIN member.
// A taken slug yields ErrAlreadyExists.
func (s *SQLStore) CreateProject(ctx context.Context, project Project) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO projects (id, name, slug, description, owner_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`), project.ID, project.Name, project.Slug, project.Description, project.OwnerID, utc(project.CreatedAt), utc(project.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert project: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO project_members (project_id, user_id, role, created_at)
			VALUES ($1, $2, $3, $4)
		`), project.ID, project.OwnerID, RoleAdmin, utc(project.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+projectColumns+` FROM projects WHERE id = $1`), projectID)
	project, err := scanProject(row)
	if err != nil {
		return Project{}, notFound(err)
	}
	return project, nil
}

func (s *SQLStore) GetProjectBySlug(ctx context.Context, slug string) (Project, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+projectColumns+` FROM projects WHERE slug = $1`), slug)
	project, err := scanProject(row)
	if err != nil {
		return Project{}, notFound(err)
	}
	return project, nil
}

// ListProjectsForUser returns projects the user owns or is a member of,
// most recently updated first.
func (s *SQLStore) ListProjectsForUser(ctx context.Context, userID string) ([]ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT p.id, p.name, p.slug, p.description, p.owner_id, p.created_at, p.updated_at,
			COALESCE(m.role, ''),
			(SELECT COUNT(*) FROM synced_specs sp WHERE sp.project_id = p.id)
		FROM projects p
		LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $1
		WHERE p.owner_id = $1 OR m.user_id IS NOT NULL
		ORDER BY p.updated_at DESC, p.id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var items []ProjectSummary
	for rows.Next() {
		var item ProjectSummary
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt, &item.Role, &item.SpecCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		item.IsOwner = item.OwnerID == userID
		if item.IsOwner {
			item.Role = RoleAdmin
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLStore) UpdateProject(ctx context.Context, projectID, name, description string, at time.Time) (Project, error) {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE projects SET name = $2, description = $3, updated_at = $4
		WHERE id = $1
	`), projectID, name, description, utc(at))
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Project{}, fmt.Errorf("update project rows affected: %w", err)
	}
	if affected == 0 {
		return Project{}, ErrNotFound
	}
	return s.GetProject(ctx, projectID)
}

// DeleteProject removes the project; owned rows go with it through ON DELETE CASCADE.
func (s *SQLStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM projects WHERE id = $1`), projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ProjectStats(ctx context.Context, projectID string) (ProjectStats, error) {
	var stats ProjectStats
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT
			(SELECT COUNT(*) FROM synced_specs WHERE project_id = $1),
			(SELECT COUNT(DISTINCT feature_id) FROM synced_specs WHERE project_id = $1),
			(SELECT COUNT(*) FROM project_members WHERE project_id = $1),
			(SELECT COUNT(*) FROM sync_conflicts WHERE project_id = $1 AND status = 'PENDING')
	`), projectID).Scan(&stats.TotalSpecs, &stats.TotalFeatures, &stats.TotalMembers, &stats.PendingConflicts)
	if err != nil {
		return ProjectStats{}, fmt.Errorf("project stats: %w", err)
	}
	return stats, nil
}
