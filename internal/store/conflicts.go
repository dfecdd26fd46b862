package store

import (
	"context"
	"database/sql"
	"fmt"
)

const conflictColumns = `id, project_id, spec_id, feature_id, file_type, base_version, base_content,
	local_content, local_checksum, cloud_content, cloud_checksum, status, resolution, resolved_content,
	created_by, resolved_by, created_at, resolved_at`

func scanConflict(row interface{ Scan(...any) error }) (Conflict, error) {
	var c Conflict
	var resolution, resolvedContent, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&c.ID, &c.ProjectID, &c.SpecID, &c.FeatureID, &c.FileType, &c.BaseVersion, &c.BaseContent,
		&c.LocalContent, &c.LocalChecksum, &c.CloudContent, &c.CloudChecksum, &c.Status, &resolution, &resolvedContent,
		&c.CreatedBy, &resolvedBy, &c.CreatedAt, &resolvedAt)
	if err != nil {
		return Conflict{}, err
	}
	c.Resolution = Resolution(resolution.String)
	if resolvedContent.Valid {
		content := resolvedContent.String
		c.ResolvedContent = &content
	}
	c.ResolvedBy = resolvedBy.String
	c.ResolvedAt = timePtr(resolvedAt)
	return c, nil
}

func (s *SQLStore) CreateConflict(ctx context.Context, c Conflict) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO sync_conflicts (id, project_id, spec_id, feature_id, file_type, base_version, base_content,
			local_content, local_checksum, cloud_content, cloud_checksum, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`), c.ID, c.ProjectID, c.SpecID, c.FeatureID, c.FileType, c.BaseVersion, c.BaseContent,
		c.LocalContent, c.LocalChecksum, c.CloudContent, c.CloudChecksum, ConflictPending, c.CreatedBy, utc(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConflict(ctx context.Context, conflictID string) (Conflict, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = $1`), conflictID)
	c, err := scanConflict(row)
	if err != nil {
		return Conflict{}, notFound(err)
	}
	return c, nil
}

// FindPendingConflict looks up an open conflict on the spec between the same
// two contents.
func (s *SQLStore) FindPendingConflict(ctx context.Context, specID, localChecksum, cloudChecksum string) (Conflict, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE spec_id = $1 AND status = 'PENDING' AND local_checksum = $2 AND cloud_checksum = $3
		ORDER BY created_at DESC
		LIMIT 1
	`), specID, localChecksum, cloudChecksum)
	c, err := scanConflict(row)
	if err != nil {
		return Conflict{}, notFound(err)
	}
	return c, nil
}

func (s *SQLStore) ListConflicts(ctx context.Context, projectID string, includeResolved bool) ([]Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE project_id = $1`
	if !includeResolved {
		query += ` AND status = 'PENDING'`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, s.q(query), projectID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// CloseConflict moves a PENDING conflict to its terminal status and commits
// the resolved content as a new spec version, all in one transaction.
// ErrConflictClosed means the conflict was no longer PENDING; nothing changes.
func (s *SQLStore) CloseConflict(ctx context.Context, closing ConflictClosing) (SpecVersion, error) {
	var version SpecVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		at := utc(closing.Commit.At)
		result, err := tx.ExecContext(ctx, s.q(`
			UPDATE sync_conflicts
			SET status = $2, resolution = $3, resolved_content = $4, resolved_by = $5, resolved_at = $6
			WHERE id = $1 AND status = 'PENDING'
		`), closing.ConflictID, closing.Status, closing.Resolution, closing.ResolvedContent, closing.ResolvedBy, at)
		if err != nil {
			return fmt.Errorf("close conflict: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("close conflict rows affected: %w", err)
		}
		if affected == 0 {
			return ErrConflictClosed
		}

		if closing.KeepCurrent {
			version, err = s.currentVersion(ctx, tx, closing.Commit.SpecID)
			return err
		}
		version, err = s.commitContent(ctx, tx, closing.Commit)
		return err
	})
	if err != nil {
		return SpecVersion{}, err
	}
	return version, nil
}

func (s *SQLStore) currentVersion(ctx context.Context, db querier, specID string) (SpecVersion, error) {
	spec, err := s.getSpecByID(ctx, db, specID)
	if err != nil {
		return SpecVersion{}, notFound(err)
	}
	return SpecVersion{
		SpecID:     spec.ID,
		Version:    spec.Version,
		Content:    spec.Content,
		Checksum:   spec.Checksum,
		ModifiedBy: spec.LastModifiedBy,
		CreatedAt:  spec.UpdatedAt,
	}, nil
}

// CountPendingConflicts counts open conflicts in the project, limited to one
// feature when featureID is set.
func (s *SQLStore) CountPendingConflicts(ctx context.Context, projectID, featureID string) (int, error) {
	query := `SELECT COUNT(*) FROM sync_conflicts WHERE project_id = $1 AND status = 'PENDING'`
	args := []any{projectID}
	if featureID != "" {
		query += ` AND feature_id = $2`
		args = append(args, featureID)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, s.q(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending conflicts: %w", err)
	}
	return count, nil
}
