package store

import (
	"context"
	"fmt"
)

const versionColumns = `id, spec_id, version, content, checksum, modified_by, created_at`

func scanVersion(row interface{ Scan(...any) error }) (SpecVersion, error) {
	var v SpecVersion
	err := row.Scan(&v.ID, &v.SpecID, &v.Version, &v.Content, &v.Checksum, &v.ModifiedBy, &v.CreatedAt)
	return v, err
}

// ListVersions returns one page of the spec's versions, newest first, and the
// total number of versions.
func (s *SQLStore) ListVersions(ctx context.Context, specID string, limit, offset int) ([]SpecVersion, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM spec_versions WHERE spec_id = $1`), specID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+versionColumns+` FROM spec_versions
		WHERE spec_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`), specID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []SpecVersion
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, total, rows.Err()
}

func (s *SQLStore) GetVersion(ctx context.Context, specID string, version int) (SpecVersion, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+versionColumns+` FROM spec_versions WHERE spec_id = $1 AND version = $2
	`), specID, version)
	v, err := scanVersion(row)
	if err != nil {
		return SpecVersion{}, notFound(err)
	}
	return v, nil
}

// GetOldestVersion returns the earliest retained version of the spec.
func (s *SQLStore) GetOldestVersion(ctx context.Context, specID string) (SpecVersion, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+versionColumns+` FROM spec_versions WHERE spec_id = $1 ORDER BY version ASC LIMIT 1
	`), specID)
	v, err := scanVersion(row)
	if err != nil {
		return SpecVersion{}, notFound(err)
	}
	return v, nil
}
