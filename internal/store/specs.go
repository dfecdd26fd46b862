package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const specColumns = `id, project_id, feature_id, feature_name, file_type, content, checksum, current_version, last_modified_by, created_at, updated_at`

func scanSpec(row interface{ Scan(...any) error }) (Spec, error) {
	var spec Spec
	var modifiedBy sql.NullString
	err := row.Scan(&spec.ID, &spec.ProjectID, &spec.FeatureID, &spec.FeatureName, &spec.FileType,
		&spec.Content, &spec.Checksum, &spec.Version, &modifiedBy, &spec.CreatedAt, &spec.UpdatedAt)
	if err != nil {
		return Spec{}, err
	}
	spec.LastModifiedBy = modifiedBy.String
	return spec, nil
}

func (s *SQLStore) GetSpec(ctx context.Context, projectID, featureID string, fileType FileType) (Spec, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+specColumns+` FROM synced_specs
		WHERE project_id = $1 AND feature_id = $2 AND file_type = $3
	`), projectID, featureID, fileType)
	spec, err := scanSpec(row)
	if err != nil {
		return Spec{}, notFound(err)
	}
	return spec, nil
}

func (s *SQLStore) GetSpecByID(ctx context.Context, specID string) (Spec, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+specColumns+` FROM synced_specs WHERE id = $1`), specID)
	spec, err := scanSpec(row)
	if err != nil {
		return Spec{}, notFound(err)
	}
	return spec, nil
}

// ListSpecs returns the project's specs ordered by feature id; an empty
// featureID means all features.
func (s *SQLStore) ListSpecs(ctx context.Context, projectID, featureID string) ([]Spec, error) {
	query := `SELECT ` + specColumns + ` FROM synced_specs WHERE project_id = $1`
	args := []any{projectID}
	if featureID != "" {
		query += ` AND feature_id = $2`
		args = append(args, featureID)
	}
	query += ` ORDER BY feature_id, file_type`
	return s.querySpecs(ctx, s.db, query, args...)
}

// ListAllSpecs returns every stored spec; it feeds the search reindex at startup.
func (s *SQLStore) ListAllSpecs(ctx context.Context) ([]Spec, error) {
	return s.querySpecs(ctx, s.db, `SELECT `+specColumns+` FROM synced_specs ORDER BY project_id, feature_id, file_type`)
}

// SearchSpecs is a case-insensitive substring search over feature names and
// content within one project.
func (s *SQLStore) SearchSpecs(ctx context.Context, projectID, text string, limit int) ([]Spec, error) {
	pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
	return s.querySpecs(ctx, s.db, `
		SELECT `+specColumns+` FROM synced_specs
		WHERE project_id = $1
			AND (LOWER(content) LIKE $2 ESCAPE '\' OR LOWER(feature_name) LIKE $2 ESCAPE '\' OR LOWER(feature_id) LIKE $2 ESCAPE '\')
		ORDER BY updated_at DESC, id
		LIMIT $3
	`, projectID, pattern, limit)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func (s *SQLStore) querySpecs(ctx context.Context, db querier, query string, args ...any) ([]Spec, error) {
	rows, err := db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query specs: %w", err)
	}
	defer rows.Close()

	var specs []Spec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// CreateSpec inserts a new spec at version 1 together with its first
// version row. ErrAlreadyExists means another writer created the same
// (project, feature, file type) first.
func (s *SQLStore) CreateSpec(ctx context.Context, spec Spec, versionID string) (SpecVersion, error) {
	version := SpecVersion{
		ID:         versionID,
		SpecID:     spec.ID,
		Version:    1,
		Content:    spec.Content,
		Checksum:   spec.Checksum,
		ModifiedBy: spec.LastModifiedBy,
		CreatedAt:  utc(spec.CreatedAt),
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO synced_specs (id, project_id, feature_id, feature_name, file_type, content, checksum, current_version, last_modified_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9, $9)
		`), spec.ID, spec.ProjectID, spec.FeatureID, spec.FeatureName, spec.FileType, spec.Content, spec.Checksum, nullString(spec.LastModifiedBy), version.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert spec: %w", err)
		}
		return s.insertVersion(ctx, tx, version)
	})
	if err != nil {
		return SpecVersion{}, err
	}
	return version, nil
}

// CommitContent is the per-spec serialization point: content, checksum and
// the version counter change in one conditional UPDATE, and the version row
// is appended in the same transaction.
func (s *SQLStore) CommitContent(ctx context.Context, commit ContentCommit) (SpecVersion, error) {
	var version SpecVersion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		version, err = s.commitContent(ctx, tx, commit)
		return err
	})
	if err != nil {
		return SpecVersion{}, err
	}
	return version, nil
}

func (s *SQLStore) commitContent(ctx context.Context, tx *sql.Tx, commit ContentCommit) (SpecVersion, error) {
	at := utc(commit.At)
	query := `
		UPDATE synced_specs
		SET content = $2, checksum = $3, current_version = current_version + 1,
			last_modified_by = $4, feature_name = COALESCE(NULLIF($5, ''), feature_name), updated_at = $6
		WHERE id = $1`
	args := []any{commit.SpecID, commit.Content, commit.Checksum, nullString(commit.ModifiedBy), commit.FeatureName, at}
	if commit.ExpectedChecksum != "" {
		query += ` AND checksum = $7`
		args = append(args, commit.ExpectedChecksum)
	}
	query += ` RETURNING current_version`

	var next int
	if err := tx.QueryRowContext(ctx, s.q(query), args...).Scan(&next); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return SpecVersion{}, fmt.Errorf("update spec content: %w", err)
		}
		if commit.ExpectedChecksum == "" {
			return SpecVersion{}, ErrNotFound
		}
		if _, lookupErr := s.getSpecByID(ctx, tx, commit.SpecID); lookupErr != nil {
			return SpecVersion{}, notFound(lookupErr)
		}
		return SpecVersion{}, ErrChecksumMismatch
	}

	version := SpecVersion{
		ID:         commit.VersionID,
		SpecID:     commit.SpecID,
		Version:    next,
		Content:    commit.Content,
		Checksum:   commit.Checksum,
		ModifiedBy: commit.ModifiedBy,
		CreatedAt:  at,
	}
	if err := s.insertVersion(ctx, tx, version); err != nil {
		return SpecVersion{}, err
	}
	return version, nil
}

func (s *SQLStore) getSpecByID(ctx context.Context, db querier, specID string) (Spec, error) {
	return scanSpec(db.QueryRowContext(ctx, s.q(`SELECT `+specColumns+` FROM synced_specs WHERE id = $1`), specID))
}

func (s *SQLStore) insertVersion(ctx context.Context, tx *sql.Tx, version SpecVersion) error {
	_, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO spec_versions (id, spec_id, version, content, checksum, modified_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`), version.ID, version.SpecID, version.Version, version.Content, version.Checksum, version.ModifiedBy, version.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert spec version %d: %w", version.Version, ErrChecksumMismatch)
		}
		return fmt.Errorf("insert spec version: %w", err)
	}
	return nil
}
