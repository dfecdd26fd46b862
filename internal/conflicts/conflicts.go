// Package conflicts detects divergent pushes and drives each conflict record
// from PENDING to a terminal state.
package conflicts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"specsync/api/internal/apperr"
	"specsync/api/internal/checksum"
	"specsync/api/internal/diff"
	"specsync/api/internal/store"
	"specsync/api/internal/util"
)

type dataStore interface {
	CreateConflict(ctx context.Context, conflict store.Conflict) error
	GetConflict(ctx context.Context, conflictID string) (store.Conflict, error)
	FindPendingConflict(ctx context.Context, specID, localChecksum, cloudChecksum string) (store.Conflict, error)
	ListConflicts(ctx context.Context, projectID string, includeResolved bool) ([]store.Conflict, error)
	CloseConflict(ctx context.Context, closing store.ConflictClosing) (store.SpecVersion, error)
}

type versionReader interface {
	Get(ctx context.Context, specID string, version int) (store.SpecVersion, error)
	Oldest(ctx context.Context, specID string) (store.SpecVersion, error)
}

type Service struct {
	store    dataStore
	versions versionReader
	now      func() time.Time
}

func NewService(st dataStore, versions versionReader) *Service {
	return &Service{store: st, versions: versions, now: time.Now}
}

// BaseRef names the version a client last synced. Known is false for a
// client that believes the document is new.
type BaseRef struct {
	Version int
	Known   bool
}

type Resolution struct {
	Success         bool   `json:"success"`
	ResolvedContent string `json:"resolvedContent"`
	Version         int    `json:"version"`
}

type Detail struct {
	store.Conflict
	Diff    diff.Result `json:"diff"`
	Summary string      `json:"summary"`
}

type ListOptions struct {
	IncludeResolved bool
}

type List struct {
	Conflicts []Detail `json:"conflicts"`
	Total     int      `json:"total"`
}

// Detect decides whether incoming can replace the spec's current content.
// It returns nil when the push is identical or a fast-forward of the cloud
// copy, and otherwise the PENDING conflict recording the divergence. An
// existing PENDING record between the same two contents is reused.
func (s *Service) Detect(ctx context.Context, spec store.Spec, incoming string, base BaseRef, userID string) (*store.Conflict, error) {
	localChecksum := checksum.Sum(incoming)
	if localChecksum == spec.Checksum {
		return nil, nil
	}

	baseVersion, baseContent, err := s.resolveBase(ctx, spec.ID, base)
	if err != nil {
		return nil, err
	}
	if checksum.Matches(baseContent, spec.Checksum) {
		return nil, nil
	}

	existing, err := s.store.FindPendingConflict(ctx, spec.ID, localChecksum, spec.Checksum)
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find pending conflict: %w", apperr.FromStore(err, "conflict"))
	}

	conflict := store.Conflict{
		ID:            util.NewID("cfl"),
		ProjectID:     spec.ProjectID,
		SpecID:        spec.ID,
		FeatureID:     spec.FeatureID,
		FileType:      spec.FileType,
		BaseVersion:   baseVersion,
		BaseContent:   baseContent,
		LocalContent:  incoming,
		LocalChecksum: localChecksum,
		CloudContent:  spec.Content,
		CloudChecksum: spec.Checksum,
		Status:        store.ConflictPending,
		CreatedBy:     userID,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.CreateConflict(ctx, conflict); err != nil {
		return nil, fmt.Errorf("create conflict: %w", apperr.FromStore(err, "spec"))
	}
	return &conflict, nil
}

func (s *Service) resolveBase(ctx context.Context, specID string, base BaseRef) (int, string, error) {
	if !base.Known {
		return 0, "", nil
	}
	version, err := s.versions.Get(ctx, specID, base.Version)
	if apperr.Is(err, apperr.KindNotFound) {
		version, err = s.versions.Oldest(ctx, specID)
		if apperr.Is(err, apperr.KindNotFound) {
			return 0, "", nil
		}
	}
	if err != nil {
		return 0, "", fmt.Errorf("resolve base version: %w", err)
	}
	return version.Version, version.Content, nil
}

// TryAutoMerge previews the three-way merge of a conflict without changing it.
func (s *Service) TryAutoMerge(ctx context.Context, conflictID string) (diff.MergeResult, error) {
	conflict, err := s.get(ctx, conflictID)
	if err != nil {
		return diff.MergeResult{}, err
	}
	return diff.ThreeWayMerge(conflict.BaseContent, conflict.LocalContent, conflict.CloudContent), nil
}

// Resolve closes a PENDING conflict with the user's choice and commits the
// chosen content as the spec's next version.
func (s *Service) Resolve(ctx context.Context, conflictID, userID string, resolution store.Resolution, mergedContent *string) (Resolution, error) {
	conflict, err := s.get(ctx, conflictID)
	if err != nil {
		return Resolution{}, err
	}
	if conflict.Status != store.ConflictPending {
		return Resolution{}, apperr.InvalidResolution("Conflict is already resolved")
	}

	var content string
	switch resolution {
	case store.ResolutionLocal:
		content = conflict.LocalContent
	case store.ResolutionCloud:
		content = conflict.CloudContent
	case store.ResolutionMerged:
		if mergedContent == nil {
			return Resolution{}, apperr.InvalidResolution("Merged content is required for MERGED resolution")
		}
		content = *mergedContent
	default:
		return Resolution{}, apperr.InvalidResolution(fmt.Sprintf("Unknown resolution %q", resolution))
	}

	return s.close(ctx, conflict, store.ConflictResolved, resolution, content, userID, "")
}

// AutoResolve commits the clean three-way merge of a conflict and marks it
// AUTO_MERGED. It refuses when any hunk conflicts or when the document moved
// on since the conflict was detected.
func (s *Service) AutoResolve(ctx context.Context, conflictID, userID string) (Resolution, error) {
	conflict, err := s.get(ctx, conflictID)
	if err != nil {
		return Resolution{}, err
	}
	if conflict.Status != store.ConflictPending {
		return Resolution{}, apperr.InvalidResolution("Conflict is already resolved")
	}
	merge := diff.ThreeWayMerge(conflict.BaseContent, conflict.LocalContent, conflict.CloudContent)
	if merge.HasConflicts {
		return Resolution{}, apperr.InvalidResolution("Merge has conflicting hunks")
	}
	return s.close(ctx, conflict, store.ConflictAutoMerged, store.ResolutionMerged, merge.Merged, userID, conflict.CloudChecksum)
}

// Dismiss closes a PENDING conflict in favour of the cloud copy without
// writing a version. Whatever the spec holds now stays current.
func (s *Service) Dismiss(ctx context.Context, conflictID, userID string) (Resolution, error) {
	conflict, err := s.get(ctx, conflictID)
	if err != nil {
		return Resolution{}, err
	}
	if conflict.Status != store.ConflictPending {
		return Resolution{}, apperr.InvalidResolution("Conflict is already resolved")
	}
	closing := s.closing(conflict, store.ConflictResolved, store.ResolutionCloud, conflict.CloudContent, userID, "")
	closing.KeepCurrent = true
	return s.commit(ctx, closing)
}

func (s *Service) close(ctx context.Context, conflict store.Conflict, status store.ConflictStatus, resolution store.Resolution, content, userID, expected string) (Resolution, error) {
	return s.commit(ctx, s.closing(conflict, status, resolution, content, userID, expected))
}

func (s *Service) closing(conflict store.Conflict, status store.ConflictStatus, resolution store.Resolution, content, userID, expected string) store.ConflictClosing {
	at := s.now().UTC()
	return store.ConflictClosing{
		ConflictID:      conflict.ID,
		Status:          status,
		Resolution:      resolution,
		ResolvedContent: content,
		ResolvedBy:      userID,
		Commit: store.ContentCommit{
			SpecID:           conflict.SpecID,
			ExpectedChecksum: expected,
			Content:          content,
			Checksum:         checksum.Sum(content),
			ModifiedBy:       userID,
			VersionID:        util.NewID("ver"),
			At:               at,
		},
	}
}

func (s *Service) commit(ctx context.Context, closing store.ConflictClosing) (Resolution, error) {
	version, err := s.store.CloseConflict(ctx, closing)
	switch {
	case errors.Is(err, store.ErrConflictClosed):
		return Resolution{}, apperr.InvalidResolution("Conflict is already resolved")
	case errors.Is(err, store.ErrChecksumMismatch):
		return Resolution{}, apperr.InvalidResolution("Document changed since the conflict was detected")
	case err != nil:
		return Resolution{}, fmt.Errorf("close conflict: %w", apperr.FromStore(err, "spec"))
	}
	content := closing.ResolvedContent
	if closing.KeepCurrent {
		content = version.Content
	}
	return Resolution{Success: true, ResolvedContent: content, Version: version.Version}, nil
}

func (s *Service) List(ctx context.Context, projectID string, opts ListOptions) (List, error) {
	records, err := s.store.ListConflicts(ctx, projectID, opts.IncludeResolved)
	if err != nil {
		return List{}, fmt.Errorf("list conflicts: %w", apperr.FromStore(err, "project"))
	}
	details := make([]Detail, 0, len(records))
	for _, record := range records {
		details = append(details, detail(record))
	}
	return List{Conflicts: details, Total: len(details)}, nil
}

func (s *Service) Get(ctx context.Context, conflictID string) (Detail, error) {
	conflict, err := s.get(ctx, conflictID)
	if err != nil {
		return Detail{}, err
	}
	return detail(conflict), nil
}

func (s *Service) get(ctx context.Context, conflictID string) (store.Conflict, error) {
	conflict, err := s.store.GetConflict(ctx, conflictID)
	if err != nil {
		return store.Conflict{}, apperr.FromStore(err, "conflict")
	}
	return conflict, nil
}

func detail(conflict store.Conflict) Detail {
	return Detail{
		Conflict: conflict,
		Diff:     diff.Diff(conflict.CloudContent, conflict.LocalContent),
		Summary:  diff.Summary(conflict.CloudContent, conflict.LocalContent),
	}
}
