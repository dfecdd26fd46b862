package app

import (
	"context"
	"fmt"
	"strings"

	"specsync/api/internal/apperr"
	"specsync/api/internal/conflicts"
	"specsync/api/internal/diff"
	"specsync/api/internal/rbac"
	"specsync/api/internal/store"
	"specsync/api/internal/versions"
)

func (s *Service) ListConflicts(ctx context.Context, projectID, userID string, includeResolved bool) (conflicts.List, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return conflicts.List{}, err
	}
	return s.conflicts.List(ctx, projectID, conflicts.ListOptions{IncludeResolved: includeResolved})
}

func (s *Service) GetConflict(ctx context.Context, projectID, conflictID, userID string) (conflicts.Detail, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return conflicts.Detail{}, err
	}
	return s.conflictInProject(ctx, projectID, conflictID)
}

// PreviewMerge runs the three-way merge of a conflict without committing it.
func (s *Service) PreviewMerge(ctx context.Context, projectID, conflictID, userID string) (diff.MergeResult, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleView); err != nil {
		return diff.MergeResult{}, err
	}
	if _, err := s.conflictInProject(ctx, projectID, conflictID); err != nil {
		return diff.MergeResult{}, err
	}
	return s.conflicts.TryAutoMerge(ctx, conflictID)
}

// ResolveConflict closes a pending conflict with LOCAL, CLOUD or MERGED and
// commits the chosen content as the next version.
func (s *Service) ResolveConflict(ctx context.Context, projectID, conflictID, userID, resolution string, mergedContent *string) (conflicts.Resolution, error) {
	if mergedContent != nil && len(*mergedContent) > MaxContentBytes {
		return conflicts.Resolution{}, apperr.Validation("Invalid request", []FieldError{{
			Field: "mergedContent", Rule: "maxbytes", Message: fmt.Sprintf("must be at most %d bytes", MaxContentBytes),
		}})
	}
	return s.closeConflict(ctx, projectID, conflictID, userID, func(ctx context.Context) (conflicts.Resolution, error) {
		choice := store.Resolution(strings.ToUpper(strings.TrimSpace(resolution)))
		return s.conflicts.Resolve(ctx, conflictID, userID, choice, mergedContent)
	}, store.ConflictResolved)
}

// AutoResolveConflict commits the clean three-way merge of a conflict.
func (s *Service) AutoResolveConflict(ctx context.Context, projectID, conflictID, userID string) (conflicts.Resolution, error) {
	return s.closeConflict(ctx, projectID, conflictID, userID, func(ctx context.Context) (conflicts.Resolution, error) {
		return s.conflicts.AutoResolve(ctx, conflictID, userID)
	}, store.ConflictAutoMerged)
}

// DismissConflict closes a pending conflict keeping the cloud copy. No
// version is written.
func (s *Service) DismissConflict(ctx context.Context, projectID, conflictID, userID string) (conflicts.Resolution, error) {
	return s.closeConflict(ctx, projectID, conflictID, userID, func(ctx context.Context) (conflicts.Resolution, error) {
		return s.conflicts.Dismiss(ctx, conflictID, userID)
	}, store.ConflictResolved)
}

func (s *Service) closeConflict(parent context.Context, projectID, conflictID, userID string, commit func(context.Context) (conflicts.Resolution, error), status store.ConflictStatus) (conflicts.Resolution, error) {
	ctx, cancel := s.storeContext(parent)
	defer cancel()
	if _, err := s.require(ctx, projectID, userID, rbac.RoleEdit); err != nil {
		return conflicts.Resolution{}, err
	}
	detail, err := s.conflictInProject(ctx, projectID, conflictID)
	if err != nil {
		return conflicts.Resolution{}, err
	}
	resolution, err := commit(ctx)
	if err != nil {
		return conflicts.Resolution{}, err
	}

	s.metrics.Conflicts.WithLabelValues(string(status)).Inc()
	s.recordSync(parent, projectID, userID, store.EventResolve, []string{detail.FeatureID})
	s.afterCommitByID(parent, detail.SpecID)
	return resolution, nil
}

func (s *Service) conflictInProject(ctx context.Context, projectID, conflictID string) (conflicts.Detail, error) {
	detail, err := s.conflicts.Get(ctx, conflictID)
	if err != nil {
		return conflicts.Detail{}, err
	}
	if detail.ProjectID != projectID {
		return conflicts.Detail{}, apperr.NotFound("conflict")
	}
	return detail, nil
}

func (s *Service) GetVersionHistory(ctx context.Context, projectID, specID, userID string, limit, offset int) (versions.History, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.requireSpec(ctx, projectID, specID, userID, rbac.RoleView); err != nil {
		return versions.History{}, err
	}
	return s.versions.History(ctx, specID, versions.Page{Limit: limit, Offset: offset})
}

func (s *Service) GetVersion(ctx context.Context, projectID, specID, userID string, version int) (store.SpecVersion, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.requireSpec(ctx, projectID, specID, userID, rbac.RoleView); err != nil {
		return store.SpecVersion{}, err
	}
	return s.versions.Get(ctx, specID, version)
}

func (s *Service) CompareVersions(ctx context.Context, projectID, specID, userID string, from, to int) (versions.Comparison, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.requireSpec(ctx, projectID, specID, userID, rbac.RoleView); err != nil {
		return versions.Comparison{}, err
	}
	return s.versions.Compare(ctx, specID, from, to)
}

// RestoreVersion makes an earlier version's content current again by
// appending it as a new version.
func (s *Service) RestoreVersion(ctx context.Context, projectID, specID, userID string, version int) (store.SpecVersion, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.requireSpec(storeCtx, projectID, specID, userID, rbac.RoleEdit); err != nil {
		return store.SpecVersion{}, err
	}
	restored, err := s.versions.Restore(storeCtx, specID, version, userID)
	if err != nil {
		return store.SpecVersion{}, err
	}
	s.afterCommitByID(ctx, specID)
	return restored, nil
}

// requireSpec checks the caller's role and that specID belongs to the project.
func (s *Service) requireSpec(ctx context.Context, projectID, specID, userID string, required rbac.Role) error {
	if _, err := s.require(ctx, projectID, userID, required); err != nil {
		return err
	}
	spec, err := s.store.GetSpecByID(ctx, specID)
	if err != nil {
		return apperr.FromStore(err, "spec")
	}
	if spec.ProjectID != projectID {
		return apperr.NotFound("spec")
	}
	return nil
}
