package app

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"specsync/api/internal/apperr"
	"specsync/api/internal/checksum"
	"specsync/api/internal/conflicts"
	"specsync/api/internal/diff"
	"specsync/api/internal/metrics"
	"specsync/api/internal/ratelimit"
	"specsync/api/internal/rbac"
	"specsync/api/internal/store"
	"specsync/api/internal/util"
)

var errConcurrentUpdates = errors.New("spec keeps changing under concurrent pushes")

type fileOutcome struct {
	kind     string
	conflict *ConflictRef
	failure  *PushError
}

// Push stores a batch of documents. Each file is created, fast-forwarded,
// left alone when unchanged, or reported as a conflict; one file's failure
// does not stop the others.
func (s *Service) Push(ctx context.Context, projectID, userID string, req PushRequest) (PushResult, error) {
	defer s.metrics.Time("push")()

	if err := s.checkRate(ctx, "push:"+userID, s.rule(s.cfg.Sync.PushLimit, ratelimit.PushRule)); err != nil {
		return PushResult{}, err
	}
	required := rbac.RoleEdit
	if req.Force {
		required = rbac.RoleAdmin
	}
	accessCtx, cancel := s.storeContext(ctx)
	_, err := s.require(accessCtx, projectID, userID, required)
	cancel()
	if err != nil {
		return PushResult{}, err
	}
	if err := s.validate.Struct(req); err != nil {
		return PushResult{}, err
	}

	result := PushResult{
		SyncedFeatures: []string{},
		Errors:         []PushError{},
		Conflicts:      []ConflictRef{},
		AutoMerged:     []string{},
	}
	seen := make(map[string]bool)
	for _, spec := range req.Specs {
		synced, merged := true, false
		for _, file := range spec.Files {
			outcome := s.pushFile(ctx, projectID, userID, spec, file, req.Force)
			s.metrics.PushFiles.WithLabelValues(outcome.kind).Inc()
			switch outcome.kind {
			case metrics.OutcomeConflict:
				synced = false
				result.Conflicts = append(result.Conflicts, *outcome.conflict)
			case metrics.OutcomeError:
				synced = false
				result.Errors = append(result.Errors, *outcome.failure)
			case metrics.OutcomeAutoMerged:
				merged = true
			}
		}
		if merged {
			result.AutoMerged = append(result.AutoMerged, spec.FeatureID)
		}
		if synced && !seen[spec.FeatureID] {
			seen[spec.FeatureID] = true
			result.SyncedFeatures = append(result.SyncedFeatures, spec.FeatureID)
		}
	}
	result.Success = len(result.Errors) == 0 && len(result.Conflicts) == 0

	s.recordSync(ctx, projectID, userID, store.EventPush, result.SyncedFeatures)
	return result, nil
}

func (s *Service) pushFile(parent context.Context, projectID, userID string, spec PushSpec, file PushFile, force bool) fileOutcome {
	ctx, cancel := s.storeContext(parent)
	defer cancel()

	outcome, err := s.syncDocument(ctx, projectID, userID, spec, file.Type, file.Document(), force)
	if err != nil {
		s.logger.Warn("push file failed",
			zap.String("project_id", projectID),
			zap.String("feature_id", spec.FeatureID),
			zap.String("file_type", string(file.Type)),
			zap.Error(err),
		)
		return fileOutcome{kind: metrics.OutcomeError, failure: pushError(spec.FeatureID, file.Type, err)}
	}
	return outcome
}

func pushError(featureID string, fileType store.FileType, err error) *PushError {
	failure := &PushError{FeatureID: featureID, FileType: fileType, Code: "SYNC_FAILED", Message: "Failed to sync file"}
	var appErr *apperr.Error
	switch {
	case errors.Is(err, errConcurrentUpdates), apperr.Is(err, apperr.KindTransient), store.IsTransient(err):
		failure.Code = "STORE_UNAVAILABLE"
		failure.Message = "Store temporarily unavailable, push again"
		failure.Retryable = true
	case errors.As(err, &appErr) && appErr.Kind != apperr.KindInternal:
		failure.Code = appErr.Code
		failure.Message = appErr.Message
	}
	return failure
}

// syncDocument is the detect-or-create branch for one pushed file. force
// replaces detection with an unconditional overwrite.
func (s *Service) syncDocument(ctx context.Context, projectID, userID string, spec PushSpec, fileType store.FileType, doc Document, force bool) (fileOutcome, error) {
	current, err := s.store.GetSpec(ctx, projectID, spec.FeatureID, fileType)
	if errors.Is(err, store.ErrNotFound) {
		created, createErr := s.createSpec(ctx, projectID, userID, spec, fileType, doc.content())
		if createErr == nil {
			s.afterCommit(created)
			return fileOutcome{kind: metrics.OutcomeCreated}, nil
		}
		if !errors.Is(createErr, store.ErrAlreadyExists) {
			return fileOutcome{}, fmt.Errorf("create spec: %w", createErr)
		}
		current, err = s.store.GetSpec(ctx, projectID, spec.FeatureID, fileType)
	}
	if err != nil {
		return fileOutcome{}, fmt.Errorf("load spec: %w", err)
	}
	if force {
		return s.overwriteSpec(ctx, current, userID, spec.FeatureName, doc.content())
	}
	return s.updateSpec(ctx, current, userID, spec.FeatureName, doc)
}

func (s *Service) createSpec(ctx context.Context, projectID, userID string, spec PushSpec, fileType store.FileType, content string) (store.Spec, error) {
	now := s.now().UTC()
	created := store.Spec{
		ID:             util.NewID("spc"),
		ProjectID:      projectID,
		FeatureID:      spec.FeatureID,
		FeatureName:    spec.FeatureName,
		FileType:       fileType,
		Content:        content,
		Checksum:       checksum.Sum(content),
		Version:        1,
		LastModifiedBy: userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.store.CreateSpec(ctx, created, util.NewID("ver")); err != nil {
		return store.Spec{}, err
	}
	return created, nil
}

func baseRef(doc Document) conflicts.BaseRef {
	if existing, ok := doc.(ExistingDocument); ok {
		return conflicts.BaseRef{Version: existing.BaseVersion, Known: true}
	}
	return conflicts.BaseRef{}
}

// updateSpec commits a fast-forward with a write conditional on the checksum
// read at detection time. Losing that race once re-runs detection against
// the fresh spec; losing it twice makes the version this push last saw the
// base of a conflict.
func (s *Service) updateSpec(ctx context.Context, current store.Spec, userID, featureName string, doc Document) (fileOutcome, error) {
	content := doc.content()
	base := baseRef(doc)

	for attempt := 0; attempt < 2; attempt++ {
		if checksum.Matches(content, current.Checksum) {
			return fileOutcome{kind: metrics.OutcomeUnchanged}, nil
		}
		conflict, err := s.conflicts.Detect(ctx, current, content, base, userID)
		if err != nil {
			return fileOutcome{}, err
		}
		if conflict != nil {
			return s.onConflict(ctx, current, conflict, userID)
		}

		version, err := s.store.CommitContent(ctx, s.contentCommit(current, userID, featureName, content, current.Checksum))
		if err == nil {
			s.afterCommit(committedSpec(current, version, featureName))
			return fileOutcome{kind: metrics.OutcomeUpdated}, nil
		}
		if !errors.Is(err, store.ErrChecksumMismatch) {
			return fileOutcome{}, fmt.Errorf("commit spec: %w", err)
		}

		fresh, err := s.store.GetSpecByID(ctx, current.ID)
		if err != nil {
			return fileOutcome{}, fmt.Errorf("reload spec: %w", err)
		}
		if attempt == 0 {
			s.metrics.RaceRetries.Inc()
		} else {
			base = conflicts.BaseRef{Version: current.Version, Known: true}
		}
		current = fresh
	}

	if checksum.Matches(content, current.Checksum) {
		return fileOutcome{kind: metrics.OutcomeUnchanged}, nil
	}
	conflict, err := s.conflicts.Detect(ctx, current, content, base, userID)
	if err != nil {
		return fileOutcome{}, err
	}
	if conflict == nil {
		return fileOutcome{}, errConcurrentUpdates
	}
	return s.onConflict(ctx, current, conflict, userID)
}

// overwriteSpec commits content over whatever the cloud holds. Open
// conflicts on the spec stay PENDING.
func (s *Service) overwriteSpec(ctx context.Context, current store.Spec, userID, featureName, content string) (fileOutcome, error) {
	if checksum.Matches(content, current.Checksum) {
		return fileOutcome{kind: metrics.OutcomeUnchanged}, nil
	}
	version, err := s.store.CommitContent(ctx, s.contentCommit(current, userID, featureName, content, ""))
	if err != nil {
		return fileOutcome{}, fmt.Errorf("overwrite spec: %w", err)
	}
	s.afterCommit(committedSpec(current, version, featureName))
	return fileOutcome{kind: metrics.OutcomeForced}, nil
}

func (s *Service) contentCommit(current store.Spec, userID, featureName, content, expected string) store.ContentCommit {
	return store.ContentCommit{
		SpecID:           current.ID,
		ExpectedChecksum: expected,
		Content:          content,
		Checksum:         checksum.Sum(content),
		FeatureName:      featureName,
		ModifiedBy:       userID,
		VersionID:        util.NewID("ver"),
		At:               s.now(),
	}
}

// onConflict reports a detected conflict, or commits its clean merge when
// auto-merge on push is enabled.
func (s *Service) onConflict(ctx context.Context, spec store.Spec, conflict *store.Conflict, userID string) (fileOutcome, error) {
	if s.cfg.Sync.AutoMergeOnPush {
		_, err := s.conflicts.AutoResolve(ctx, conflict.ID, userID)
		switch {
		case err == nil:
			s.metrics.Conflicts.WithLabelValues(string(store.ConflictAutoMerged)).Inc()
			s.afterCommitByID(ctx, spec.ID)
			return fileOutcome{kind: metrics.OutcomeAutoMerged}, nil
		case !apperr.Is(err, apperr.KindInvalidResolution):
			return fileOutcome{}, err
		}
	}
	s.metrics.Conflicts.WithLabelValues(string(store.ConflictPending)).Inc()
	return fileOutcome{
		kind: metrics.OutcomeConflict,
		conflict: &ConflictRef{
			ConflictID:   conflict.ID,
			FeatureID:    conflict.FeatureID,
			FileType:     conflict.FileType,
			BaseVersion:  conflict.BaseVersion,
			CloudVersion: spec.Version,
			Summary:      diff.Summary(conflict.CloudContent, conflict.LocalContent),
		},
	}, nil
}

func committedSpec(spec store.Spec, version store.SpecVersion, featureName string) store.Spec {
	spec.Content = version.Content
	spec.Checksum = version.Checksum
	spec.Version = version.Version
	spec.LastModifiedBy = version.ModifiedBy
	spec.UpdatedAt = version.CreatedAt
	if featureName != "" {
		spec.FeatureName = featureName
	}
	return spec
}

// Pull returns the project's current documents grouped by feature, ordered
// by feature id and then spec, plan, tasks. An empty featureID pulls every
// feature.
func (s *Service) Pull(ctx context.Context, projectID, userID, featureID string) (PullResult, error) {
	defer s.metrics.Time("pull")()

	if err := s.checkRate(ctx, "sync:"+userID, s.rule(s.cfg.Sync.SyncLimit, ratelimit.SyncRule)); err != nil {
		return PullResult{}, err
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if _, err := s.require(storeCtx, projectID, userID, rbac.RoleView); err != nil {
		return PullResult{}, err
	}
	specs, err := s.store.ListSpecs(storeCtx, projectID, featureID)
	if err != nil {
		return PullResult{}, fmt.Errorf("list specs: %w", apperr.FromStore(err, "project"))
	}
	pending, err := s.store.CountPendingConflicts(storeCtx, projectID, featureID)
	if err != nil {
		return PullResult{}, fmt.Errorf("count conflicts: %w", apperr.FromStore(err, "project"))
	}

	grouped := groupByFeature(specs)
	features := make([]string, 0, len(grouped))
	for _, spec := range grouped {
		features = append(features, spec.FeatureID)
	}
	s.metrics.Pulls.Inc()
	s.recordSync(ctx, projectID, userID, store.EventPull, features)
	return PullResult{Specs: grouped, HasConflicts: pending > 0, ConflictCount: pending}, nil
}

func groupByFeature(specs []store.Spec) []CloudSpec {
	index := make(map[string]int)
	grouped := make([]CloudSpec, 0)
	for _, spec := range specs {
		i, ok := index[spec.FeatureID]
		if !ok {
			i = len(grouped)
			index[spec.FeatureID] = i
			grouped = append(grouped, CloudSpec{FeatureID: spec.FeatureID, FeatureName: spec.FeatureName})
		}
		grouped[i].Files = append(grouped[i].Files, CloudFile{
			Type:           spec.FileType,
			Content:        spec.Content,
			Checksum:       spec.Checksum,
			Version:        spec.Version,
			LastModified:   spec.UpdatedAt,
			LastModifiedBy: spec.LastModifiedBy,
		})
	}
	sort.SliceStable(grouped, func(a, b int) bool { return grouped[a].FeatureID < grouped[b].FeatureID })
	for _, spec := range grouped {
		sort.SliceStable(spec.Files, func(a, b int) bool { return spec.Files[a].Type.Rank() < spec.Files[b].Type.Rank() })
	}
	return grouped
}
