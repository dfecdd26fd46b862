package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := Open(ctx, "file:"+filepath.Join(t.TempDir(), "specsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(ctx, db, dialect))
	return NewSQLStore(db, dialect)
}

func seedProject(t *testing.T, s *SQLStore, id, owner string) Project {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	project := Project{ID: id, Name: "Project " + id, Slug: "slug-" + id, OwnerID: owner, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateProject(context.Background(), project))
	return project
}

func seedSpec(t *testing.T, s *SQLStore, projectID, id, featureID, content, checksum string) Spec {
	t.Helper()
	spec := Spec{
		ID:             id,
		ProjectID:      projectID,
		FeatureID:      featureID,
		FeatureName:    "Feature " + featureID,
		FileType:       FileSpec,
		Content:        content,
		Checksum:       checksum,
		LastModifiedBy: "usr_owner",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	_, err := s.CreateSpec(context.Background(), spec, "ver_"+id+"_1")
	require.NoError(t, err)
	return spec
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT ?1, ?2 WHERE a = ?10 AND price = '$'", rebind("SELECT $1, $2 WHERE a = $10 AND price = '$'"))
}

func TestDetectDialect(t *testing.T) {
	cases := map[string]Dialect{
		"postgres://u:p@localhost/db":   DialectPostgres,
		"postgresql://u:p@localhost/db": DialectPostgres,
		"sqlite:///tmp/x.db":            DialectSQLite,
		"file:/tmp/x.db":                DialectSQLite,
		":memory:":                      DialectSQLite,
	}
	for url, want := range cases {
		got, _, err := DetectDialect(url)
		require.NoError(t, err, url)
		assert.Equal(t, want, got, url)
	}
	_, _, err := DetectDialect("mysql://nope")
	assert.Error(t, err)
}

func TestProjectLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := seedProject(t, s, "prj_1", "usr_owner")

	err := s.CreateProject(ctx, Project{ID: "prj_2", Name: "dup", Slug: project.Slug, OwnerID: "usr_other"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.GetProjectBySlug(ctx, project.Slug)
	require.NoError(t, err)
	assert.Equal(t, project.ID, got.ID)
	assert.True(t, got.CreatedAt.Equal(project.CreatedAt))

	owner, err := s.GetMember(ctx, project.ID, "usr_owner")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, owner.Role)

	created, err := s.AddMember(ctx, Member{ProjectID: project.ID, UserID: "usr_viewer", Role: RoleView})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.AddMember(ctx, Member{ProjectID: project.ID, UserID: "usr_viewer", Role: RoleEdit})
	require.NoError(t, err)
	assert.False(t, created)

	summaries, err := s.ListProjectsForUser(ctx, "usr_viewer")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, RoleView, summaries[0].Role)
	assert.False(t, summaries[0].IsOwner)

	updated, err := s.UpdateProject(ctx, project.ID, "Renamed", "new description", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	require.NoError(t, s.DeleteProject(ctx, project.ID))
	_, err = s.GetProject(ctx, project.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteProject(ctx, project.ID), ErrNotFound)
}

func TestCommitContentIsConditionalOnChecksum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	spec := seedSpec(t, s, "prj_1", "spc_1", "001-auth", "v1", "sum1")

	version, err := s.CommitContent(ctx, ContentCommit{
		SpecID: spec.ID, ExpectedChecksum: "sum1", Content: "v2", Checksum: "sum2",
		ModifiedBy: "usr_a", VersionID: "ver_2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, version.Version)

	_, err = s.CommitContent(ctx, ContentCommit{
		SpecID: spec.ID, ExpectedChecksum: "sum1", Content: "stale", Checksum: "sumX",
		ModifiedBy: "usr_b", VersionID: "ver_x",
	})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = s.CommitContent(ctx, ContentCommit{
		SpecID: "spc_missing", ExpectedChecksum: "sum1", Content: "x", Checksum: "x", VersionID: "ver_y",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	version, err = s.CommitContent(ctx, ContentCommit{
		SpecID: spec.ID, Content: "v3", Checksum: "sum3", ModifiedBy: "usr_b", VersionID: "ver_3",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, version.Version)

	current, err := s.GetSpecByID(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v3", current.Content)
	assert.Equal(t, "sum3", current.Checksum)
	assert.Equal(t, 3, current.Version)
	assert.Equal(t, "usr_b", current.LastModifiedBy)
	assert.Equal(t, "Feature 001-auth", current.FeatureName)

	versions, total, err := s.ListVersions(ctx, spec.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, versions, 2)
	assert.Equal(t, 3, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)

	oldest, err := s.GetOldestVersion(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, oldest.Version)
	assert.Equal(t, "v1", oldest.Content)

	_, err = s.GetVersion(ctx, spec.ID, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSpecRejectsDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	seedProject(t, s, "prj_1", "usr_owner")
	seedSpec(t, s, "prj_1", "spc_1", "001-auth", "v1", "sum1")

	_, err := s.CreateSpec(context.Background(), Spec{
		ID: "spc_2", ProjectID: "prj_1", FeatureID: "001-auth", FeatureName: "x",
		FileType: FileSpec, Content: "other", Checksum: "other",
	}, "ver_spc_2_1")
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSearchSpecsEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	seedSpec(t, s, "prj_1", "spc_1", "001-auth", "Login with 100% coverage", "sum1")
	seedSpec(t, s, "prj_1", "spc_2", "002-billing", "Invoices in 100 currencies", "sum2")

	found, err := s.SearchSpecs(ctx, "prj_1", "100%", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "spc_1", found[0].ID)

	found, err = s.SearchSpecs(ctx, "prj_1", "INVOICES", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "spc_2", found[0].ID)
}

func TestCloseConflictCommitsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	spec := seedSpec(t, s, "prj_1", "spc_1", "001-auth", "cloud", "sumC")

	conflict := Conflict{
		ID: "cfl_1", ProjectID: "prj_1", SpecID: spec.ID, FeatureID: spec.FeatureID, FileType: FileSpec,
		BaseVersion: 1, BaseContent: "base", LocalContent: "local", LocalChecksum: "sumL",
		CloudContent: "cloud", CloudChecksum: "sumC", CreatedBy: "usr_a",
	}
	require.NoError(t, s.CreateConflict(ctx, conflict))

	pending, err := s.FindPendingConflict(ctx, spec.ID, "sumL", "sumC")
	require.NoError(t, err)
	assert.Equal(t, "cfl_1", pending.ID)
	assert.Equal(t, ConflictPending, pending.Status)
	assert.Nil(t, pending.ResolvedContent)

	closing := ConflictClosing{
		ConflictID: "cfl_1", Status: ConflictResolved, Resolution: ResolutionLocal,
		ResolvedContent: "local", ResolvedBy: "usr_b",
		Commit: ContentCommit{SpecID: spec.ID, Content: "local", Checksum: "sumL", ModifiedBy: "usr_b", VersionID: "ver_2"},
	}
	version, err := s.CloseConflict(ctx, closing)
	require.NoError(t, err)
	assert.Equal(t, 2, version.Version)

	closing.Commit.VersionID = "ver_3"
	_, err = s.CloseConflict(ctx, closing)
	assert.ErrorIs(t, err, ErrConflictClosed)

	_, total, err := s.ListVersions(ctx, spec.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	closed, err := s.GetConflict(ctx, "cfl_1")
	require.NoError(t, err)
	assert.Equal(t, ConflictResolved, closed.Status)
	assert.Equal(t, ResolutionLocal, closed.Resolution)
	require.NotNil(t, closed.ResolvedContent)
	assert.Equal(t, "local", *closed.ResolvedContent)
	assert.NotNil(t, closed.ResolvedAt)

	open, err := s.ListConflicts(ctx, "prj_1", false)
	require.NoError(t, err)
	assert.Empty(t, open)
	all, err := s.ListConflicts(ctx, "prj_1", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.FindPendingConflict(ctx, spec.ID, "sumL", "sumC")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCloseConflictRollsBackOnChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	spec := seedSpec(t, s, "prj_1", "spc_1", "001-auth", "cloud", "sumC")
	require.NoError(t, s.CreateConflict(ctx, Conflict{
		ID: "cfl_1", ProjectID: "prj_1", SpecID: spec.ID, FeatureID: spec.FeatureID, FileType: FileSpec,
		LocalContent: "local", LocalChecksum: "sumL", CloudContent: "cloud", CloudChecksum: "sumC", CreatedBy: "usr_a",
	}))

	_, err := s.CloseConflict(ctx, ConflictClosing{
		ConflictID: "cfl_1", Status: ConflictAutoMerged, Resolution: ResolutionMerged,
		ResolvedContent: "merged", ResolvedBy: "usr_a",
		Commit: ContentCommit{SpecID: spec.ID, ExpectedChecksum: "sumStale", Content: "merged", Checksum: "sumM", VersionID: "ver_2"},
	})
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	still, err := s.GetConflict(ctx, "cfl_1")
	require.NoError(t, err)
	assert.Equal(t, ConflictPending, still.Status)
}

func TestEventsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")

	_, err := s.LastEvent(ctx, "prj_1", "usr_a")
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := s.InsertEvent(ctx, SyncEvent{ProjectID: "prj_1", UserID: "usr_a", EventType: EventPush, FeaturesAffected: []string{"001-auth"}})
	require.NoError(t, err)
	second, err := s.InsertEvent(ctx, SyncEvent{ProjectID: "prj_1", UserID: "usr_a", EventType: EventPull})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	last, err := s.LastEvent(ctx, "prj_1", "usr_a")
	require.NoError(t, err)
	assert.Equal(t, EventPull, last.EventType)
	assert.Equal(t, []string{}, last.FeaturesAffected)

	events, total, err := s.ListEvents(ctx, "prj_1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, second.ID, events[0].ID)
	assert.Equal(t, []string{"001-auth"}, events[1].FeaturesAffected)
}

func TestCloseConflictKeepingCurrentContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	spec := seedSpec(t, s, "prj_1", "spc_1", "001-auth", "cloud", "sumC")
	require.NoError(t, s.CreateConflict(ctx, Conflict{
		ID: "cfl_1", ProjectID: "prj_1", SpecID: spec.ID, FeatureID: spec.FeatureID, FileType: FileSpec,
		LocalContent: "local", LocalChecksum: "sumL", CloudContent: "cloud", CloudChecksum: "sumC", CreatedBy: "usr_a",
	}))

	count, err := s.CountPendingConflicts(ctx, "prj_1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = s.CountPendingConflicts(ctx, "prj_1", "002-billing")
	require.NoError(t, err)
	assert.Zero(t, count)

	version, err := s.CloseConflict(ctx, ConflictClosing{
		ConflictID: "cfl_1", Status: ConflictResolved, Resolution: ResolutionCloud,
		ResolvedContent: "cloud", ResolvedBy: "usr_b", KeepCurrent: true,
		Commit: ContentCommit{SpecID: spec.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, version.Version)
	assert.Equal(t, "cloud", version.Content)

	_, total, err := s.ListVersions(ctx, spec.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	closed, err := s.GetConflict(ctx, "cfl_1")
	require.NoError(t, err)
	assert.Equal(t, ConflictResolved, closed.Status)
	assert.Equal(t, ResolutionCloud, closed.Resolution)

	count, err = s.CountPendingConflicts(ctx, "prj_1", "001-auth")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUserEventsSpanMemberProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_own", "usr_a")
	seedProject(t, s, "prj_joined", "usr_owner")
	seedProject(t, s, "prj_other", "usr_owner")
	_, err := s.AddMember(ctx, Member{ProjectID: "prj_joined", UserID: "usr_a", Role: RoleView, CreatedAt: time.Now()})
	require.NoError(t, err)

	for _, projectID := range []string{"prj_own", "prj_other", "prj_joined"} {
		_, err := s.InsertEvent(ctx, SyncEvent{ProjectID: projectID, UserID: "usr_owner", EventType: EventPush})
		require.NoError(t, err)
	}

	events, err := s.ListUserEvents(ctx, "usr_a", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "prj_joined", events[0].ProjectID)
	assert.Equal(t, "prj_own", events[1].ProjectID)

	events, err = s.ListUserEvents(ctx, "usr_a", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = s.ListUserEvents(ctx, "usr_nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCountEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedProject(t, s, "prj_1", "usr_owner")
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, event := range []SyncEvent{
		{ProjectID: "prj_1", UserID: "usr_a", EventType: EventPush, CreatedAt: old},
		{ProjectID: "prj_1", UserID: "usr_a", EventType: EventPush, CreatedAt: recent},
		{ProjectID: "prj_1", UserID: "usr_a", EventType: EventPull, CreatedAt: recent},
	} {
		_, err := s.InsertEvent(ctx, event)
		require.NoError(t, err)
	}

	counts, err := s.CountEventsByType(ctx, "prj_1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, map[EventType]int{EventPush: 2, EventPull: 1}, counts)

	counts, err = s.CountEventsByType(ctx, "prj_1", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, map[EventType]int{EventPush: 1, EventPull: 1}, counts)
}
