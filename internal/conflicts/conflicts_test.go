package conflicts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specsync/api/internal/apperr"
	"specsync/api/internal/checksum"
	"specsync/api/internal/store"
	"specsync/api/internal/versions"
)

type fixture struct {
	svc      *Service
	store    *store.SQLStore
	versions *versions.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "file:"+filepath.Join(t.TempDir(), "conflicts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(ctx, db, dialect))
	st := store.NewSQLStore(db, dialect)
	require.NoError(t, st.CreateProject(ctx, store.Project{ID: "prj_1", Name: "One", Slug: "one", OwnerID: "usr_owner"}))
	vs := versions.NewService(st)
	return fixture{svc: NewService(st, vs), store: st, versions: vs}
}

// seedHistory creates a spec whose versions hold contents in order.
func (f fixture) seedHistory(t *testing.T, contents ...string) store.Spec {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.CreateSpec(ctx, store.Spec{
		ID: "spc_1", ProjectID: "prj_1", FeatureID: "001-auth", FeatureName: "Auth", FileType: store.FileSpec,
		Content: contents[0], Checksum: checksum.Sum(contents[0]), LastModifiedBy: "usr_owner",
	}, "ver_first")
	require.NoError(t, err)
	for _, content := range contents[1:] {
		_, err := f.versions.Record(ctx, "spc_1", content, "usr_owner")
		require.NoError(t, err)
	}
	spec, err := f.store.GetSpecByID(ctx, "spc_1")
	require.NoError(t, err)
	return spec
}

func TestDetectIdenticalContent(t *testing.T) {
	f := newFixture(t)
	spec := f.seedHistory(t, "A\nB\nC")
	conflict, err := f.svc.Detect(context.Background(), spec, "A\nB\nC", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestDetectFastForward(t *testing.T) {
	f := newFixture(t)
	spec := f.seedHistory(t, "v1", "v2")
	conflict, err := f.svc.Detect(context.Background(), spec, "v3", BaseRef{Version: 2, Known: true}, "usr_a")
	require.NoError(t, err)
	assert.Nil(t, conflict)
}

func TestDetectStaleBaseOpensConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "v1", "v2", "v3")

	conflict, err := f.svc.Detect(ctx, spec, "v2 edited locally", BaseRef{Version: 2, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, store.ConflictPending, conflict.Status)
	assert.Equal(t, 2, conflict.BaseVersion)
	assert.Equal(t, "v2", conflict.BaseContent)
	assert.Equal(t, "v2 edited locally", conflict.LocalContent)
	assert.Equal(t, "v3", conflict.CloudContent)
	assert.Equal(t, spec.Checksum, conflict.CloudChecksum)

	again, err := f.svc.Detect(ctx, spec, "v2 edited locally", BaseRef{Version: 2, Known: true}, "usr_a")
	require.NoError(t, err)
	assert.Equal(t, conflict.ID, again.ID)

	list, err := f.svc.List(ctx, "prj_1", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "+1 line, -1 line", list.Conflicts[0].Summary)
}

func TestDetectFallsBackToOldestVersion(t *testing.T) {
	f := newFixture(t)
	spec := f.seedHistory(t, "v1", "v2")
	conflict, err := f.svc.Detect(context.Background(), spec, "mine", BaseRef{Version: 99, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, 1, conflict.BaseVersion)
	assert.Equal(t, "v1", conflict.BaseContent)
}

func TestDetectNewDocumentHasNoAncestor(t *testing.T) {
	f := newFixture(t)
	spec := f.seedHistory(t, "cloud")
	conflict, err := f.svc.Detect(context.Background(), spec, "local", BaseRef{}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, 0, conflict.BaseVersion)
	assert.Equal(t, "", conflict.BaseContent)

	merge, err := f.svc.TryAutoMerge(context.Background(), conflict.ID)
	require.NoError(t, err)
	assert.True(t, merge.HasConflicts)
}

func TestResolveRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "v1", "v2", "v3")
	conflict, err := f.svc.Detect(ctx, spec, "local", BaseRef{Version: 2, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	result, err := f.svc.Resolve(ctx, conflict.ID, "usr_b", store.ResolutionLocal, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "local", result.ResolvedContent)
	assert.Equal(t, 4, result.Version)

	current, err := f.store.GetSpecByID(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, "local", current.Content)
	assert.Equal(t, checksum.Sum("local"), current.Checksum)

	_, err = f.svc.Resolve(ctx, conflict.ID, "usr_b", store.ResolutionCloud, nil)
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))

	history, err := f.versions.History(ctx, spec.ID, versions.Page{})
	require.NoError(t, err)
	assert.Equal(t, 4, history.TotalVersions)

	stored, err := f.svc.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictResolved, stored.Status)
	assert.Equal(t, store.ResolutionLocal, stored.Resolution)
	assert.Equal(t, "usr_b", stored.ResolvedBy)
}

func TestResolveRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "v1", "v2")
	conflict, err := f.svc.Detect(ctx, spec, "local", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	_, err = f.svc.Resolve(ctx, conflict.ID, "usr_b", store.ResolutionMerged, nil)
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))
	_, err = f.svc.Resolve(ctx, conflict.ID, "usr_b", store.Resolution("BOTH"), nil)
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))
	_, err = f.svc.Resolve(ctx, "cfl_missing", "usr_b", store.ResolutionLocal, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	current, err := f.store.GetSpecByID(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", current.Content)

	merged := "hand merged"
	result, err := f.svc.Resolve(ctx, conflict.ID, "usr_b", store.ResolutionMerged, &merged)
	require.NoError(t, err)
	assert.Equal(t, "hand merged", result.ResolvedContent)
}

func TestAutoResolveCommitsCleanMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "A\nB\nC", "A\nB\nC2")
	conflict, err := f.svc.Detect(ctx, spec, "A2\nB\nC", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	result, err := f.svc.AutoResolve(ctx, conflict.ID, "usr_a")
	require.NoError(t, err)
	assert.Equal(t, "A2\nB\nC2", result.ResolvedContent)
	assert.Equal(t, 3, result.Version)

	stored, err := f.svc.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictAutoMerged, stored.Status)
	assert.Equal(t, store.ResolutionMerged, stored.Resolution)
}

func TestAutoResolveRefusesConflictingMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "A\nB\nC", "A\nY\nC")
	conflict, err := f.svc.Detect(ctx, spec, "A\nX\nC", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	_, err = f.svc.AutoResolve(ctx, conflict.ID, "usr_a")
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))

	stored, err := f.svc.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictPending, stored.Status)
}

func TestAutoResolveRefusesWhenDocumentMoved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "A\nB\nC", "A\nB\nC2")
	conflict, err := f.svc.Detect(ctx, spec, "A2\nB\nC", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	_, err = f.versions.Record(ctx, spec.ID, "something else", "usr_c")
	require.NoError(t, err)

	_, err = f.svc.AutoResolve(ctx, conflict.ID, "usr_a")
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))
	stored, err := f.svc.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictPending, stored.Status)
}

func TestDismissKeepsCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	spec := f.seedHistory(t, "v1", "v2")
	conflict, err := f.svc.Detect(ctx, spec, "local", BaseRef{Version: 1, Known: true}, "usr_a")
	require.NoError(t, err)
	require.NotNil(t, conflict)

	result, err := f.svc.Dismiss(ctx, conflict.ID, "usr_b")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "v2", result.ResolvedContent)
	assert.Equal(t, 2, result.Version)

	history, err := f.versions.History(ctx, spec.ID, versions.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, history.TotalVersions)

	stored, err := f.svc.Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ConflictResolved, stored.Status)
	assert.Equal(t, store.ResolutionCloud, stored.Resolution)
	assert.Equal(t, "usr_b", stored.ResolvedBy)

	_, err = f.svc.Dismiss(ctx, conflict.ID, "usr_b")
	assert.Equal(t, apperr.KindInvalidResolution, apperr.KindOf(err))
	_, err = f.svc.Dismiss(ctx, "cfl_missing", "usr_b")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}
