package versions

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"specsync/api/internal/apperr"
	"specsync/api/internal/checksum"
	"specsync/api/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.SQLStore, store.Spec) {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := store.Open(ctx, "file:"+filepath.Join(t.TempDir(), "versions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Migrate(ctx, db, dialect))
	st := store.NewSQLStore(db, dialect)

	require.NoError(t, st.CreateProject(ctx, store.Project{ID: "prj_1", Name: "One", Slug: "one", OwnerID: "usr_owner"}))
	spec := store.Spec{
		ID: "spc_1", ProjectID: "prj_1", FeatureID: "001-auth", FeatureName: "Auth", FileType: store.FileSpec,
		Content: "v1", Checksum: checksum.Sum("v1"), LastModifiedBy: "usr_owner",
	}
	_, err = st.CreateSpec(ctx, spec, "ver_1")
	require.NoError(t, err)
	return NewService(st), st, spec
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 20, Offset: 0}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: 100, Offset: 0}, Page{Limit: 1000, Offset: -5}.Normalize())
	assert.Equal(t, Page{Limit: 7, Offset: 3}, Page{Limit: 7, Offset: 3}.Normalize())
}

func TestRecordAppendsNextVersion(t *testing.T) {
	svc, st, spec := newTestService(t)
	ctx := context.Background()

	v2, err := svc.Record(ctx, spec.ID, "v2", "usr_a")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, checksum.Sum("v2"), v2.Checksum)

	current, err := st.GetSpecByID(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", current.Content)
	assert.Equal(t, 2, current.Version)

	history, err := svc.History(ctx, spec.ID, Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, history.CurrentVersion)
	assert.Equal(t, 2, history.TotalVersions)
	assert.Equal(t, 2, history.Versions[0].Version)
	assert.Equal(t, 1, history.Versions[1].Version)
}

func TestRecordUnknownSpec(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Record(context.Background(), "spc_missing", "x", "usr_a")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestConcurrentRecordsAreContiguous(t *testing.T) {
	svc, _, spec := newTestService(t)
	ctx := context.Background()
	const writers = 12

	var group errgroup.Group
	for i := 0; i < writers; i++ {
		content := fmt.Sprintf("content %d", i)
		group.Go(func() error {
			_, err := svc.Record(ctx, spec.ID, content, "usr_writer")
			return err
		})
	}
	require.NoError(t, group.Wait())

	history, err := svc.History(ctx, spec.ID, Page{Limit: MaxLimit})
	require.NoError(t, err)
	require.Equal(t, writers+1, history.TotalVersions)
	assert.Equal(t, writers+1, history.CurrentVersion)

	numbers := make([]int, 0, len(history.Versions))
	for _, v := range history.Versions {
		numbers = append(numbers, v.Version)
	}
	sort.Ints(numbers)
	for i, n := range numbers {
		assert.Equal(t, i+1, n)
	}
}

func TestGetMissingVersion(t *testing.T) {
	svc, _, spec := newTestService(t)
	_, err := svc.Get(context.Background(), spec.ID, 42)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCompareAndRestore(t *testing.T) {
	svc, st, spec := newTestService(t)
	ctx := context.Background()
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC) }

	_, err := svc.Record(ctx, spec.ID, "v1\nmore", "usr_a")
	require.NoError(t, err)

	cmp, err := svc.Compare(ctx, spec.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "+2 lines, -1 line", cmp.Summary)

	restored, err := svc.Restore(ctx, spec.ID, 1, "usr_b")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Version)
	assert.Equal(t, "v1", restored.Content)
	assert.Equal(t, "usr_b", restored.ModifiedBy)

	again, err := svc.Restore(ctx, spec.ID, 1, "usr_b")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Version)

	current, err := st.GetSpecByID(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", current.Content)

	oldest, err := svc.Oldest(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, oldest.Version)
}
