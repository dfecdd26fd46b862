package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"specsync/api/internal/store"
)

type fakeIndex struct {
	mu       sync.Mutex
	healthy  bool
	searchFn func(q Query) ([]Result, int, error)
	indexed  []SpecRecord
	indexErr error
}

func (f *fakeIndex) Search(q Query) ([]Result, int, error) { return f.searchFn(q) }
func (f *fakeIndex) Healthy() bool                         { return f.healthy }
func (f *fakeIndex) DeleteSpec(string) error               { return nil }

func (f *fakeIndex) IndexSpecs(records []SpecRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return f.indexErr
}

type fakeFinder struct {
	specs []store.Spec
	err   error
	got   struct {
		projectID string
		text      string
		limit     int
	}
}

func (f *fakeFinder) SearchSpecs(_ context.Context, projectID, text string, limit int) ([]store.Spec, error) {
	f.got.projectID, f.got.text, f.got.limit = projectID, text, limit
	return f.specs, f.err
}

func TestSearchPrefersHealthyIndex(t *testing.T) {
	idx := &fakeIndex{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		return []Result{{SpecID: "spc_1", ProjectID: q.ProjectID}}, 1, nil
	}}
	svc := &Service{index: idx, sql: NewSQL(&fakeFinder{}), logger: zap.NewNop()}

	resp, err := svc.Search(context.Background(), Query{ProjectID: "prj_1", Text: "login"})
	require.NoError(t, err)
	assert.Equal(t, SourceMeili, resp.Source)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "prj_1", resp.Results[0].ProjectID)
}

func TestSearchFallsBackToSQL(t *testing.T) {
	idx := &fakeIndex{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("breaker open")
	}}
	finder := &fakeFinder{specs: []store.Spec{{
		ID: "spc_1", ProjectID: "prj_1", FeatureID: "001-auth", FeatureName: "Auth",
		FileType: store.FileSpec, Content: "Users sign in with email.", Version: 3,
	}}}
	svc := &Service{index: idx, sql: NewSQL(finder), logger: zap.NewNop()}

	resp, err := svc.Search(context.Background(), Query{ProjectID: "prj_1", Text: " Email ", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, SourceSQL, resp.Source)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "spec", resp.Results[0].FileType)
	assert.Equal(t, 3, resp.Results[0].Version)
	assert.Equal(t, "Users sign in with email.", resp.Results[0].Snippet)
	assert.Equal(t, "Email", finder.got.text)
	assert.Equal(t, 100, finder.got.limit)
}

func TestSearchWithoutIndexUsesSQL(t *testing.T) {
	svc := NewService(nil, NewSQL(&fakeFinder{}), zap.NewNop())
	resp, err := svc.Search(context.Background(), Query{ProjectID: "prj_1", Text: ""})
	require.NoError(t, err)
	assert.Equal(t, []Result{}, resp.Results)
	assert.Equal(t, SourceSQL, resp.Source)
}

func TestReindexPushesAllRecords(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := &Service{index: idx, sql: NewSQL(&fakeFinder{}), logger: zap.NewNop()}
	svc.Reindex(context.Background(), func(context.Context) ([]SpecRecord, error) {
		return []SpecRecord{{ID: "spc_1"}, {ID: "spc_2"}}, nil
	})
	assert.Len(t, idx.indexed, 2)
}

func TestSnippet(t *testing.T) {
	content := strings.Repeat("a", 100) + " NEEDLE " + strings.Repeat("b", 100)
	snippet := Snippet(content, "needle")
	assert.True(t, strings.HasPrefix(snippet, "..."))
	assert.True(t, strings.HasSuffix(snippet, "..."))
	assert.Contains(t, snippet, "NEEDLE")

	assert.Equal(t, "short text", Snippet("short\n\ntext", "missing"))
	assert.Equal(t, "héllo wörld", Snippet("héllo wörld", "wö"))
}
