package search

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"specsync/api/internal/store"
)

const snippetRadius = 60

type specFinder interface {
	SearchSpecs(ctx context.Context, projectID, text string, limit int) ([]store.Spec, error)
}

// SQL is the fallback searcher: a case-insensitive substring match over the
// project's current spec contents.
type SQL struct {
	store specFinder
}

func NewSQL(st specFinder) *SQL {
	return &SQL{store: st}
}

func (s *SQL) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	specs, err := s.store.SearchSpecs(ctx, q.ProjectID, strings.TrimSpace(q.Text), normalizeLimit(q.Limit))
	if err != nil {
		return nil, 0, fmt.Errorf("sql search: %w", err)
	}
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		results = append(results, Result{
			SpecID:      spec.ID,
			ProjectID:   spec.ProjectID,
			FeatureID:   spec.FeatureID,
			FeatureName: spec.FeatureName,
			FileType:    string(spec.FileType),
			Snippet:     Snippet(spec.Content, q.Text),
			Version:     spec.Version,
		})
	}
	return results, len(results), nil
}

// Snippet returns the text around the first case-insensitive match of term,
// or the start of content when term does not occur in it.
func Snippet(content, term string) string {
	term = strings.TrimSpace(term)
	idx := -1
	if term != "" {
		idx = strings.Index(strings.ToLower(content), strings.ToLower(term))
	}
	if idx < 0 || idx > len(content) {
		return snippetAt(content, 0, 0)
	}
	return snippetAt(content, idx, len(term))
}

func snippetAt(content string, idx, matchLen int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetRadius
	if end > len(content) {
		end = len(content)
	}
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	snippet := strings.Join(strings.Fields(content[start:end]), " ")
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(content) {
		snippet += "..."
	}
	return snippet
}
