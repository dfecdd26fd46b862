package search

import (
	"context"

	"go.uber.org/zap"
)

type index interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
	IndexSpecs(records []SpecRecord) error
	DeleteSpec(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	index  index
	sql    *SQL
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, sql *SQL, logger *zap.Logger) *Service {
	s := &Service{sql: sql, logger: logger}
	if meili != nil {
		s.index = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}, nil
		}
		s.logger.Warn("search: meilisearch error, falling back to sql", zap.Error(err))
	}

	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		return Response{}, err
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceSQL}, nil
}

// IndexSpec pushes the spec's current content to the index (fire-and-forget).
func (s *Service) IndexSpec(record SpecRecord) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	go func() {
		if err := s.index.IndexSpecs([]SpecRecord{record}); err != nil {
			s.logger.Warn("search: index spec", zap.String("spec_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteSpecs removes specs from the index (fire-and-forget).
func (s *Service) DeleteSpecs(ids []string) {
	if s.index == nil || !s.index.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.index.DeleteSpec(id); err != nil {
				s.logger.Warn("search: delete spec", zap.String("spec_id", id), zap.Error(err))
			}
		}
	}()
}

// Reindex loads every record and pushes them to Meilisearch in one batch.
func (s *Service) Reindex(ctx context.Context, load func(ctx context.Context) ([]SpecRecord, error)) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	records, err := load(ctx)
	if err != nil {
		s.logger.Warn("search: reindex load failed", zap.Error(err))
		return
	}
	if err := s.index.IndexSpecs(records); err != nil {
		s.logger.Warn("search: reindex specs", zap.Error(err))
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
