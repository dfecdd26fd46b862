// Package events records push, pull and resolve activity per project.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"specsync/api/internal/apperr"
	"specsync/api/internal/store"
)

type dataStore interface {
	InsertEvent(ctx context.Context, event store.SyncEvent) (store.SyncEvent, error)
	LastEvent(ctx context.Context, projectID, userID string) (store.SyncEvent, error)
	ListEvents(ctx context.Context, projectID string, limit, offset int) ([]store.SyncEvent, int, error)
	ListUserEvents(ctx context.Context, userID string, limit int) ([]store.SyncEvent, error)
	CountEventsByType(ctx context.Context, projectID string, since time.Time) (map[store.EventType]int, error)
}

type Service struct {
	store dataStore
	now   func() time.Time
}

func NewService(st dataStore) *Service {
	return &Service{store: st, now: time.Now}
}

type Page struct {
	Limit  int
	Offset int
}

type Feed struct {
	Events  []store.SyncEvent `json:"events"`
	Total   int               `json:"total"`
	HasMore bool              `json:"hasMore"`
}

// Record appends one event. Feature ids are de-duplicated and sorted.
func (s *Service) Record(ctx context.Context, projectID, userID string, eventType store.EventType, features []string) (store.SyncEvent, error) {
	event, err := s.store.InsertEvent(ctx, store.SyncEvent{
		ProjectID:        projectID,
		UserID:           userID,
		EventType:        eventType,
		FeaturesAffected: uniqueSorted(features),
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		return store.SyncEvent{}, fmt.Errorf("record %s event: %w", eventType, apperr.FromStore(err, "project"))
	}
	return event, nil
}

// LastEvent returns the user's most recent event in the project, or nil.
func (s *Service) LastEvent(ctx context.Context, projectID, userID string) (*store.SyncEvent, error) {
	event, err := s.store.LastEvent(ctx, projectID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last event: %w", apperr.FromStore(err, "project"))
	}
	return &event, nil
}

func (s *Service) Feed(ctx context.Context, projectID string, page Page) (Feed, error) {
	if page.Limit <= 0 {
		page.Limit = 20
	}
	if page.Limit > 100 {
		page.Limit = 100
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	items, total, err := s.store.ListEvents(ctx, projectID, page.Limit, page.Offset)
	if err != nil {
		return Feed{}, fmt.Errorf("activity feed: %w", apperr.FromStore(err, "project"))
	}
	if items == nil {
		items = []store.SyncEvent{}
	}
	return Feed{Events: items, Total: total, HasMore: page.Offset+len(items) < total}, nil
}

// UserActivity returns the newest events across every project the user can
// see. limit defaults to 10 and is capped at 100.
func (s *Service) UserActivity(ctx context.Context, userID string, limit int) ([]store.SyncEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	items, err := s.store.ListUserEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", apperr.FromStore(err, "project"))
	}
	if items == nil {
		items = []store.SyncEvent{}
	}
	return items, nil
}

// Summary counts the project's events per type since the given time. Every
// event type is present, zero when nothing happened.
type Summary struct {
	Since  *time.Time              `json:"since,omitempty"`
	Counts map[store.EventType]int `json:"counts"`
	Total  int                     `json:"total"`
}

func (s *Service) Summarize(ctx context.Context, projectID string, since time.Time) (Summary, error) {
	counts, err := s.store.CountEventsByType(ctx, projectID, since)
	if err != nil {
		return Summary{}, fmt.Errorf("activity summary: %w", apperr.FromStore(err, "project"))
	}
	summary := Summary{Counts: map[store.EventType]int{
		store.EventPush:    0,
		store.EventPull:    0,
		store.EventResolve: 0,
	}}
	if !since.IsZero() {
		at := since.UTC()
		summary.Since = &at
	}
	for eventType, count := range counts {
		summary.Counts[eventType] = count
		summary.Total += count
	}
	return summary, nil
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
