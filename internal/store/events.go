package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

func scanEvent(row interface{ Scan(...any) error }) (SyncEvent, error) {
	var e SyncEvent
	var features string
	if err := row.Scan(&e.ID, &e.ProjectID, &e.UserID, &e.EventType, &features, &e.CreatedAt); err != nil {
		return SyncEvent{}, err
	}
	if err := json.Unmarshal([]byte(features), &e.FeaturesAffected); err != nil {
		return SyncEvent{}, fmt.Errorf("decode features affected: %w", err)
	}
	if e.FeaturesAffected == nil {
		e.FeaturesAffected = []string{}
	}
	return e, nil
}

// InsertEvent appends a sync event and returns it with its assigned id.
func (s *SQLStore) InsertEvent(ctx context.Context, event SyncEvent) (SyncEvent, error) {
	features := event.FeaturesAffected
	if features == nil {
		features = []string{}
	}
	encoded, err := json.Marshal(features)
	if err != nil {
		return SyncEvent{}, fmt.Errorf("encode features affected: %w", err)
	}
	event.CreatedAt = utc(event.CreatedAt)
	event.FeaturesAffected = features
	err = s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO sync_events (project_id, user_id, event_type, features_affected, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`), event.ProjectID, event.UserID, event.EventType, string(encoded), event.CreatedAt).Scan(&event.ID)
	if err != nil {
		return SyncEvent{}, fmt.Errorf("insert sync event: %w", err)
	}
	return event, nil
}

func (s *SQLStore) LastEvent(ctx context.Context, projectID, userID string) (SyncEvent, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, project_id, user_id, event_type, features_affected, created_at
		FROM sync_events WHERE project_id = $1 AND user_id = $2
		ORDER BY id DESC LIMIT 1
	`), projectID, userID)
	event, err := scanEvent(row)
	if err != nil {
		return SyncEvent{}, notFound(err)
	}
	return event, nil
}

// ListEvents pages through the project's events, newest first.
func (s *SQLStore) ListEvents(ctx context.Context, projectID string, limit, offset int) ([]SyncEvent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sync_events WHERE project_id = $1`), projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sync events: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, project_id, user_id, event_type, features_affected, created_at
		FROM sync_events WHERE project_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`), projectID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sync events: %w", err)
	}
	defer rows.Close()

	var events []SyncEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sync event: %w", err)
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// ListUserEvents returns the newest events across every project the user
// owns or belongs to.
func (s *SQLStore) ListUserEvents(ctx context.Context, userID string, limit int) ([]SyncEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT e.id, e.project_id, e.user_id, e.event_type, e.features_affected, e.created_at
		FROM sync_events e
		JOIN projects p ON p.id = e.project_id
		LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $1
		WHERE p.owner_id = $1 OR m.user_id IS NOT NULL
		ORDER BY e.id DESC
		LIMIT $2
	`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list user events: %w", err)
	}
	defer rows.Close()

	var events []SyncEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEventsByType groups the project's events by type. A zero since counts
// every event.
func (s *SQLStore) CountEventsByType(ctx context.Context, projectID string, since time.Time) (map[EventType]int, error) {
	query := `SELECT event_type, COUNT(*) FROM sync_events WHERE project_id = $1`
	args := []any{projectID}
	if !since.IsZero() {
		query += ` AND created_at >= $2`
		args = append(args, utc(since))
	}
	query += ` GROUP BY event_type`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("count sync events: %w", err)
	}
	defer rows.Close()

	counts := make(map[EventType]int)
	for rows.Next() {
		var eventType EventType
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}
