// Package versions keeps the append-only history of every synced document.
package versions

import (
	"context"
	"fmt"
	"time"

	"specsync/api/internal/apperr"
	"specsync/api/internal/checksum"
	"specsync/api/internal/diff"
	"specsync/api/internal/store"
	"specsync/api/internal/util"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type dataStore interface {
	GetSpecByID(ctx context.Context, specID string) (store.Spec, error)
	CommitContent(ctx context.Context, commit store.ContentCommit) (store.SpecVersion, error)
	ListVersions(ctx context.Context, specID string, limit, offset int) ([]store.SpecVersion, int, error)
	GetVersion(ctx context.Context, specID string, version int) (store.SpecVersion, error)
	GetOldestVersion(ctx context.Context, specID string) (store.SpecVersion, error)
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

// Normalize applies the default limit and clamps both fields into range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type History struct {
	Versions       []store.SpecVersion `json:"versions"`
	CurrentVersion int                 `json:"currentVersion"`
	TotalVersions  int                 `json:"totalVersions"`
}

type Comparison struct {
	SpecID  string      `json:"specId"`
	From    int         `json:"from"`
	To      int         `json:"to"`
	Diff    diff.Result `json:"diff"`
	Summary string      `json:"summary"`
}

// Record appends content as the spec's next version. The write is
// unconditional; concurrent callers each get their own contiguous number.
func (s *Service) Record(ctx context.Context, specID, content, modifierID string) (store.SpecVersion, error) {
	version, err := s.store.CommitContent(ctx, store.ContentCommit{
		SpecID:     specID,
		Content:    content,
		Checksum:   checksum.Sum(content),
		ModifiedBy: modifierID,
		VersionID:  util.NewID("ver"),
		At:         s.now(),
	})
	if err != nil {
		return store.SpecVersion{}, fmt.Errorf("record version: %w", apperr.FromStore(err, "spec"))
	}
	return version, nil
}

func (s *Service) History(ctx context.Context, specID string, page Page) (History, error) {
	page = page.Normalize()
	spec, err := s.store.GetSpecByID(ctx, specID)
	if err != nil {
		return History{}, apperr.FromStore(err, "spec")
	}
	versions, total, err := s.store.ListVersions(ctx, specID, page.Limit, page.Offset)
	if err != nil {
		return History{}, fmt.Errorf("version history: %w", apperr.FromStore(err, "spec"))
	}
	if versions == nil {
		versions = []store.SpecVersion{}
	}
	return History{Versions: versions, CurrentVersion: spec.Version, TotalVersions: total}, nil
}

func (s *Service) Get(ctx context.Context, specID string, version int) (store.SpecVersion, error) {
	v, err := s.store.GetVersion(ctx, specID, version)
	if err != nil {
		return store.SpecVersion{}, apperr.FromStore(err, "version")
	}
	return v, nil
}

// Oldest returns the earliest retained version, used as the merge base when
// a client names a version that no longer exists.
func (s *Service) Oldest(ctx context.Context, specID string) (store.SpecVersion, error) {
	v, err := s.store.GetOldestVersion(ctx, specID)
	if err != nil {
		return store.SpecVersion{}, apperr.FromStore(err, "version")
	}
	return v, nil
}

func (s *Service) Compare(ctx context.Context, specID string, from, to int) (Comparison, error) {
	older, err := s.Get(ctx, specID, from)
	if err != nil {
		return Comparison{}, err
	}
	newer, err := s.Get(ctx, specID, to)
	if err != nil {
		return Comparison{}, err
	}
	return Comparison{
		SpecID:  specID,
		From:    from,
		To:      to,
		Diff:    diff.Diff(older.Content, newer.Content),
		Summary: diff.Summary(older.Content, newer.Content),
	}, nil
}

// Restore commits the content of an earlier version as a new version.
// Restoring the content the spec already has is a no-op that returns the
// current version.
func (s *Service) Restore(ctx context.Context, specID string, version int, userID string) (store.SpecVersion, error) {
	target, err := s.Get(ctx, specID, version)
	if err != nil {
		return store.SpecVersion{}, err
	}
	spec, err := s.store.GetSpecByID(ctx, specID)
	if err != nil {
		return store.SpecVersion{}, apperr.FromStore(err, "spec")
	}
	if spec.Checksum == target.Checksum {
		return s.Get(ctx, specID, spec.Version)
	}
	return s.Record(ctx, specID, target.Content, userID)
}
