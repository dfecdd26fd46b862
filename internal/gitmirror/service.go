// Package gitmirror mirrors every committed spec version into a per-project
// git repository, one commit per version.
package gitmirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

var safeSegment = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Entry is one committed spec version.
type Entry struct {
	FeatureID string
	FileType  string
	Content   string
	Version   int
	Author    string
	At        time.Time
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Path returns the file an entry is written to, relative to the repo root.
func Path(featureID, fileType string) string {
	return filepath.ToSlash(filepath.Join("specs", featureID, fileType+".md"))
}

// Record writes the entry's content and commits it, creating the project's
// repository on first use.
func (s *Service) Record(projectID string, entry Entry) (Commit, error) {
	if !safeSegment.MatchString(projectID) || !safeSegment.MatchString(entry.FeatureID) || !safeSegment.MatchString(entry.FileType) {
		return Commit{}, fmt.Errorf("mirror path segment rejected: %s/%s/%s", projectID, entry.FeatureID, entry.FileType)
	}

	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(projectID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := Path(entry.FeatureID, entry.FileType)
	full := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Commit{}, fmt.Errorf("create spec dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(entry.Content), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Commit{}, fmt.Errorf("git add %s: %w", rel, err)
	}

	when := entry.At
	if when.IsZero() {
		when = time.Now()
	}
	message := fmt.Sprintf("Sync %s/%s v%d", entry.FeatureID, entry.FileType, entry.Version)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  entry.Author,
			Email: fmt.Sprintf("%s@specsync.local", sanitizeEmail(entry.Author)),
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit %s: %w", rel, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists the project's mirror commits, newest first.
func (s *Service) History(projectID string, limit int) ([]Commit, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0, limit)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Content reads a spec file as of the latest mirror commit.
func (s *Service) Content(projectID, featureID, fileType string) (string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("load commit object: %w", err)
	}
	file, err := commitObj.File(Path(featureID, fileType))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", Path(featureID, fileType), err)
	}
	return file.Contents()
}

// Remove deletes the project's repository.
func (s *Service) Remove(projectID string) error {
	if !safeSegment.MatchString(projectID) {
		return fmt.Errorf("mirror path segment rejected: %s", projectID)
	}
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	return os.RemoveAll(s.repoPath(projectID))
}

func (s *Service) openOrInit(projectID string) (*git.Repository, error) {
	path := s.repoPath(projectID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
