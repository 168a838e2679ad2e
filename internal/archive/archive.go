// Package archive writes cached posts into a per-user git repository
// as markdown files, giving the blog a greppable, versioned export
// that survives cache rebuilds.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Entry is one post to archive.
type Entry struct {
	ID         string
	AuthorAcct string
	CreatedAt  time.Time
	Content    string
	Tags       []string
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

func (s *Service) repoLock(username string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[username]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[username] = lock
	}
	return lock
}

func (s *Service) repoPath(username string) string {
	return filepath.Join(s.baseDir, username)
}

// ArchivePosts writes the entries into the user's archive repo and
// commits in one batch. Unchanged files produce no commit.
func (s *Service) ArchivePosts(username string, entries []Entry) error {
	lock := s.repoLock(username)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.ensureRepo(username)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	root := s.repoPath(username)
	if err := os.MkdirAll(filepath.Join(root, "posts"), 0o755); err != nil {
		return fmt.Errorf("create posts dir: %w", err)
	}

	for _, entry := range entries {
		rel := filepath.Join("posts", entry.ID+".md")
		if err := os.WriteFile(filepath.Join(root, rel), []byte(renderMarkdown(entry)), 0o644); err != nil {
			return fmt.Errorf("write post %s: %w", entry.ID, err)
		}
		if _, err := worktree.Add(rel); err != nil {
			return fmt.Errorf("git add %s: %w", rel, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	_, err = worktree.Commit(fmt.Sprintf("Archive %d posts", len(entries)), &git.CommitOptions{
		Author: &object.Signature{
			Name:  username,
			Email: username + "@archive.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

func (s *Service) ensureRepo(username string) (*git.Repository, error) {
	path := s.repoPath(username)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open archive repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init archive repo: %w", err)
	}
	return repo, nil
}

// renderMarkdown emits the post as front matter plus its HTML body.
// Mastodon content is already sanitized HTML, which markdown passes
// through unchanged.
func renderMarkdown(entry Entry) string {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", entry.ID)
	fmt.Fprintf(&b, "author: %s\n", entry.AuthorAcct)
	fmt.Fprintf(&b, "date: %s\n", entry.CreatedAt.UTC().Format(time.RFC3339))
	if len(entry.Tags) > 0 {
		fmt.Fprintf(&b, "tags: [%s]\n", strings.Join(entry.Tags, ", "))
	}
	b.WriteString("---\n\n")
	b.WriteString(entry.Content)
	b.WriteString("\n")
	return b.String()
}
