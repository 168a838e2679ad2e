package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
)

func TestArchivePostsCreatesRepoAndCommits(t *testing.T) {
	svc := New(t.TempDir())

	entries := []Entry{
		{
			ID:         "111",
			AuthorAcct: "avery@example.social",
			CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Content:    "<p>Hello world</p>",
			Tags:       []string{"golang", "intro"},
		},
		{
			ID:         "112",
			AuthorAcct: "avery@example.social",
			CreatedAt:  time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
			Content:    "<p>Second post</p>",
		},
	}
	if err := svc.ArchivePosts("avery", entries); err != nil {
		t.Fatalf("ArchivePosts: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(svc.repoPath("avery"), "posts", "111.md"))
	if err != nil {
		t.Fatalf("read archived post: %v", err)
	}
	text := string(data)
	for _, want := range []string{"id: 111", "author: avery@example.social", "tags: [golang, intro]", "<p>Hello world</p>"} {
		if !strings.Contains(text, want) {
			t.Errorf("archived post missing %q:\n%s", want, text)
		}
	}

	repo, err := git.PlainOpen(svc.repoPath("avery"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("repo head: %v", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("commit object: %v", err)
	}
	if commit.Message != "Archive 2 posts" {
		t.Errorf("commit message = %q", commit.Message)
	}
	if commit.Author.Name != "avery" {
		t.Errorf("commit author = %q", commit.Author.Name)
	}
}

func TestArchivePostsSkipsEmptyCommit(t *testing.T) {
	svc := New(t.TempDir())

	entries := []Entry{{
		ID:         "1",
		AuthorAcct: "avery@example.social",
		CreatedAt:  time.Now(),
		Content:    "<p>once</p>",
	}}
	if err := svc.ArchivePosts("avery", entries); err != nil {
		t.Fatalf("first archive: %v", err)
	}
	if err := svc.ArchivePosts("avery", entries); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	repo, err := git.PlainOpen(svc.repoPath("avery"))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		t.Fatalf("repo log: %v", err)
	}
	count := 0
	for {
		if _, err := iter.Next(); err != nil {
			break
		}
		count++
	}
	if count != 1 {
		t.Errorf("commit count = %d, want 1", count)
	}
}
