// Package storm reconstructs self-reply trees ("storms") from a flat
// snapshot of cached posts. A storm is a root post plus the chain of
// replies its own author kept adding underneath it.
package storm

import (
	"sort"
	"time"
)

// Post carries the minimal fields the assembler needs. Callers map
// their store rows into this shape; the assembler never touches the
// database.
type Post struct {
	ID          string
	InReplyToID string
	AuthorID    string
	CreatedAt   time.Time
	HasLink     bool
}

// Branch is one self-reply and whatever the author chained below it.
type Branch struct {
	Post     Post
	Children []Branch
}

// Storm is a root post with its self-reply branches, newest storms
// first in the output of Assemble.
type Storm struct {
	Root     Post
	Branches []Branch
}

// Assemble groups posts into storms. The input is expected to be the
// non-reblog post set for one author scope, in any order.
//
// A root is a post with no reply parent and no external link: a reply
// continues someone's thread, and a link-bearing root is a standalone
// link share rather than the start of a narrative. Branches follow
// strict root-author continuation: a reply by anyone other than the
// root's author is dropped along with everything below it. Posts that
// reach no root this way are omitted; they still appear in the plain
// chronological feeds.
func Assemble(posts []Post) []Storm {
	children := make(map[string][]Post)
	for _, p := range posts {
		if p.InReplyToID != "" {
			children[p.InReplyToID] = append(children[p.InReplyToID], p)
		}
	}

	// Newest-first root discovery so recent storms list first.
	ordered := make([]Post, len(posts))
	copy(ordered, posts)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	var storms []Storm
	processed := make(map[string]bool, len(posts))
	for _, p := range ordered {
		if processed[p.ID] {
			continue
		}
		if p.InReplyToID != "" || p.HasLink {
			continue
		}
		processed[p.ID] = true
		storms = append(storms, Storm{
			Root:     p,
			Branches: collect(children, p.ID, p.AuthorID, processed),
		})
	}
	return storms
}

// collect gathers the same-author replies under parentID, oldest
// first. The processed set guards against cycles in the reply linkage:
// every post is included at most once, so even a self-referential
// in_reply_to_id terminates.
func collect(children map[string][]Post, parentID, rootAuthorID string, processed map[string]bool) []Branch {
	kids := children[parentID]
	sorted := make([]Post, len(kids))
	copy(sorted, kids)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	var branches []Branch
	for _, kid := range sorted {
		if processed[kid.ID] || kid.AuthorID != rootAuthorID {
			continue
		}
		processed[kid.ID] = true
		branches = append(branches, Branch{
			Post:     kid,
			Children: collect(children, kid.ID, rootAuthorID, processed),
		})
	}
	return branches
}
