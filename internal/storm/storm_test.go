package storm

import (
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func post(id, parent, author string, minutes int) Post {
	return Post{
		ID:          id,
		InReplyToID: parent,
		AuthorID:    author,
		CreatedAt:   base.Add(time.Duration(minutes) * time.Minute),
	}
}

func TestAssembleBasicChain(t *testing.T) {
	posts := []Post{
		post("a", "", "me", 0),
		post("b", "a", "me", 1),
		post("c", "b", "me", 2),
		post("d", "a", "them", 3),
	}
	storms := Assemble(posts)
	if len(storms) != 1 {
		t.Fatalf("expected 1 storm, got %d", len(storms))
	}
	s := storms[0]
	if s.Root.ID != "a" {
		t.Fatalf("root = %s, want a", s.Root.ID)
	}
	if len(s.Branches) != 1 || s.Branches[0].Post.ID != "b" {
		t.Fatalf("branches = %+v, want [b]", s.Branches)
	}
	if len(s.Branches[0].Children) != 1 || s.Branches[0].Children[0].Post.ID != "c" {
		t.Fatalf("b's children = %+v, want [c]", s.Branches[0].Children)
	}
	// d is a third-party reply: excluded entirely, not a storm of its own.
	for _, st := range storms {
		if st.Root.ID == "d" {
			t.Fatal("third-party reply must not become a root")
		}
	}
}

func TestAssembleLinkRootExcluded(t *testing.T) {
	linky := post("a", "", "me", 0)
	linky.HasLink = true
	storms := Assemble([]Post{linky, post("b", "a", "me", 1)})
	if len(storms) != 0 {
		t.Fatalf("link-bearing root must not start a storm, got %+v", storms)
	}
}

func TestAssembleNewestRootsFirst(t *testing.T) {
	storms := Assemble([]Post{
		post("old", "", "me", 0),
		post("new", "", "me", 60),
	})
	if len(storms) != 2 {
		t.Fatalf("expected 2 storms, got %d", len(storms))
	}
	if storms[0].Root.ID != "new" || storms[1].Root.ID != "old" {
		t.Fatalf("root order = [%s %s], want [new old]", storms[0].Root.ID, storms[1].Root.ID)
	}
}

func TestAssembleChildrenChronological(t *testing.T) {
	storms := Assemble([]Post{
		post("a", "", "me", 0),
		post("late", "a", "me", 30),
		post("early", "a", "me", 5),
	})
	if len(storms) != 1 || len(storms[0].Branches) != 2 {
		t.Fatalf("unexpected shape: %+v", storms)
	}
	if storms[0].Branches[0].Post.ID != "early" || storms[0].Branches[1].Post.ID != "late" {
		t.Fatalf("branch order = [%s %s], want [early late]",
			storms[0].Branches[0].Post.ID, storms[0].Branches[1].Post.ID)
	}
}

func TestAssembleRootAuthorContinuation(t *testing.T) {
	// A third-party reply in the middle must not act as a container for
	// later same-author replies below it.
	posts := []Post{
		post("a", "", "me", 0),
		post("x", "a", "them", 1),
		post("c", "x", "me", 2),
	}
	storms := Assemble(posts)
	if len(storms) != 1 {
		t.Fatalf("expected 1 storm, got %d", len(storms))
	}
	if len(storms[0].Branches) != 0 {
		t.Fatalf("replies below an excluded third-party post must be dropped, got %+v", storms[0].Branches)
	}
}

func TestAssembleIdempotent(t *testing.T) {
	posts := []Post{
		post("a", "", "me", 0),
		post("b", "a", "me", 1),
		post("c", "", "me", 2),
	}
	first := Assemble(posts)
	second := Assemble(posts)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated assembly diverged:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestAssembleSelfCycleTerminates(t *testing.T) {
	cyclic := post("a", "a", "me", 0)
	storms := Assemble([]Post{cyclic, post("b", "", "me", 1)})
	if len(storms) != 1 || storms[0].Root.ID != "b" {
		t.Fatalf("self-cycle post must not be a root, got %+v", storms)
	}
}

func TestAssembleDanglingReplyOmitted(t *testing.T) {
	storms := Assemble([]Post{post("b", "missing-parent", "me", 0)})
	if len(storms) != 0 {
		t.Fatalf("reply to an absent parent must be omitted, got %+v", storms)
	}
}
