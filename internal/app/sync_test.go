package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"mastoblog/api/internal/mastodon"
	"mastoblog/api/internal/store"
)

func TestBuildPostUnwrapsReblog(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeMasto{})

	boosted := &mastodon.Status{
		ID:        "orig-1",
		Content:   `<p>Check this out <a href="https://example.com/story">link</a></p>`,
		CreatedAt: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC),
		Account:   mastodon.Account{ID: "other", Acct: "other@remote.social"},
		Tags:      []mastodon.Tag{{Name: "golang"}},
	}
	status := mastodon.Status{
		ID:        "boost-1",
		CreatedAt: time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
		Account:   mastodon.Account{ID: "me", Acct: "avery@example.social"},
		Reblog:    boosted,
	}

	post := svc.buildPost("meta-1", "id-1", status)
	if !post.IsReblog {
		t.Error("expected IsReblog")
	}
	if post.ID != "boost-1" {
		t.Errorf("id = %q, want the boost's own id", post.ID)
	}
	if post.AuthorAcct != "other@remote.social" {
		t.Errorf("author = %q, want the boosted author", post.AuthorAcct)
	}
	if post.Content != boosted.Content {
		t.Errorf("content = %q", post.Content)
	}
	if !post.HasLink {
		t.Error("expected HasLink from the boosted content")
	}
	if post.Tags != `["golang"]` {
		t.Errorf("tags = %q", post.Tags)
	}
}

func TestBuildPostReplyToSelfIsNotReply(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeMasto{})

	status := mastodon.Status{
		ID:                 "2",
		Content:            "<p>continuing my own thread</p>",
		CreatedAt:          time.Now(),
		InReplyToID:        "1",
		InReplyToAccountID: "me",
		Account:            mastodon.Account{ID: "me", Acct: "avery@example.social"},
	}

	post := svc.buildPost("meta-1", "id-1", status)
	if post.IsReply {
		t.Error("a self-reply must not count as a reply to others")
	}
	if post.InReplyToID == nil || *post.InReplyToID != "1" {
		t.Error("in_reply_to_id must still be kept for storm assembly")
	}
}

func TestSyncTimelineHonorsCooldown(t *testing.T) {
	recent := time.Now().Add(-5 * time.Minute)
	fetched := false
	fs := &fakeStore{
		lastSyncFn: func(context.Context, string) (*time.Time, error) {
			return &recent, nil
		},
	}
	fm := &fakeMasto{
		accountStatusesFn: func(context.Context, string, mastodon.StatusesOptions) ([]mastodon.Status, error) {
			fetched = true
			return nil, nil
		},
	}
	svc := newTestService(fs, fm)
	identity := store.Identity{ID: "id-1", AccessToken: "tok"}

	if err := svc.syncTimeline(context.Background(), "meta-1", identity, fm, "", false); err != nil {
		t.Fatalf("syncTimeline: %v", err)
	}
	if fetched {
		t.Error("sync within the cooldown window must be skipped")
	}

	if err := svc.syncTimeline(context.Background(), "meta-1", identity, fm, "", true); err != nil {
		t.Fatalf("forced syncTimeline: %v", err)
	}
	if !fetched {
		t.Error("forced sync must bypass the cooldown")
	}
}

func TestSyncTimelineUsesCooldownKeyPerTarget(t *testing.T) {
	var keys []string
	fs := &fakeStore{
		setLastSyncFn: func(_ context.Context, key string, _ time.Time) error {
			keys = append(keys, key)
			return nil
		},
	}
	fm := &fakeMasto{
		searchAccountsFn: func(_ context.Context, query string, _ int) ([]mastodon.Account, error) {
			return []mastodon.Account{{ID: "acc-2", Acct: query}}, nil
		},
	}
	svc := newTestService(fs, fm)
	identity := store.Identity{ID: "id-1", AccessToken: "tok"}

	if err := svc.syncTimeline(context.Background(), "meta-1", identity, fm, "", true); err != nil {
		t.Fatalf("self sync: %v", err)
	}
	if err := svc.syncTimeline(context.Background(), "meta-1", identity, fm, "friend@remote", true); err != nil {
		t.Fatalf("friend sync: %v", err)
	}

	want := []string{
		"timeline:meta-1:id-1:self",
		"timeline:meta-1:id-1:friend@remote",
	}
	if len(keys) != 2 || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("sync keys = %v, want %v", keys, want)
	}
}

func TestSyncAccountRejectsEveryone(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeMasto{})

	err := svc.SyncAccount(context.Background(), "meta-1", EveryoneUser, false)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected a 422 domain error, got %v", err)
	}
}

func TestSyncFriendsSetsDirectionalFlags(t *testing.T) {
	var upserted []store.Account
	fs := &fakeStore{
		upsertAccountFn: func(_ context.Context, a store.Account) error {
			upserted = append(upserted, a)
			return nil
		},
	}
	verify := func(context.Context) (mastodon.Account, error) {
		return mastodon.Account{ID: "me", Acct: "avery@example.social"}, nil
	}
	svc := newTestService(fs, &fakeMasto{})

	// Following and Followers both return the same account; the store's
	// sticky flags merge the two directions into a mutual.
	friend := mastodon.Account{ID: "f-1", Acct: "friend@remote.social"}
	full := &fakeMastoFriends{fakeMasto: fakeMasto{verifyCredentialsFn: verify}, friend: friend}
	if err := svc.syncFriends(context.Background(), "meta-1", store.Identity{ID: "id-1"}, full); err != nil {
		t.Fatalf("syncFriends: %v", err)
	}

	if len(upserted) != 2 {
		t.Fatalf("upsert count = %d", len(upserted))
	}
	if !upserted[0].IsFollowing || upserted[0].IsFollowedBy {
		t.Errorf("first upsert flags = %+v, want following only", upserted[0])
	}
	if upserted[1].IsFollowing || !upserted[1].IsFollowedBy {
		t.Errorf("second upsert flags = %+v, want followed-by only", upserted[1])
	}
}

type fakeMastoFriends struct {
	fakeMasto
	friend mastodon.Account
}

func (f *fakeMastoFriends) Following(context.Context, string, int) ([]mastodon.Account, error) {
	return []mastodon.Account{f.friend}, nil
}

func (f *fakeMastoFriends) Followers(context.Context, string, int) ([]mastodon.Account, error) {
	return []mastodon.Account{f.friend}, nil
}

func TestAccountFromAPIParsesLastStatusDate(t *testing.T) {
	account := mastodon.Account{
		ID:           "a-1",
		Acct:         "friend@remote.social",
		LastStatusAt: "2025-06-10",
	}
	cached := accountFromAPI("meta-1", "id-1", account)
	if cached.LastStatusAt == nil {
		t.Fatal("expected last_status_at to parse")
	}
	want := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if !cached.LastStatusAt.Equal(want) {
		t.Errorf("last_status_at = %v", cached.LastStatusAt)
	}
}
