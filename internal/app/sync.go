package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"mastoblog/api/internal/archive"
	"mastoblog/api/internal/mastodon"
	"mastoblog/api/internal/search"
	"mastoblog/api/internal/store"
)

const (
	friendsPageLimit   = 80
	homeTimelineLimit  = 100
	notificationsLimit = 80
)

func syncContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Minute)
}

// SyncAll refreshes friends, the blogroll, the own timeline and
// notifications for every connected identity of the meta account.
// Individual failures are logged, not fatal: one unreachable instance
// must not stop the others from syncing.
func (s *Service) SyncAll(ctx context.Context, metaID string, force bool) error {
	identities, err := s.store.ListIdentities(ctx, metaID)
	if err != nil {
		return err
	}
	for _, identity := range identities {
		if identity.AccessToken == "" {
			continue
		}
		client := s.newClient(identity)
		if err := s.syncFriends(ctx, metaID, identity, client); err != nil {
			log.Printf("sync: friends for %s: %v", identity.Name, err)
		}
		if err := s.syncBlogroll(ctx, metaID, identity, client); err != nil {
			log.Printf("sync: blogroll for %s: %v", identity.Name, err)
		}
		if err := s.syncTimeline(ctx, metaID, identity, client, "", force); err != nil {
			log.Printf("sync: timeline for %s: %v", identity.Name, err)
		}
		if err := s.syncNotifications(ctx, metaID, identity, client, force); err != nil {
			log.Printf("sync: notifications for %s: %v", identity.Name, err)
		}
	}
	return nil
}

// SyncAccount refreshes one author's timeline on demand.
func (s *Service) SyncAccount(ctx context.Context, metaID, acct string, force bool) error {
	if acct == EveryoneUser {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "the everyone feed is derived, it cannot be synced", nil)
	}
	identity, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return err
	}
	return s.syncTimeline(ctx, metaID, identity, client, acct, force)
}

// syncFriends mirrors the follow graph into cached_accounts. The
// follow flags are sticky in the store, so passing them only on the
// matching direction is enough.
func (s *Service) syncFriends(ctx context.Context, metaID string, identity store.Identity, client mastoClient) error {
	me, err := client.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}

	following, err := client.Following(ctx, me.ID, friendsPageLimit)
	if err != nil {
		return fmt.Errorf("fetch following: %w", err)
	}
	for _, account := range following {
		cached := accountFromAPI(metaID, identity.ID, account)
		cached.IsFollowing = true
		if err := s.store.UpsertAccount(ctx, cached); err != nil {
			return err
		}
	}

	followers, err := client.Followers(ctx, me.ID, friendsPageLimit)
	if err != nil {
		return fmt.Errorf("fetch followers: %w", err)
	}
	for _, account := range followers {
		cached := accountFromAPI(metaID, identity.ID, account)
		cached.IsFollowedBy = true
		if err := s.store.UpsertAccount(ctx, cached); err != nil {
			return err
		}
	}

	log.Printf("sync: friends for %s: %d following, %d followers", identity.Name, len(following), len(followers))
	return nil
}

// syncBlogroll walks the home timeline and advances last_status_at for
// every author seen, so the blogroll reflects recent activity without
// a full per-account sync.
func (s *Service) syncBlogroll(ctx context.Context, metaID string, identity store.Identity, client mastoClient) error {
	statuses, err := client.HomeTimeline(ctx, homeTimelineLimit)
	if err != nil {
		return fmt.Errorf("fetch home timeline: %w", err)
	}
	seen := make(map[string]bool, len(statuses))
	for i := range statuses {
		actual := &statuses[i]
		if actual.Reblog != nil {
			actual = actual.Reblog
		}
		if seen[actual.Account.ID] {
			continue
		}
		seen[actual.Account.ID] = true
		cached := accountFromAPI(metaID, identity.ID, actual.Account)
		if cached.LastStatusAt == nil || cached.LastStatusAt.Before(actual.CreatedAt) {
			at := actual.CreatedAt
			cached.LastStatusAt = &at
		}
		if err := s.store.UpsertAccount(ctx, cached); err != nil {
			return err
		}
	}
	return nil
}

// syncTimeline caches one author's statuses. An empty acct means the
// identity's own account. Skipped when the per-target cooldown has not
// elapsed, unless forced.
func (s *Service) syncTimeline(ctx context.Context, metaID string, identity store.Identity, client mastoClient, acct string, force bool) error {
	target := acct
	if target == "" {
		target = "self"
	}
	key := fmt.Sprintf("timeline:%s:%s:%s", metaID, identity.ID, target)

	if !force {
		last, err := s.store.LastSync(ctx, key)
		if err != nil {
			return err
		}
		if last != nil && time.Since(*last) < s.cfg.SyncCooldown {
			return nil
		}
	}

	var account mastodon.Account
	var err error
	if acct == "" {
		account, err = client.VerifyCredentials(ctx)
		if err != nil {
			return fmt.Errorf("verify credentials: %w", err)
		}
	} else {
		matches, err := client.SearchAccounts(ctx, acct, 1)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", acct, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("account %s not found on %s", acct, identity.BaseURL)
		}
		account = matches[0]
	}

	if err := s.store.UpsertAccount(ctx, accountFromAPI(metaID, identity.ID, account)); err != nil {
		return err
	}

	statuses, err := client.AccountStatuses(ctx, account.ID, mastodon.StatusesOptions{Limit: s.cfg.TimelineLimit})
	if err != nil {
		return fmt.Errorf("fetch statuses for %s: %w", account.Acct, err)
	}

	postRecords := make([]search.PostRecord, 0, len(statuses))
	var archiveEntries []archive.Entry
	for i := range statuses {
		post := s.buildPost(metaID, identity.ID, statuses[i])
		if err := s.store.UpsertPost(ctx, post); err != nil {
			return err
		}
		postRecords = append(postRecords, search.PostRecord{
			ID:            post.ID,
			MetaAccountID: metaID,
			Content:       post.Content,
			AuthorAcct:    post.AuthorAcct,
			Tags:          post.Tags,
			CreatedAt:     post.CreatedAt.Format(time.RFC3339),
		})
		if s.archive != nil && acct == "" && !post.IsReblog {
			archiveEntries = append(archiveEntries, archive.Entry{
				ID:         post.ID,
				AuthorAcct: post.AuthorAcct,
				CreatedAt:  post.CreatedAt,
				Content:    post.Content,
				Tags:       tagNames(post.Tags),
			})
		}
		if s.mirror != nil && post.HasMedia {
			s.mirrorStatus(ctx, post.ID, statuses[i])
		}
	}

	if s.search != nil {
		s.search.IndexPosts(postRecords)
		s.search.IndexAccounts([]search.AccountRecord{{
			ID:            account.ID,
			MetaAccountID: metaID,
			Acct:          account.Acct,
			DisplayName:   account.DisplayName,
			Note:          account.Note,
		}})
	}

	if len(archiveEntries) > 0 {
		meta, err := s.store.GetMetaAccountByID(ctx, metaID)
		if err == nil {
			if err := s.archive.ArchivePosts(meta.Username, archiveEntries); err != nil {
				log.Printf("sync: archive for %s: %v", meta.Username, err)
			}
		}
	}

	if err := s.store.SetLastSync(ctx, key, time.Now()); err != nil {
		return err
	}
	log.Printf("sync: cached %d statuses for %s (%s)", len(statuses), account.Acct, target)
	return nil
}

// syncNotifications caches recent interactions and, for mutual
// followers among the notifiers, refreshes their timelines too.
func (s *Service) syncNotifications(ctx context.Context, metaID string, identity store.Identity, client mastoClient, force bool) error {
	notifications, err := client.Notifications(ctx, notificationsLimit)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	stats := make(map[string]int)
	seenAccounts := make(map[string]mastodon.Account)
	for _, n := range notifications {
		stats[n.Type]++
		if _, ok := seenAccounts[n.Account.ID]; !ok {
			seenAccounts[n.Account.ID] = n.Account
			if err := s.store.UpsertAccount(ctx, accountFromAPI(metaID, identity.ID, n.Account)); err != nil {
				return err
			}
		}
		var statusID *string
		if n.Status != nil {
			id := n.Status.ID
			statusID = &id
		}
		if err := s.store.UpsertNotification(ctx, store.Notification{
			ID:            n.ID,
			MetaAccountID: metaID,
			IdentityID:    identity.ID,
			Type:          n.Type,
			CreatedAt:     n.CreatedAt,
			AccountID:     n.Account.ID,
			AccountAcct:   n.Account.Acct,
			StatusID:      statusID,
		}); err != nil {
			return err
		}
	}
	log.Printf("sync: notifications for %s: %v", identity.Name, stats)

	for _, account := range seenAccounts {
		cached, err := s.store.GetAccountByAcct(ctx, metaID, account.Acct)
		if err != nil {
			continue
		}
		if !cached.IsFollowing || !cached.IsFollowedBy {
			continue
		}
		if err := s.syncTimeline(ctx, metaID, identity, client, account.Acct, false); err != nil {
			log.Printf("sync: mutual timeline %s: %v", account.Acct, err)
		}
	}
	return nil
}

// buildPost unwraps reblogs, classifies the content and maps a status
// into its cached form. The stored author is always the actual author,
// with IsReblog recording that the identity boosted it.
func (s *Service) buildPost(metaID, identityID string, status mastodon.Status) store.Post {
	actual := &status
	isReblog := status.Reblog != nil
	if isReblog {
		actual = status.Reblog
	}

	isReplyToOther := actual.InReplyToID != "" &&
		actual.InReplyToAccountID != "" &&
		actual.InReplyToAccountID != actual.Account.ID
	flags := s.classifier.Classify(actual.Content, actual.AttachmentTypes(), isReplyToOther)

	var inReplyToID, inReplyToAccountID *string
	if actual.InReplyToID != "" {
		v := actual.InReplyToID
		inReplyToID = &v
	}
	if actual.InReplyToAccountID != "" {
		v := actual.InReplyToAccountID
		inReplyToAccountID = &v
	}

	names := make([]string, 0, len(actual.Tags))
	for _, tag := range actual.Tags {
		names = append(names, tag.Name)
	}
	tagsJSON, _ := json.Marshal(names)
	mediaJSON, _ := json.Marshal(actual.MediaAttachments)

	return store.Post{
		ID:                  status.ID,
		MetaAccountID:       metaID,
		FetchedByIdentityID: identityID,
		Content:             actual.Content,
		CreatedAt:           actual.CreatedAt,
		Visibility:          actual.Visibility,
		AuthorAcct:          actual.Account.Acct,
		AuthorID:            actual.Account.ID,
		IsReblog:            isReblog,
		IsReply:             isReplyToOther,
		InReplyToID:         inReplyToID,
		InReplyToAccountID:  inReplyToAccountID,
		HasMedia:            flags.HasMedia,
		HasVideo:            flags.HasVideo,
		HasNews:             flags.HasNews,
		HasTech:             flags.HasTech,
		HasLink:             flags.HasLink,
		HasQuestion:         flags.HasQuestion,
		MediaAttachments:    string(mediaJSON),
		Tags:                string(tagsJSON),
		RepliesCount:        actual.RepliesCount,
		ReblogsCount:        actual.ReblogsCount,
		FavouritesCount:     actual.FavouritesCount,
	}
}

func (s *Service) mirrorStatus(ctx context.Context, postID string, status mastodon.Status) {
	actual := &status
	if status.Reblog != nil {
		actual = status.Reblog
	}
	urls := make(map[string]string, len(actual.MediaAttachments))
	for _, attachment := range actual.MediaAttachments {
		if attachment.URL != "" {
			urls[attachment.ID] = attachment.URL
		}
	}
	if len(urls) > 0 {
		s.mirror.MirrorAll(ctx, postID, urls)
	}
}

// accountFromAPI maps a remote account into its cached row. The
// last_status_at the API returns is a bare date.
func accountFromAPI(metaID, identityID string, account mastodon.Account) store.Account {
	cached := store.Account{
		ID:             account.ID,
		MetaAccountID:  metaID,
		IdentityID:     identityID,
		Acct:           account.Acct,
		DisplayName:    account.DisplayName,
		Avatar:         account.Avatar,
		Header:         account.Header,
		URL:            account.URL,
		Note:           account.Note,
		Fields:         string(account.Fields),
		Bot:            account.Bot,
		Locked:         account.Locked,
		FollowersCount: account.FollowersCount,
		FollowingCount: account.FollowingCount,
		StatusesCount:  account.StatusesCount,
	}
	if !account.CreatedAt.IsZero() {
		createdAt := account.CreatedAt
		cached.CreatedAt = &createdAt
	}
	if account.LastStatusAt != "" {
		if at, err := time.Parse("2006-01-02", account.LastStatusAt); err == nil {
			cached.LastStatusAt = &at
		} else if at, err := time.Parse(time.RFC3339, account.LastStatusAt); err == nil {
			cached.LastStatusAt = &at
		}
	}
	return cached
}

func tagNames(tagsJSON string) []string {
	var names []string
	_ = json.Unmarshal([]byte(tagsJSON), &names)
	return names
}
