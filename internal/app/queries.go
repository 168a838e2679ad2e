package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mastoblog/api/internal/storm"
	"mastoblog/api/internal/store"
)

// EveryoneUser is the virtual user whose feed spans every cached
// author. It never syncs and has no real account behind it.
const EveryoneUser = "everyone"

const blogrollLimit = 40

var allowedKinds = map[string]struct{}{
	store.KindAll:         {},
	store.KindShorts:      {},
	store.KindDiscussions: {},
	store.KindPictures:    {},
	store.KindVideos:      {},
	store.KindNews:        {},
	store.KindSoftware:    {},
	store.KindLinks:       {},
	store.KindQuestions:   {},
	store.KindEveryone:    {},
}

var allowedBlogrollFilters = map[string]store.BlogrollFilter{
	"all":          store.BlogrollAll,
	"top_friends":  store.BlogrollTopFriends,
	"mutuals":      store.BlogrollMutuals,
	"chatty":       store.BlogrollChatty,
	"broadcasters": store.BlogrollBroadcasters,
	"bots":         store.BlogrollBots,
}

// resolveAuthor turns the user query param into a store author filter.
// Empty means "the blog owner" (first identity); "everyone" lifts the
// author restriction entirely.
func (s *Service) resolveAuthor(ctx context.Context, metaID, user string) (string, error) {
	if user == EveryoneUser {
		return "", nil
	}
	if user != "" {
		return user, nil
	}
	return s.defaultAcct(ctx, metaID)
}

func (s *Service) Posts(ctx context.Context, metaID, user, kind string, limit int) (map[string]any, error) {
	kind = firstNonBlank(kind, store.KindAll)
	if _, ok := allowedKinds[kind]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown filter type", map[string]any{"filter_type": kind})
	}
	author, err := s.resolveAuthor(ctx, metaID, user)
	if err != nil {
		return nil, err
	}
	posts, err := s.store.ListPosts(ctx, store.PostFilter{
		MetaAccountID: metaID,
		AuthorAcct:    author,
		Kind:          kind,
		Limit:         limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		items = append(items, postPayload(p))
	}
	return map[string]any{
		"posts":       items,
		"user":        firstNonBlank(user, author),
		"filter_type": kind,
	}, nil
}

func (s *Service) PostDetail(ctx context.Context, metaID, postID string) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, metaID, postID)
	if err != nil {
		return nil, err
	}
	return postPayload(post), nil
}

func (s *Service) Storms(ctx context.Context, metaID, user string) (map[string]any, error) {
	author, err := s.resolveAuthor(ctx, metaID, user)
	if err != nil {
		return nil, err
	}
	posts, err := s.store.ListStormPosts(ctx, metaID, author)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Post, len(posts))
	input := make([]storm.Post, 0, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
		inReplyTo := ""
		if p.InReplyToID != nil {
			inReplyTo = *p.InReplyToID
		}
		input = append(input, storm.Post{
			ID:          p.ID,
			InReplyToID: inReplyTo,
			AuthorID:    p.AuthorAcct,
			CreatedAt:   p.CreatedAt,
			HasLink:     p.HasLink,
		})
	}

	storms := storm.Assemble(input)
	items := make([]map[string]any, 0, len(storms))
	for _, st := range storms {
		branches, count := branchPayloads(st.Branches, byID)
		items = append(items, map[string]any{
			"root":       postPayload(byID[st.Root.ID]),
			"branches":   branches,
			"post_count": count + 1,
		})
	}
	return map[string]any{
		"storms": items,
		"user":   firstNonBlank(user, author),
	}, nil
}

func branchPayloads(branches []storm.Branch, byID map[string]store.Post) ([]map[string]any, int) {
	items := make([]map[string]any, 0, len(branches))
	total := 0
	for _, b := range branches {
		children, count := branchPayloads(b.Children, byID)
		items = append(items, map[string]any{
			"post":     postPayload(byID[b.Post.ID]),
			"children": children,
		})
		total += count + 1
	}
	return items, total
}

func (s *Service) Blogroll(ctx context.Context, metaID, filter string) (map[string]any, error) {
	filter = firstNonBlank(filter, "all")
	storeFilter, ok := allowedBlogrollFilters[filter]
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown blogroll filter", map[string]any{"filter": filter})
	}

	var accounts []store.Account
	switch storeFilter {
	case store.BlogrollChatty, store.BlogrollBroadcasters:
		engagement, err := s.store.ListAccountEngagement(ctx, metaID, 200)
		if err != nil {
			return nil, err
		}
		for _, e := range engagement {
			if e.TotalPosts < 5 {
				continue
			}
			ratio := e.ReplyRatio()
			if storeFilter == store.BlogrollChatty && ratio <= 0.5 {
				continue
			}
			if storeFilter == store.BlogrollBroadcasters && ratio >= 0.2 {
				continue
			}
			accounts = append(accounts, e.Account)
			if len(accounts) == blogrollLimit {
				break
			}
		}
	default:
		var err error
		accounts, err = s.store.ListBlogroll(ctx, metaID, storeFilter, blogrollLimit)
		if err != nil {
			return nil, err
		}
	}

	items := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		items = append(items, accountPayload(a))
	}
	return map[string]any{
		"accounts": items,
		"filter":   filter,
	}, nil
}

func (s *Service) AccountInfo(ctx context.Context, metaID, acct string) (map[string]any, error) {
	if acct == EveryoneUser {
		return map[string]any{
			"acct":         EveryoneUser,
			"display_name": "Everyone",
			"note":         "Every author in the cache, together.",
			"virtual":      true,
		}, nil
	}
	account, err := s.store.GetAccountByAcct(ctx, metaID, acct)
	if err != nil {
		return nil, err
	}
	return accountPayload(account), nil
}

func (s *Service) Hashtags(ctx context.Context, metaID, user string) (map[string]any, error) {
	author, err := s.resolveAuthor(ctx, metaID, user)
	if err != nil {
		return nil, err
	}
	tags, err := s.store.TagCounts(ctx, metaID, author)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tags))
	for _, t := range tags {
		items = append(items, map[string]any{"name": t.Name, "count": t.Count})
	}
	return map[string]any{"hashtags": items}, nil
}

func (s *Service) Analytics(ctx context.Context, metaID, user string) (map[string]any, error) {
	author, err := s.resolveAuthor(ctx, metaID, user)
	if err != nil {
		return nil, err
	}
	analytics, err := s.store.Analytics(ctx, metaID, author)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"total_posts":      analytics.TotalPosts,
		"total_replies":    analytics.TotalReplies,
		"total_boosts":     analytics.TotalBoosts,
		"total_favourites": analytics.TotalFavourites,
	}, nil
}

func (s *Service) Counts(ctx context.Context, metaID, user string) (map[string]any, error) {
	author, err := s.resolveAuthor(ctx, metaID, user)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.CountsByKind(ctx, metaID, author)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"storms":      counts.Storms,
		"shorts":      counts.Shorts,
		"news":        counts.News,
		"software":    counts.Software,
		"pictures":    counts.Pictures,
		"videos":      counts.Videos,
		"discussions": counts.Discussions,
		"links":       counts.Links,
		"questions":   counts.Questions,
		"everyone":    counts.Everyone,
	}, nil
}

func postPayload(p store.Post) map[string]any {
	var inReplyTo any
	if p.InReplyToID != nil {
		inReplyTo = *p.InReplyToID
	}
	return map[string]any{
		"id":         p.ID,
		"content":    p.Content,
		"created_at": p.CreatedAt.Format(time.RFC3339),
		"visibility": p.Visibility,
		"account": map[string]any{
			"id":   p.AuthorID,
			"acct": p.AuthorAcct,
		},
		"is_reblog":         p.IsReblog,
		"is_reply":          p.IsReply,
		"in_reply_to_id":    inReplyTo,
		"has_media":         p.HasMedia,
		"has_video":         p.HasVideo,
		"has_news":          p.HasNews,
		"has_tech":          p.HasTech,
		"has_link":          p.HasLink,
		"has_question":      p.HasQuestion,
		"media_attachments": rawJSONList(p.MediaAttachments),
		"tags":              rawJSONList(p.Tags),
		"replies_count":     p.RepliesCount,
		"reblogs_count":     p.ReblogsCount,
		"favourites_count":  p.FavouritesCount,
	}
}

func accountPayload(a store.Account) map[string]any {
	var lastStatusAt any
	if a.LastStatusAt != nil {
		lastStatusAt = a.LastStatusAt.Format(time.RFC3339)
	}
	var createdAt any
	if a.CreatedAt != nil {
		createdAt = a.CreatedAt.Format(time.RFC3339)
	}
	return map[string]any{
		"id":              a.ID,
		"acct":            a.Acct,
		"display_name":    a.DisplayName,
		"avatar":          a.Avatar,
		"header":          a.Header,
		"url":             a.URL,
		"note":            a.Note,
		"fields":          rawJSONList(a.Fields),
		"bot":             a.Bot,
		"locked":          a.Locked,
		"followers_count": a.FollowersCount,
		"following_count": a.FollowingCount,
		"statuses_count":  a.StatusesCount,
		"is_following":    a.IsFollowing,
		"is_followed_by":  a.IsFollowedBy,
		"created_at":      createdAt,
		"last_status_at":  lastStatusAt,
	}
}

// rawJSONList passes a stored JSON array through without re-decoding.
func rawJSONList(value string) json.RawMessage {
	if value == "" {
		return json.RawMessage("[]")
	}
	return json.RawMessage(value)
}
