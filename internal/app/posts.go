package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"mastoblog/api/internal/mastodon"
	"mastoblog/api/internal/store"
)

// primaryClient returns the first connected identity and an API client
// acting as it. Live proxy endpoints all go through this.
func (s *Service) primaryClient(ctx context.Context, metaID string) (store.Identity, mastoClient, error) {
	identity, err := s.store.FirstIdentity(ctx, metaID)
	if err != nil {
		return store.Identity{}, nil, err
	}
	if identity.AccessToken == "" {
		return store.Identity{}, nil, domainError(http.StatusServiceUnavailable, "IDENTITY_NOT_CONNECTED", "No connected Mastodon identity", nil)
	}
	return identity, s.newClient(identity), nil
}

// PostContext proxies the live thread around a status.
func (s *Service) PostContext(ctx context.Context, metaID, postID string) (map[string]any, error) {
	_, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return nil, err
	}
	thread, err := client.StatusContext(ctx, postID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	return map[string]any{
		"ancestors":   thread.Ancestors,
		"descendants": thread.Descendants,
	}, nil
}

// Comments returns the live replies under a status from people other
// than its author. The author's own continuation is storm material,
// not commentary.
func (s *Service) Comments(ctx context.Context, metaID, postID string) (map[string]any, error) {
	_, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return nil, err
	}
	status, err := client.Status(ctx, postID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	thread, err := client.StatusContext(ctx, postID)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	comments := make([]mastodon.Status, 0, len(thread.Descendants))
	for _, reply := range thread.Descendants {
		if reply.Account.ID == status.Account.ID {
			continue
		}
		comments = append(comments, reply)
	}
	return map[string]any{
		"post_id":  postID,
		"comments": comments,
	}, nil
}

type CreatePostInput struct {
	Status      string `json:"status"`
	SpoilerText string `json:"spoiler_text"`
	InReplyToID string `json:"in_reply_to_id"`
	Visibility  string `json:"visibility"`
}

func (s *Service) CreatePost(ctx context.Context, metaID string, input CreatePostInput) (mastodon.Status, error) {
	if strings.TrimSpace(input.Status) == "" {
		return mastodon.Status{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status text is required", nil)
	}
	identity, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return mastodon.Status{}, err
	}
	posted, err := client.PostStatus(ctx, mastodon.PostStatusOptions{
		Status:      input.Status,
		SpoilerText: input.SpoilerText,
		InReplyToID: input.InReplyToID,
		Visibility:  input.Visibility,
	})
	if err != nil {
		return mastodon.Status{}, wrapAPIError(err)
	}
	s.forceSelfSync(metaID, identity, client)
	return posted, nil
}

type EditPostInput struct {
	Status      string `json:"status"`
	SpoilerText string `json:"spoiler_text"`
}

func (s *Service) EditPost(ctx context.Context, metaID, postID string, input EditPostInput) (mastodon.Status, error) {
	if strings.TrimSpace(input.Status) == "" {
		return mastodon.Status{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status text is required", nil)
	}
	identity, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return mastodon.Status{}, err
	}
	edited, err := client.EditStatus(ctx, postID, input.Status, input.SpoilerText)
	if err != nil {
		return mastodon.Status{}, wrapAPIError(err)
	}
	s.forceSelfSync(metaID, identity, client)
	return edited, nil
}

func (s *Service) PostSource(ctx context.Context, metaID, postID string) (mastodon.StatusSource, error) {
	_, client, err := s.primaryClient(ctx, metaID)
	if err != nil {
		return mastodon.StatusSource{}, err
	}
	source, err := client.StatusSource(ctx, postID)
	if err != nil {
		return mastodon.StatusSource{}, wrapAPIError(err)
	}
	return source, nil
}

// forceSelfSync refreshes the own-posts cache right after a write so
// the new or edited post shows up without waiting for the scheduler.
func (s *Service) forceSelfSync(metaID string, identity store.Identity, client mastoClient) {
	go func() {
		ctx, cancel := syncContext()
		defer cancel()
		if err := s.syncTimeline(ctx, metaID, identity, client, "", true); err != nil {
			log.Printf("sync: post-write self sync failed: %v", err)
		}
	}()
}

// wrapAPIError surfaces remote 4xx responses with their upstream
// status instead of a blanket 500.
func wrapAPIError(err error) error {
	var apiErr *mastodon.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return domainError(apiErr.StatusCode, "UPSTREAM_ERROR", "Mastodon API request failed", map[string]any{
			"status": apiErr.StatusCode,
		})
	}
	return err
}
