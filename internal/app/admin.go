package app

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mastoblog/api/internal/search"
	"mastoblog/api/internal/store"
)

var oauthScopes = []string{"read", "write"}

func (s *Service) oauthRedirectURI() string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + "/auth/callback"
}

// AdminStatus reports the connection and sync state of every identity.
func (s *Service) AdminStatus(ctx context.Context, metaID string) (map[string]any, error) {
	identities, err := s.store.ListIdentities(ctx, metaID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(identities))
	for _, identity := range identities {
		var lastSync any
		key := "timeline:" + metaID + ":" + identity.ID + ":self"
		if at, err := s.store.LastSync(ctx, key); err == nil && at != nil {
			lastSync = at.UTC().Format(time.RFC3339)
		}
		items = append(items, map[string]any{
			"name":      identity.Name,
			"base_url":  identity.BaseURL,
			"acct":      identity.Acct,
			"connected": identity.AccessToken != "",
			"last_sync": lastSync,
		})
	}

	analytics, err := s.store.Analytics(ctx, metaID, "")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"identities":   items,
		"cached_posts": analytics.TotalPosts,
	}, nil
}

// AdminNotifications lists the cached notifications for one identity,
// newest first.
func (s *Service) AdminNotifications(ctx context.Context, metaID, identityName string, limit int) (map[string]any, error) {
	identity, err := s.identityByName(ctx, metaID, identityName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > notificationsLimit {
		limit = notificationsLimit
	}
	notifications, err := s.store.ListNotifications(ctx, metaID, identity.ID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		item := map[string]any{
			"id":         n.ID,
			"type":       n.Type,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339),
			"account": map[string]any{
				"id":   n.AccountID,
				"acct": n.AccountAcct,
			},
		}
		if n.StatusID != nil {
			item["status_id"] = *n.StatusID
		} else {
			item["status_id"] = nil
		}
		items = append(items, item)
	}
	return map[string]any{"identity": identity.Name, "notifications": items}, nil
}

// AdminIdentities lists identities without credential material.
func (s *Service) AdminIdentities(ctx context.Context, metaID string) (map[string]any, error) {
	identities, err := s.store.ListIdentities(ctx, metaID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(identities))
	for _, identity := range identities {
		items = append(items, map[string]any{
			"id":        identity.ID,
			"name":      identity.Name,
			"base_url":  identity.BaseURL,
			"acct":      identity.Acct,
			"connected": identity.AccessToken != "",
		})
	}
	return map[string]any{"identities": items}, nil
}

func (s *Service) identityByName(ctx context.Context, metaID, name string) (store.Identity, error) {
	if name == "" {
		return s.store.FirstIdentity(ctx, metaID)
	}
	identities, err := s.store.ListIdentities(ctx, metaID)
	if err != nil {
		return store.Identity{}, err
	}
	for _, identity := range identities {
		if identity.Name == name {
			return identity, nil
		}
	}
	if identity, err := s.store.GetIdentity(ctx, metaID, name); err == nil {
		return identity, nil
	}
	return store.Identity{}, domainError(http.StatusNotFound, "NOT_FOUND", "unknown identity", map[string]any{"identity": name})
}

// AuthorizeLoginURL builds the instance OAuth URL for an identity. The
// identity name rides along as the state parameter so the callback
// knows which credentials to use for the exchange.
func (s *Service) AuthorizeLoginURL(ctx context.Context, metaID, identityName string) (string, error) {
	identity, err := s.identityByName(ctx, metaID, identityName)
	if err != nil {
		return "", err
	}
	authorizeURL := s.newClient(identity).AuthorizeURL(s.oauthRedirectURI(), oauthScopes)
	return authorizeURL + "&state=" + url.QueryEscape(identity.Name), nil
}

// ConnectIdentity exchanges an authorization code, stores the token
// and verifies the account behind it.
func (s *Service) ConnectIdentity(ctx context.Context, metaID, identityName, code string) (map[string]any, error) {
	if strings.TrimSpace(code) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
	}
	identity, err := s.identityByName(ctx, metaID, identityName)
	if err != nil {
		return nil, err
	}

	token, err := s.newClient(identity).ExchangeCode(ctx, code, s.oauthRedirectURI(), oauthScopes)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if err := s.store.SetIdentityToken(ctx, identity.ID, token.AccessToken); err != nil {
		return nil, err
	}
	identity.AccessToken = token.AccessToken

	account, err := s.newClient(identity).VerifyCredentials(ctx)
	if err != nil {
		return nil, wrapAPIError(err)
	}
	if err := s.store.UpdateIdentityAccount(ctx, identity.ID, account.Acct, account.ID); err != nil {
		return nil, err
	}

	return map[string]any{
		"identity":  identity.Name,
		"acct":      account.Acct,
		"connected": true,
	}, nil
}

// SearchPosts runs the full-text search scoped to the meta account.
func (s *Service) SearchPosts(metaID, query, filterType string, limit, offset int) map[string]any {
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": query}
	}
	var resultType search.ResultType
	switch filterType {
	case "post":
		resultType = search.ResultPost
	case "account":
		resultType = search.ResultAccount
	}
	response := s.search.Search(search.Query{
		Text:          query,
		MetaAccountID: metaID,
		FilterType:    resultType,
		Limit:         limit,
		Offset:        offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}
}
