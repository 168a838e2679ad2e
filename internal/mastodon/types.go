package mastodon

import (
	"encoding/json"
	"time"
)

// Account is a Mastodon account as returned by the API. Only the
// fields the sync engine reads are mapped.
type Account struct {
	ID             string          `json:"id"`
	Acct           string          `json:"acct"`
	Username       string          `json:"username"`
	DisplayName    string          `json:"display_name"`
	Note           string          `json:"note"`
	URL            string          `json:"url"`
	Avatar         string          `json:"avatar"`
	Header         string          `json:"header"`
	Fields         json.RawMessage `json:"fields"`
	FollowersCount int             `json:"followers_count"`
	FollowingCount int             `json:"following_count"`
	StatusesCount  int             `json:"statuses_count"`
	LastStatusAt   string          `json:"last_status_at"`
	Bot            bool            `json:"bot"`
	Locked         bool            `json:"locked"`
	CreatedAt      time.Time       `json:"created_at"`
}

type MediaAttachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	PreviewURL  string `json:"preview_url"`
	RemoteURL   string `json:"remote_url"`
	Description string `json:"description"`
}

type Tag struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Status is a post. Reblog is non-nil when the status is a boost of
// someone else's post; sync unwraps it before caching.
type Status struct {
	ID                 string            `json:"id"`
	URI                string            `json:"uri"`
	URL                string            `json:"url"`
	Content            string            `json:"content"`
	SpoilerText        string            `json:"spoiler_text"`
	Visibility         string            `json:"visibility"`
	CreatedAt          time.Time         `json:"created_at"`
	InReplyToID        string            `json:"in_reply_to_id"`
	InReplyToAccountID string            `json:"in_reply_to_account_id"`
	Account            Account           `json:"account"`
	Reblog             *Status           `json:"reblog"`
	MediaAttachments   []MediaAttachment `json:"media_attachments"`
	Tags               []Tag             `json:"tags"`
	RepliesCount       int               `json:"replies_count"`
	ReblogsCount       int               `json:"reblogs_count"`
	FavouritesCount    int               `json:"favourites_count"`
}

// AttachmentTypes lists the media attachment type strings, in order.
func (s *Status) AttachmentTypes() []string {
	if len(s.MediaAttachments) == 0 {
		return nil
	}
	types := make([]string, len(s.MediaAttachments))
	for i, m := range s.MediaAttachments {
		types[i] = m.Type
	}
	return types
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   Account   `json:"account"`
	Status    *Status   `json:"status"`
}

// Context holds the thread around a status.
type Context struct {
	Ancestors   []Status `json:"ancestors"`
	Descendants []Status `json:"descendants"`
}

// StatusSource is the editable plain-text form of a status.
type StatusSource struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	SpoilerText string `json:"spoiler_text"`
}

// Token is the OAuth token response from /oauth/token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
}
