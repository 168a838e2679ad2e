// Package mastodon is a thin typed client for the subset of the
// Mastodon REST API the sync engine uses.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the instance.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mastodon: status %d: %s", e.StatusCode, e.Body)
}

// Client talks to one Mastodon instance with one access token.
// It is safe for concurrent use.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	accessToken  string
	http         *http.Client
}

type Option func(*Client)

func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(baseURL, clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	var body io.Reader
	endpoint := c.baseURL + path
	if params != nil {
		if method == http.MethodGet {
			endpoint += "?" + params.Encode()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// VerifyCredentials returns the account the access token belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (Account, error) {
	var acct Account
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &acct)
	return acct, err
}

type StatusesOptions struct {
	Limit          int
	ExcludeReblogs bool
}

func (c *Client) AccountStatuses(ctx context.Context, accountID string, opts StatusesOptions) ([]Status, error) {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.ExcludeReblogs {
		params.Set("exclude_reblogs", "true")
	}
	var statuses []Status
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/statuses", params, &statuses)
	return statuses, err
}

func (c *Client) Following(ctx context.Context, accountID string, limit int) ([]Account, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var accounts []Account
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/following", params, &accounts)
	return accounts, err
}

func (c *Client) Followers(ctx context.Context, accountID string, limit int) ([]Account, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var accounts []Account
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+accountID+"/followers", params, &accounts)
	return accounts, err
}

func (c *Client) HomeTimeline(ctx context.Context, limit int) ([]Status, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var statuses []Status
	err := c.do(ctx, http.MethodGet, "/api/v1/timelines/home", params, &statuses)
	return statuses, err
}

// SearchAccounts resolves accounts by acct or display name.
func (c *Client) SearchAccounts(ctx context.Context, query string, limit int) ([]Account, error) {
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(limit)}}
	var accounts []Account
	err := c.do(ctx, http.MethodGet, "/api/v1/accounts/search", params, &accounts)
	return accounts, err
}

func (c *Client) Notifications(ctx context.Context, limit int) ([]Notification, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	var notifications []Notification
	err := c.do(ctx, http.MethodGet, "/api/v1/notifications", params, &notifications)
	return notifications, err
}

func (c *Client) Status(ctx context.Context, statusID string) (Status, error) {
	var status Status
	err := c.do(ctx, http.MethodGet, "/api/v1/statuses/"+statusID, nil, &status)
	return status, err
}

func (c *Client) StatusContext(ctx context.Context, statusID string) (Context, error) {
	var thread Context
	err := c.do(ctx, http.MethodGet, "/api/v1/statuses/"+statusID+"/context", nil, &thread)
	return thread, err
}

func (c *Client) StatusSource(ctx context.Context, statusID string) (StatusSource, error) {
	var src StatusSource
	err := c.do(ctx, http.MethodGet, "/api/v1/statuses/"+statusID+"/source", nil, &src)
	return src, err
}

type PostStatusOptions struct {
	Status      string
	SpoilerText string
	InReplyToID string
	Visibility  string
}

func (c *Client) PostStatus(ctx context.Context, opts PostStatusOptions) (Status, error) {
	params := url.Values{"status": {opts.Status}}
	if opts.SpoilerText != "" {
		params.Set("spoiler_text", opts.SpoilerText)
	}
	if opts.InReplyToID != "" {
		params.Set("in_reply_to_id", opts.InReplyToID)
	}
	if opts.Visibility != "" {
		params.Set("visibility", opts.Visibility)
	}
	var status Status
	err := c.do(ctx, http.MethodPost, "/api/v1/statuses", params, &status)
	return status, err
}

func (c *Client) EditStatus(ctx context.Context, statusID, text, spoilerText string) (Status, error) {
	params := url.Values{"status": {text}, "spoiler_text": {spoilerText}}
	var status Status
	err := c.do(ctx, http.MethodPut, "/api/v1/statuses/"+statusID, params, &status)
	return status, err
}

// AuthorizeURL builds the interactive OAuth authorization URL.
func (c *Client) AuthorizeURL(redirectURI string, scopes []string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {strings.Join(scopes, " ")},
	}
	return c.baseURL + "/oauth/authorize?" + params.Encode()
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string, scopes []string) (Token, error) {
	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"scope":         {strings.Join(scopes, " ")},
	}
	var tok Token
	err := c.do(ctx, http.MethodPost, "/oauth/token", params, &tok)
	return tok, err
}
