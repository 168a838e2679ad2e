package mastodon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestVerifyCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/verify_credentials" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","acct":"avery@example.social","display_name":"Avery"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", WithAccessToken("tok"))
	acct, err := c.VerifyCredentials(context.Background())
	if err != nil {
		t.Fatalf("VerifyCredentials() error = %v", err)
	}
	if acct.ID != "42" || acct.Acct != "avery@example.social" {
		t.Fatalf("unexpected account: %+v", acct)
	}
}

func TestAccountStatusesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("limit") != "200" || q.Get("exclude_reblogs") != "true" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write([]byte(`[{"id":"1","content":"<p>hi</p>"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", WithAccessToken("tok"))
	statuses, err := c.AccountStatuses(context.Background(), "42", StatusesOptions{Limit: 200, ExcludeReblogs: true})
	if err != nil {
		t.Fatalf("AccountStatuses() error = %v", err)
	}
	if len(statuses) != 1 || statuses[0].ID != "1" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestDoReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"The access token is invalid"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret", WithAccessToken("bad"))
	_, err := c.VerifyCredentials(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d", apiErr.StatusCode)
	}
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "abc" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Write([]byte(`{"access_token":"granted","token_type":"Bearer"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cid", "csecret")
	tok, err := c.ExchangeCode(context.Background(), "abc", "http://localhost/callback", []string{"read", "write"})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if tok.AccessToken != "granted" {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestAuthorizeURL(t *testing.T) {
	c := NewClient("https://example.social/", "cid", "csecret")
	raw := c.AuthorizeURL("http://localhost/callback", []string{"read", "write"})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse authorize URL: %v", err)
	}
	if u.Path != "/oauth/authorize" {
		t.Fatalf("path = %s", u.Path)
	}
	q := u.Query()
	if q.Get("client_id") != "cid" || q.Get("scope") != "read write" || q.Get("response_type") != "code" {
		t.Fatalf("unexpected query %v", q)
	}
}
