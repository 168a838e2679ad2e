package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mastoblog/api/internal/mastodon"
	"mastoblog/api/internal/store"
)

func newTestServer(fs *fakeStore, fm *fakeMasto) *HTTPServer {
	return NewHTTPServer(newTestService(fs, fm), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Errorf("ok = %v", payload["ok"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestPublicPostsRoute(t *testing.T) {
	fs := &fakeStore{
		listPostsFn: func(_ context.Context, filter store.PostFilter) ([]store.Post, error) {
			return []store.Post{{ID: "42", AuthorAcct: filter.AuthorAcct, CreatedAt: time.Now()}}, nil
		},
	}
	server := newTestServer(fs, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/api/public/posts?filter_type=all", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	posts := payload["posts"].([]any)
	if len(posts) != 1 {
		t.Fatalf("posts = %v", posts)
	}
}

func TestPublicPostsRejectsBadFilter(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/api/public/posts?filter_type=bogus", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestPublicPostDetailNotFound(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/api/public/posts/999", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestWriteEndpointsRequireSession(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodPost, "/api/posts", "", `{"status":"hello"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestLoginThenCreatePost(t *testing.T) {
	var postedText string
	fm := &fakeMasto{
		postStatusFn: func(_ context.Context, opts mastodon.PostStatusOptions) (mastodon.Status, error) {
			postedText = opts.Status
			return mastodon.Status{ID: "new-1", Content: opts.Status}, nil
		},
	}
	server := newTestServer(&fakeStore{}, fm)

	rr := doRequest(t, server, http.MethodPost, "/api/session/login", "", `{"username":"avery"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rr.Code, rr.Body.String())
	}
	token, _ := decodeResponse(t, rr)["token"].(string)
	if token == "" {
		t.Fatal("expected a session token")
	}

	rr = doRequest(t, server, http.MethodPost, "/api/posts", token, `{"status":"hello fediverse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	if postedText != "hello fediverse" {
		t.Errorf("posted text = %q", postedText)
	}
	if payload := decodeResponse(t, rr); payload["id"] != "new-1" {
		t.Errorf("post id = %v", payload["id"])
	}
}

func TestSessionEndpointReportsAnonymous(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["authenticated"] != false {
		t.Errorf("authenticated = %v", payload["authenticated"])
	}
}

func TestAccountSyncRouteRejectsEveryone(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodPost, "/api/public/accounts/everyone/sync", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCardRequiresURL(t *testing.T) {
	server := newTestServer(&fakeStore{}, &fakeMasto{})

	rr := doRequest(t, server, http.MethodGet, "/card", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}
