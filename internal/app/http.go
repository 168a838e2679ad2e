package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mastoblog/api/internal/auth"
	"mastoblog/api/internal/preview"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "username": session.Username, "metaAccountId": session.MetaID})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":         session.Token,
			"refreshToken":  session.RefreshToken,
			"username":      session.Username,
			"metaAccountId": session.MetaID,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"username":     session.Username,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/auth/login" {
		metaID, ok := s.metaID(w, r)
		if !ok {
			return
		}
		authorizeURL, err := s.service.AuthorizeLoginURL(r.Context(), metaID, r.URL.Query().Get("identity"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		http.Redirect(w, r, authorizeURL, http.StatusFound)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/auth/callback" {
		metaID, ok := s.metaID(w, r)
		if !ok {
			return
		}
		code := r.URL.Query().Get("code")
		identityName := r.URL.Query().Get("state")
		if _, err := s.service.ConnectIdentity(r.Context(), metaID, identityName, code); err != nil {
			status, errCode, message, details := mapError(err)
			writeError(w, status, errCode, message, details)
			return
		}
		http.Redirect(w, r, s.service.cfg.FrontendURL, http.StatusFound)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/card" {
		rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
		if rawURL == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url is required", nil)
			return
		}
		if s.service.preview == nil {
			writeError(w, http.StatusServiceUnavailable, "PREVIEW_UNAVAILABLE", "Link previews are not enabled", nil)
			return
		}
		card, err := s.service.preview.Card(r.Context(), rawURL)
		if err != nil {
			switch {
			case errors.Is(err, preview.ErrDisallowedURL):
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "URL is not allowed", nil)
			case errors.Is(err, preview.ErrUnsupportedContent):
				writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_CONTENT", "URL does not serve HTML", nil)
			default:
				writeError(w, http.StatusBadGateway, "FETCH_FAILED", "Could not fetch the URL", nil)
			}
			return
		}
		writeJSON(w, http.StatusOK, card)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		metaID, ok := s.metaID(w, r)
		if !ok {
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload := s.service.SearchPosts(metaID, query, r.URL.Query().Get("type"), limit, offset)
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/public/") {
		s.handlePublic(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		writeJSON(w, http.StatusOK, map[string]any{
			"metaAccountId": session.MetaID,
			"username":      session.Username,
			"expiresAt":     session.ExpiresAt.UTC().Format(time.RFC3339),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/posts" {
		var body CreatePostInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		posted, err := s.service.CreatePost(r.Context(), session.MetaID, body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, posted)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/sync" {
		force := r.URL.Query().Get("force") == "true"
		go func(metaID string) {
			ctx, cancel := syncContext()
			defer cancel()
			if err := s.service.SyncAll(ctx, metaID, force); err != nil {
				log.Printf("sync: full sync failed: %v", err)
			}
		}(session.MetaID)
		writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "force": force})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/status" {
		payload, err := s.service.AdminStatus(r.Context(), session.MetaID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/notifications" {
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		payload, err := s.service.AdminNotifications(r.Context(), session.MetaID, r.URL.Query().Get("identity"), limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/admin/identities" {
		payload, err := s.service.AdminIdentities(r.Context(), session.MetaID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/identities" {
		var body struct {
			Identity string `json:"identity"`
			Code     string `json:"code"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ConnectIdentity(r.Context(), session.MetaID, body.Identity, body.Code)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "edit" && r.Method == http.MethodPost {
		var body EditPostInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		edited, err := s.service.EditPost(r.Context(), session.MetaID, parts[2], body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, edited)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "posts" && parts[3] == "source" && r.Method == http.MethodGet {
		source, err := s.service.PostSource(r.Context(), session.MetaID, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, source)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handlePublic routes the unauthenticated read surface. Everything is
// scoped by the X-Meta-Account-ID header, defaulting to the default
// meta account.
func (s *HTTPServer) handlePublic(w http.ResponseWriter, r *http.Request) {
	metaID, ok := s.metaID(w, r)
	if !ok {
		return
	}

	user := strings.TrimSpace(r.URL.Query().Get("user"))

	if r.Method == http.MethodGet {
		var payload map[string]any
		var err error
		handled := true

		switch r.URL.Path {
		case "/api/public/posts":
			limit, lerr := queryInt(r, "limit", 100)
			if lerr != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", lerr.Error(), nil)
				return
			}
			payload, err = s.service.Posts(r.Context(), metaID, user, r.URL.Query().Get("filter_type"), limit)
		case "/api/public/posts/all":
			limit, lerr := queryInt(r, "limit", 100)
			if lerr != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", lerr.Error(), nil)
				return
			}
			payload, err = s.service.Posts(r.Context(), metaID, EveryoneUser, "everyone", limit)
		case "/api/public/shorts":
			limit, lerr := queryInt(r, "limit", 100)
			if lerr != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", lerr.Error(), nil)
				return
			}
			payload, err = s.service.Posts(r.Context(), metaID, user, "shorts", limit)
		case "/api/public/storms":
			payload, err = s.service.Storms(r.Context(), metaID, user)
		case "/api/public/hashtags":
			payload, err = s.service.Hashtags(r.Context(), metaID, user)
		case "/api/public/analytics":
			payload, err = s.service.Analytics(r.Context(), metaID, user)
		case "/api/public/counts":
			payload, err = s.service.Counts(r.Context(), metaID, user)
		case "/api/public/accounts/blogroll":
			payload, err = s.service.Blogroll(r.Context(), metaID, r.URL.Query().Get("filter"))
		default:
			handled = false
		}
		if handled {
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[2] == "posts" && r.Method == http.MethodGet {
		payload, err := s.service.PostDetail(r.Context(), metaID, parts[3])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "posts" && r.Method == http.MethodGet {
		var payload map[string]any
		var err error
		switch parts[4] {
		case "context":
			payload, err = s.service.PostContext(r.Context(), metaID, parts[3])
		case "comments":
			payload, err = s.service.Comments(r.Context(), metaID, parts[3])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 4 && parts[2] == "accounts" && r.Method == http.MethodGet {
		payload, err := s.service.AccountInfo(r.Context(), metaID, parts[3])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 && parts[2] == "accounts" && parts[4] == "sync" && r.Method == http.MethodPost {
		force := r.URL.Query().Get("force") == "true"
		if err := s.service.SyncAccount(r.Context(), metaID, parts[3], force); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"synced": parts[3]})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) metaID(w http.ResponseWriter, r *http.Request) (string, bool) {
	metaID, err := s.service.ResolveMetaID(r.Context(), r.Header.Get("X-Meta-Account-ID"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return "", false
	}
	return metaID, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Meta-Account-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return parsed, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
