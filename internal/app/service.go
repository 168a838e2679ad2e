package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"mastoblog/api/internal/archive"
	"mastoblog/api/internal/auth"
	"mastoblog/api/internal/classify"
	"mastoblog/api/internal/config"
	"mastoblog/api/internal/mastodon"
	"mastoblog/api/internal/media"
	"mastoblog/api/internal/preview"
	"mastoblog/api/internal/search"
	"mastoblog/api/internal/store"
	"mastoblog/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	MetaID       string
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureMetaAccount(context.Context, string) (store.MetaAccount, error)
	GetMetaAccountByID(context.Context, string) (store.MetaAccount, error)
	GetMetaAccountByUsername(context.Context, string) (store.MetaAccount, error)
	UpsertIdentity(context.Context, store.Identity) (store.Identity, error)
	ListIdentities(context.Context, string) ([]store.Identity, error)
	FirstIdentity(context.Context, string) (store.Identity, error)
	GetIdentity(context.Context, string, string) (store.Identity, error)
	UpdateIdentityAccount(context.Context, string, string, string) error
	SetIdentityToken(context.Context, string, string) error
	UpsertAccount(context.Context, store.Account) error
	GetAccountByAcct(context.Context, string, string) (store.Account, error)
	ListBlogroll(context.Context, string, store.BlogrollFilter, int) ([]store.Account, error)
	ListAccountEngagement(context.Context, string, int) ([]store.AccountEngagement, error)
	UpsertPost(context.Context, store.Post) error
	ListPosts(context.Context, store.PostFilter) ([]store.Post, error)
	ListStormPosts(context.Context, string, string) ([]store.Post, error)
	GetPost(context.Context, string, string) (store.Post, error)
	CountsByKind(context.Context, string, string) (store.Counts, error)
	TagCounts(context.Context, string, string) ([]store.TagCount, error)
	Analytics(context.Context, string, string) (store.Analytics, error)
	UpsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, string, int) ([]store.Notification, error)
	LastSync(context.Context, string) (*time.Time, error)
	SetLastSync(context.Context, string, time.Time) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	RevokeRefreshSession(context.Context, string) error
	LookupRefreshSession(context.Context, string) (store.MetaAccount, error)
}

// mastoClient is the slice of the Mastodon API the service calls,
// split out so tests can fake the remote instance.
type mastoClient interface {
	VerifyCredentials(ctx context.Context) (mastodon.Account, error)
	AccountStatuses(ctx context.Context, accountID string, opts mastodon.StatusesOptions) ([]mastodon.Status, error)
	Following(ctx context.Context, accountID string, limit int) ([]mastodon.Account, error)
	Followers(ctx context.Context, accountID string, limit int) ([]mastodon.Account, error)
	HomeTimeline(ctx context.Context, limit int) ([]mastodon.Status, error)
	SearchAccounts(ctx context.Context, query string, limit int) ([]mastodon.Account, error)
	Notifications(ctx context.Context, limit int) ([]mastodon.Notification, error)
	Status(ctx context.Context, statusID string) (mastodon.Status, error)
	StatusContext(ctx context.Context, statusID string) (mastodon.Context, error)
	StatusSource(ctx context.Context, statusID string) (mastodon.StatusSource, error)
	PostStatus(ctx context.Context, opts mastodon.PostStatusOptions) (mastodon.Status, error)
	EditStatus(ctx context.Context, statusID, text, spoilerText string) (mastodon.Status, error)
	AuthorizeURL(redirectURI string, scopes []string) string
	ExchangeCode(ctx context.Context, code, redirectURI string, scopes []string) (mastodon.Token, error)
}

type Service struct {
	cfg        config.Config
	store      dataStore
	classifier *classify.Classifier
	search     *search.Service
	preview    *preview.Service
	mirror     *media.Mirror
	archive    *archive.Service
	newClient  func(identity store.Identity) mastoClient

	defaultMetaID string
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	classifier *classify.Classifier,
	searchService *search.Service,
	previewService *preview.Service,
	mediaMirror *media.Mirror,
	archiveService *archive.Service,
) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		classifier: classifier,
		search:     searchService,
		preview:    previewService,
		mirror:     mediaMirror,
		archive:    archiveService,
		newClient: func(identity store.Identity) mastoClient {
			return mastodon.NewClient(
				identity.BaseURL,
				identity.ClientID,
				identity.ClientSecret,
				mastodon.WithAccessToken(identity.AccessToken),
			)
		},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap creates the default meta account, registers the identities
// found in the environment, and fills in acct/account_id for any
// identity that already carries a usable token. A failing verification
// is logged and skipped so one dead instance never blocks startup.
func (s *Service) Bootstrap(ctx context.Context) error {
	meta, err := s.store.EnsureMetaAccount(ctx, "default")
	if err != nil {
		return err
	}
	s.defaultMetaID = meta.ID

	for _, identityCfg := range config.LoadIdentities() {
		identity, err := s.store.UpsertIdentity(ctx, store.Identity{
			MetaAccountID: meta.ID,
			Name:          identityCfg.Name,
			BaseURL:       identityCfg.BaseURL,
			ClientID:      identityCfg.ClientID,
			ClientSecret:  identityCfg.ClientSecret,
			AccessToken:   identityCfg.AccessToken,
		})
		if err != nil {
			return err
		}
		if identity.AccessToken == "" {
			log.Printf("bootstrap: identity %s has no access token, waiting for OAuth", identity.Name)
			continue
		}
		account, err := s.newClient(identity).VerifyCredentials(ctx)
		if err != nil {
			log.Printf("bootstrap: verify %s against %s failed: %v", identity.Name, identity.BaseURL, err)
			continue
		}
		if err := s.store.UpdateIdentityAccount(ctx, identity.ID, account.Acct, account.ID); err != nil {
			return err
		}
		log.Printf("bootstrap: identity %s verified as @%s", identity.Name, account.Acct)
	}
	return nil
}

// RunScheduledSync is the scheduler entry point: a non-forced full
// sync of the default meta account.
func (s *Service) RunScheduledSync(ctx context.Context) error {
	if s.defaultMetaID == "" {
		return nil
	}
	return s.SyncAll(ctx, s.defaultMetaID, false)
}

// ResolveMetaID maps the X-Meta-Account-ID header value to a meta
// account, falling back to the default account when absent. The header
// may carry either the account id or its username.
func (s *Service) ResolveMetaID(ctx context.Context, header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return s.defaultMetaID, nil
	}
	meta, err := s.store.GetMetaAccountByID(ctx, header)
	if errors.Is(err, sql.ErrNoRows) {
		meta, err = s.store.GetMetaAccountByUsername(ctx, header)
	}
	if err != nil {
		return "", err
	}
	return meta.ID, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "default"
	}

	meta, err := s.store.EnsureMetaAccount(ctx, username)
	if err != nil {
		return Session{}, err
	}
	if meta.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(meta.PasswordHash), []byte(password)); err != nil {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
		}
	}
	return s.issueSession(ctx, meta)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	meta, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, meta)
}

func (s *Service) issueSession(ctx context.Context, meta store.MetaAccount) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  meta.ID,
		Name: meta.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), meta.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		MetaID:       meta.ID,
		Username:     meta.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	meta, err := s.store.GetMetaAccountByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		MetaID:    meta.ID,
		Username:  meta.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// defaultAcct is the acct the feed endpoints fall back to when no user
// is named: the first identity's own account.
func (s *Service) defaultAcct(ctx context.Context, metaID string) (string, error) {
	identity, err := s.store.FirstIdentity(ctx, metaID)
	if err != nil {
		return "", err
	}
	return identity.Acct, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
