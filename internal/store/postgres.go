package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureMetaAccount finds or creates the meta account for username.
func (s *PostgresStore) EnsureMetaAccount(ctx context.Context, username string) (MetaAccount, error) {
	var meta MetaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM meta_accounts WHERE username=$1
	`, username).Scan(&meta.ID, &meta.Username, &meta.PasswordHash, &meta.CreatedAt)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return MetaAccount{}, fmt.Errorf("lookup meta account: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO meta_accounts (username)
		VALUES ($1)
		ON CONFLICT (username) DO UPDATE SET username=EXCLUDED.username
		RETURNING id, username, password_hash, created_at
	`, username).Scan(&meta.ID, &meta.Username, &meta.PasswordHash, &meta.CreatedAt)
	if err != nil {
		return MetaAccount{}, fmt.Errorf("insert meta account: %w", err)
	}
	return meta, nil
}

func (s *PostgresStore) GetMetaAccountByID(ctx context.Context, id string) (MetaAccount, error) {
	var meta MetaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM meta_accounts WHERE id=$1
	`, id).Scan(&meta.ID, &meta.Username, &meta.PasswordHash, &meta.CreatedAt)
	if err != nil {
		return MetaAccount{}, err
	}
	return meta, nil
}

func (s *PostgresStore) GetMetaAccountByUsername(ctx context.Context, username string) (MetaAccount, error) {
	var meta MetaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM meta_accounts WHERE username=$1
	`, username).Scan(&meta.ID, &meta.Username, &meta.PasswordHash, &meta.CreatedAt)
	if err != nil {
		return MetaAccount{}, err
	}
	return meta, nil
}

func (s *PostgresStore) SetMetaAccountPassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE meta_accounts SET password_hash=$2 WHERE id=$1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("set meta account password: %w", err)
	}
	return nil
}

// UpsertIdentity inserts or refreshes an identity keyed by
// (meta_account_id, name). An empty incoming access token never
// clobbers a stored one.
func (s *PostgresStore) UpsertIdentity(ctx context.Context, identity Identity) (Identity, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO identities (meta_account_id, name, base_url, client_id, client_secret, access_token, acct, account_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (meta_account_id, name) DO UPDATE SET
			base_url=EXCLUDED.base_url,
			client_id=EXCLUDED.client_id,
			client_secret=EXCLUDED.client_secret,
			access_token=CASE WHEN EXCLUDED.access_token <> '' THEN EXCLUDED.access_token ELSE identities.access_token END
		RETURNING id, acct, account_id, created_at
	`, identity.MetaAccountID, identity.Name, identity.BaseURL, identity.ClientID,
		identity.ClientSecret, identity.AccessToken, identity.Acct, identity.AccountID,
	).Scan(&identity.ID, &identity.Acct, &identity.AccountID, &identity.CreatedAt)
	if err != nil {
		return Identity{}, fmt.Errorf("upsert identity: %w", err)
	}
	return identity, nil
}

const identityColumns = `id, meta_account_id, name, base_url, client_id, client_secret, access_token, acct, account_id, created_at`

func scanIdentity(row interface{ Scan(...any) error }) (Identity, error) {
	var identity Identity
	err := row.Scan(
		&identity.ID, &identity.MetaAccountID, &identity.Name, &identity.BaseURL,
		&identity.ClientID, &identity.ClientSecret, &identity.AccessToken,
		&identity.Acct, &identity.AccountID, &identity.CreatedAt,
	)
	return identity, err
}

func (s *PostgresStore) ListIdentities(ctx context.Context, metaID string) ([]Identity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE meta_account_id=$1 ORDER BY name
	`, metaID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	items := make([]Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		items = append(items, identity)
	}
	return items, rows.Err()
}

// FirstIdentity returns the meta account's primary identity, the one
// used when an endpoint does not name an identity explicitly.
func (s *PostgresStore) FirstIdentity(ctx context.Context, metaID string) (Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE meta_account_id=$1 ORDER BY created_at, name LIMIT 1
	`, metaID)
	return scanIdentity(row)
}

func (s *PostgresStore) GetIdentity(ctx context.Context, metaID, identityID string) (Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE meta_account_id=$1 AND id=$2
	`, metaID, identityID)
	return scanIdentity(row)
}

// UpdateIdentityAccount records the acct/account id discovered by
// credential verification.
func (s *PostgresStore) UpdateIdentityAccount(ctx context.Context, identityID, acct, accountID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET acct=$2, account_id=$3 WHERE id=$1
	`, identityID, acct, accountID)
	if err != nil {
		return fmt.Errorf("update identity account: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetIdentityToken(ctx context.Context, identityID, accessToken string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identities SET access_token=$2 WHERE id=$1
	`, identityID, accessToken)
	if err != nil {
		return fmt.Errorf("set identity token: %w", err)
	}
	return nil
}

// UpsertAccount inserts or refreshes a cached account. Relationship
// flags are sticky-true: a later upsert that does not know about the
// follow state cannot clear it. last_status_at only moves forward.
func (s *PostgresStore) UpsertAccount(ctx context.Context, a Account) error {
	if a.Fields == "" {
		a.Fields = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_accounts (
			id, meta_account_id, identity_id, acct, display_name, avatar, header, url, note,
			fields, bot, locked, followers_count, following_count, statuses_count,
			is_following, is_followed_by, created_at, last_status_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (id, meta_account_id, identity_id) DO UPDATE SET
			acct=EXCLUDED.acct,
			display_name=EXCLUDED.display_name,
			avatar=EXCLUDED.avatar,
			header=EXCLUDED.header,
			url=EXCLUDED.url,
			note=EXCLUDED.note,
			fields=EXCLUDED.fields,
			bot=EXCLUDED.bot,
			locked=EXCLUDED.locked,
			followers_count=EXCLUDED.followers_count,
			following_count=EXCLUDED.following_count,
			statuses_count=EXCLUDED.statuses_count,
			is_following=cached_accounts.is_following OR EXCLUDED.is_following,
			is_followed_by=cached_accounts.is_followed_by OR EXCLUDED.is_followed_by,
			created_at=COALESCE(EXCLUDED.created_at, cached_accounts.created_at),
			last_status_at=GREATEST(
				COALESCE(cached_accounts.last_status_at, EXCLUDED.last_status_at),
				COALESCE(EXCLUDED.last_status_at, cached_accounts.last_status_at)
			)
	`, a.ID, a.MetaAccountID, a.IdentityID, a.Acct, a.DisplayName, a.Avatar, a.Header,
		a.URL, a.Note, a.Fields, a.Bot, a.Locked, a.FollowersCount, a.FollowingCount,
		a.StatusesCount, a.IsFollowing, a.IsFollowedBy, a.CreatedAt, a.LastStatusAt)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

const accountColumns = `id, meta_account_id, identity_id, acct, display_name, avatar, header, url, note,
	fields, bot, locked, followers_count, following_count, statuses_count,
	is_following, is_followed_by, created_at, last_status_at`

func scanAccount(row interface{ Scan(...any) error }, a *Account) error {
	return row.Scan(
		&a.ID, &a.MetaAccountID, &a.IdentityID, &a.Acct, &a.DisplayName, &a.Avatar,
		&a.Header, &a.URL, &a.Note, &a.Fields, &a.Bot, &a.Locked,
		&a.FollowersCount, &a.FollowingCount, &a.StatusesCount,
		&a.IsFollowing, &a.IsFollowedBy, &a.CreatedAt, &a.LastStatusAt,
	)
}

func (s *PostgresStore) GetAccountByAcct(ctx context.Context, metaID, acct string) (Account, error) {
	var a Account
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM cached_accounts
		WHERE meta_account_id=$1 AND acct=$2
		ORDER BY last_status_at DESC NULLS LAST
		LIMIT 1
	`, metaID, acct)
	if err := scanAccount(row, &a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// BlogrollFilter selects which slice of the blogroll to return.
type BlogrollFilter string

const (
	BlogrollAll          BlogrollFilter = "all"
	BlogrollTopFriends   BlogrollFilter = "top_friends"
	BlogrollMutuals      BlogrollFilter = "mutuals"
	BlogrollChatty       BlogrollFilter = "chatty"
	BlogrollBroadcasters BlogrollFilter = "broadcasters"
	BlogrollBots         BlogrollFilter = "bots"
)

// ListBlogroll returns accounts that posted recently or are followed,
// newest activity first. The chatty/broadcasters filters are computed
// by the caller from ListAccountEngagement instead.
func (s *PostgresStore) ListBlogroll(ctx context.Context, metaID string, filter BlogrollFilter, limit int) ([]Account, error) {
	query := `
		SELECT ` + accountColumns + ` FROM cached_accounts
		WHERE meta_account_id=$1 AND (last_status_at IS NOT NULL OR is_following)
	`
	switch filter {
	case BlogrollTopFriends:
		query += ` AND is_following`
	case BlogrollMutuals:
		query += ` AND is_following AND is_followed_by`
	case BlogrollBots:
		query += ` AND (bot OR display_name ILIKE '%bot%' OR acct ILIKE '%bot%')`
	}
	query += ` ORDER BY last_status_at DESC NULLS LAST LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, metaID, limit)
	if err != nil {
		return nil, fmt.Errorf("list blogroll: %w", err)
	}
	defer rows.Close()

	items := make([]Account, 0)
	for rows.Next() {
		var a Account
		if err := scanAccount(rows, &a); err != nil {
			return nil, fmt.Errorf("scan blogroll account: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// ListAccountEngagement joins blogroll accounts with their cached
// posting stats for the chatty/broadcasters heuristics.
func (s *PostgresStore) ListAccountEngagement(ctx context.Context, metaID string, limit int) ([]AccountEngagement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.meta_account_id, a.identity_id, a.acct, a.display_name, a.avatar,
			a.header, a.url, a.note, a.fields, a.bot, a.locked,
			a.followers_count, a.following_count, a.statuses_count,
			a.is_following, a.is_followed_by, a.created_at, a.last_status_at,
			COUNT(p.id) AS total_posts,
			COUNT(p.id) FILTER (WHERE p.is_reply) AS reply_posts
		FROM cached_accounts a
		LEFT JOIN cached_posts p
			ON p.author_id = a.id AND p.meta_account_id = a.meta_account_id
		WHERE a.meta_account_id=$1 AND (a.last_status_at IS NOT NULL OR a.is_following)
		GROUP BY a.id, a.meta_account_id, a.identity_id, a.acct, a.display_name, a.avatar,
			a.header, a.url, a.note, a.fields, a.bot, a.locked,
			a.followers_count, a.following_count, a.statuses_count,
			a.is_following, a.is_followed_by, a.created_at, a.last_status_at
		ORDER BY a.last_status_at DESC NULLS LAST
		LIMIT $2
	`, metaID, limit)
	if err != nil {
		return nil, fmt.Errorf("list account engagement: %w", err)
	}
	defer rows.Close()

	items := make([]AccountEngagement, 0)
	for rows.Next() {
		var e AccountEngagement
		err := rows.Scan(
			&e.ID, &e.MetaAccountID, &e.IdentityID, &e.Acct, &e.DisplayName, &e.Avatar,
			&e.Header, &e.URL, &e.Note, &e.Fields, &e.Bot, &e.Locked,
			&e.FollowersCount, &e.FollowingCount, &e.StatusesCount,
			&e.IsFollowing, &e.IsFollowedBy, &e.CreatedAt, &e.LastStatusAt,
			&e.TotalPosts, &e.ReplyPosts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan account engagement: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertPost(ctx context.Context, p Post) error {
	if p.MediaAttachments == "" {
		p.MediaAttachments = "[]"
	}
	if p.Tags == "" {
		p.Tags = "[]"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_posts (
			id, meta_account_id, fetched_by_identity_id, content, created_at, visibility,
			author_acct, author_id, is_reblog, is_reply, in_reply_to_id, in_reply_to_account_id,
			has_media, has_video, has_news, has_tech, has_link, has_question,
			media_attachments, tags, replies_count, reblogs_count, favourites_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (id, meta_account_id, fetched_by_identity_id) DO UPDATE SET
			content=EXCLUDED.content,
			created_at=EXCLUDED.created_at,
			visibility=EXCLUDED.visibility,
			author_acct=EXCLUDED.author_acct,
			author_id=EXCLUDED.author_id,
			is_reblog=EXCLUDED.is_reblog,
			is_reply=EXCLUDED.is_reply,
			in_reply_to_id=EXCLUDED.in_reply_to_id,
			in_reply_to_account_id=EXCLUDED.in_reply_to_account_id,
			has_media=EXCLUDED.has_media,
			has_video=EXCLUDED.has_video,
			has_news=EXCLUDED.has_news,
			has_tech=EXCLUDED.has_tech,
			has_link=EXCLUDED.has_link,
			has_question=EXCLUDED.has_question,
			media_attachments=EXCLUDED.media_attachments,
			tags=EXCLUDED.tags,
			replies_count=EXCLUDED.replies_count,
			reblogs_count=EXCLUDED.reblogs_count,
			favourites_count=EXCLUDED.favourites_count
	`, p.ID, p.MetaAccountID, p.FetchedByIdentityID, p.Content, p.CreatedAt, p.Visibility,
		p.AuthorAcct, p.AuthorID, p.IsReblog, p.IsReply, p.InReplyToID, p.InReplyToAccountID,
		p.HasMedia, p.HasVideo, p.HasNews, p.HasTech, p.HasLink, p.HasQuestion,
		p.MediaAttachments, p.Tags, p.RepliesCount, p.ReblogsCount, p.FavouritesCount)
	if err != nil {
		return fmt.Errorf("upsert post: %w", err)
	}
	return nil
}

const postColumns = `id, meta_account_id, fetched_by_identity_id, content, created_at, visibility,
	author_acct, author_id, is_reblog, is_reply, in_reply_to_id, in_reply_to_account_id,
	has_media, has_video, has_news, has_tech, has_link, has_question,
	media_attachments, tags, replies_count, reblogs_count, favourites_count`

func scanPost(row interface{ Scan(...any) error }, p *Post) error {
	return row.Scan(
		&p.ID, &p.MetaAccountID, &p.FetchedByIdentityID, &p.Content, &p.CreatedAt,
		&p.Visibility, &p.AuthorAcct, &p.AuthorID, &p.IsReblog, &p.IsReply,
		&p.InReplyToID, &p.InReplyToAccountID,
		&p.HasMedia, &p.HasVideo, &p.HasNews, &p.HasTech, &p.HasLink, &p.HasQuestion,
		&p.MediaAttachments, &p.Tags, &p.RepliesCount, &p.ReblogsCount, &p.FavouritesCount,
	)
}

// ListPosts returns cached posts newest first, narrowed by the filter
// kind. An empty AuthorAcct places no author restriction.
func (s *PostgresStore) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM cached_posts WHERE meta_account_id=$1`
	args := []any{f.MetaAccountID}
	if f.AuthorAcct != "" {
		args = append(args, f.AuthorAcct)
		query += fmt.Sprintf(` AND author_acct=$%d`, len(args))
	}

	switch f.Kind {
	case KindAll, "":
		query += ` AND NOT is_reblog AND NOT is_reply`
	case KindShorts:
		query += ` AND NOT is_reply AND NOT is_reblog AND NOT has_media AND NOT has_video AND NOT has_link AND LENGTH(content) < 500`
	case KindDiscussions:
		query += ` AND is_reply`
	case KindPictures:
		query += ` AND has_media`
	case KindVideos:
		query += ` AND has_video`
	case KindNews:
		query += ` AND has_news`
	case KindSoftware:
		query += ` AND has_tech`
	case KindLinks:
		query += ` AND has_link`
	case KindQuestions:
		query += ` AND has_question`
	case KindEveryone:
		// no extra predicate
	default:
		return nil, fmt.Errorf("unknown post filter %q", f.Kind)
	}

	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		var p Post
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// ListStormPosts returns the non-reblog snapshot the storm assembler
// works from.
func (s *PostgresStore) ListStormPosts(ctx context.Context, metaID, authorAcct string) ([]Post, error) {
	query := `SELECT ` + postColumns + ` FROM cached_posts WHERE meta_account_id=$1 AND NOT is_reblog`
	args := []any{metaID}
	if authorAcct != "" {
		args = append(args, authorAcct)
		query += ` AND author_acct=$2`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list storm posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		var p Post
		if err := scanPost(rows, &p); err != nil {
			return nil, fmt.Errorf("scan storm post: %w", err)
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetPost(ctx context.Context, metaID, postID string) (Post, error) {
	var p Post
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+` FROM cached_posts
		WHERE meta_account_id=$1 AND id=$2
		LIMIT 1
	`, metaID, postID)
	if err := scanPost(row, &p); err != nil {
		return Post{}, err
	}
	return p, nil
}

// CountsByKind computes every sidebar badge in one pass over the
// table, using conditional aggregation instead of ten COUNT queries.
func (s *PostgresStore) CountsByKind(ctx context.Context, metaID, authorAcct string) (Counts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE NOT is_reblog AND in_reply_to_id IS NULL AND NOT has_link) AS storms,
			COUNT(*) FILTER (WHERE NOT is_reply AND NOT is_reblog AND NOT has_media AND NOT has_video AND NOT has_link AND LENGTH(content) < 500) AS shorts,
			COUNT(*) FILTER (WHERE has_news) AS news,
			COUNT(*) FILTER (WHERE has_tech) AS software,
			COUNT(*) FILTER (WHERE has_media) AS pictures,
			COUNT(*) FILTER (WHERE has_video) AS videos,
			COUNT(*) FILTER (WHERE is_reply) AS discussions,
			COUNT(*) FILTER (WHERE has_link) AS links,
			COUNT(*) FILTER (WHERE has_question) AS questions,
			COUNT(*) AS everyone
		FROM cached_posts
		WHERE meta_account_id=$1
	`
	args := []any{metaID}
	if authorAcct != "" {
		query += ` AND author_acct=$2`
		args = append(args, authorAcct)
	}

	var c Counts
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&c.Storms, &c.Shorts, &c.News, &c.Software, &c.Pictures,
		&c.Videos, &c.Discussions, &c.Links, &c.Questions, &c.Everyone,
	)
	if err != nil {
		return Counts{}, fmt.Errorf("count posts: %w", err)
	}
	return c, nil
}

// TagCounts aggregates hashtag usage, most used first. Tags are
// lowercased so #Golang and #golang count together.
func (s *PostgresStore) TagCounts(ctx context.Context, metaID, authorAcct string) ([]TagCount, error) {
	query := `
		SELECT LOWER(tag.value) AS name, COUNT(*) AS uses
		FROM cached_posts p, jsonb_array_elements_text(p.tags) AS tag(value)
		WHERE p.meta_account_id=$1
	`
	args := []any{metaID}
	if authorAcct != "" {
		query += ` AND p.author_acct=$2`
		args = append(args, authorAcct)
	}
	query += ` GROUP BY LOWER(tag.value) ORDER BY uses DESC, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	defer rows.Close()

	items := make([]TagCount, 0)
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Name, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		items = append(items, tc)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Analytics(ctx context.Context, metaID, authorAcct string) (Analytics, error) {
	query := `
		SELECT COUNT(id), COALESCE(SUM(replies_count),0), COALESCE(SUM(reblogs_count),0), COALESCE(SUM(favourites_count),0)
		FROM cached_posts
		WHERE meta_account_id=$1
	`
	args := []any{metaID}
	if authorAcct != "" {
		query += ` AND author_acct=$2`
		args = append(args, authorAcct)
	}

	var a Analytics
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&a.TotalPosts, &a.TotalReplies, &a.TotalBoosts, &a.TotalFavourites,
	)
	if err != nil {
		return Analytics{}, fmt.Errorf("aggregate analytics: %w", err)
	}
	return a, nil
}

// UpsertNotification stores a notification once; notifications are
// immutable on the remote side so replays are ignored.
func (s *PostgresStore) UpsertNotification(ctx context.Context, n Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_notifications (id, meta_account_id, identity_id, type, created_at, account_id, account_acct, status_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id, meta_account_id, identity_id) DO NOTHING
	`, n.ID, n.MetaAccountID, n.IdentityID, n.Type, n.CreatedAt, n.AccountID, n.AccountAcct, n.StatusID)
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, metaID, identityID string, limit int) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, meta_account_id, identity_id, type, created_at, account_id, account_acct, status_id
		FROM cached_notifications
		WHERE meta_account_id=$1 AND identity_id=$2
		ORDER BY created_at DESC
		LIMIT $3
	`, metaID, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		err := rows.Scan(&n.ID, &n.MetaAccountID, &n.IdentityID, &n.Type, &n.CreatedAt,
			&n.AccountID, &n.AccountAcct, &n.StatusID)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// LastSync returns the recorded sync time for key, or nil when the key
// has never synced.
func (s *PostgresStore) LastSync(ctx context.Context, key string) (*time.Time, error) {
	var last *time.Time
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM app_state WHERE key=$1`, key).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last sync: %w", err)
	}
	return last, nil
}

func (s *PostgresStore) SetLastSync(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, last_sync) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET last_sync=EXCLUDED.last_sync
	`, key, at)
	if err != nil {
		return fmt.Errorf("record last sync: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, metaID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, meta_account_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET meta_account_id=EXCLUDED.meta_account_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, metaID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (MetaAccount, error) {
	var meta MetaAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.username, m.password_hash, m.created_at
		FROM refresh_sessions rs
		JOIN meta_accounts m ON m.id = rs.meta_account_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&meta.ID, &meta.Username, &meta.PasswordHash, &meta.CreatedAt)
	if err != nil {
		return MetaAccount{}, err
	}
	return meta, nil
}
