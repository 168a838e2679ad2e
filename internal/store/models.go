package store

import "time"

// MetaAccount is the real-world person owning one or more Mastodon
// identities. All cached data is partitioned by meta account.
type MetaAccount struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is one account on one Mastodon instance, with the OAuth
// credentials needed to act as it.
type Identity struct {
	ID            string
	MetaAccountID string
	Name          string
	BaseURL       string
	ClientID      string
	ClientSecret  string
	AccessToken   string
	Acct          string
	AccountID     string
	CreatedAt     time.Time
}

// Account is a cached remote account, scoped per meta account and per
// fetching identity so one user's view never leaks into another's.
type Account struct {
	ID             string
	MetaAccountID  string
	IdentityID     string
	Acct           string
	DisplayName    string
	Avatar         string
	Header         string
	URL            string
	Note           string
	Fields         string
	Bot            bool
	Locked         bool
	FollowersCount int
	FollowingCount int
	StatusesCount  int
	IsFollowing    bool
	IsFollowedBy   bool
	CreatedAt      *time.Time
	LastStatusAt   *time.Time
}

// Post is a cached status with its derived content flags. Reblogs are
// stored unwrapped: content and author come from the boosted status,
// IsReblog records that it was a boost.
type Post struct {
	ID                  string
	MetaAccountID       string
	FetchedByIdentityID string
	Content             string
	CreatedAt           time.Time
	Visibility          string
	AuthorAcct          string
	AuthorID            string
	IsReblog            bool
	IsReply             bool
	InReplyToID         *string
	InReplyToAccountID  *string
	HasMedia            bool
	HasVideo            bool
	HasNews             bool
	HasTech             bool
	HasLink             bool
	HasQuestion         bool
	MediaAttachments    string
	Tags                string
	RepliesCount        int
	ReblogsCount        int
	FavouritesCount     int
}

// Notification is a cached interaction, kept for top-friend and
// engagement queries.
type Notification struct {
	ID            string
	MetaAccountID string
	IdentityID    string
	Type          string
	CreatedAt     time.Time
	AccountID     string
	AccountAcct   string
	StatusID      *string
}

// PostFilter selects a slice of the cached posts. Kind mirrors the
// sidebar filters; an empty AuthorAcct means no author restriction.
type PostFilter struct {
	MetaAccountID string
	AuthorAcct    string
	Kind          string
	Limit         int
}

// Post filter kinds. KindAll shows roots only: no reblogs, no replies
// to others. KindShorts additionally requires no media, no link, and a
// short body.
const (
	KindAll         = "all"
	KindShorts      = "shorts"
	KindDiscussions = "discussions"
	KindPictures    = "pictures"
	KindVideos      = "videos"
	KindNews        = "news"
	KindSoftware    = "software"
	KindLinks       = "links"
	KindQuestions   = "questions"
	KindEveryone    = "everyone"
)

// Counts carries the per-filter post totals for the sidebar badges.
type Counts struct {
	Storms      int
	Shorts      int
	News        int
	Software    int
	Pictures    int
	Videos      int
	Discussions int
	Links       int
	Questions   int
	Everyone    int
}

// TagCount is a hashtag with its usage count.
type TagCount struct {
	Name  string
	Count int
}

// Analytics aggregates engagement over a post scope.
type Analytics struct {
	TotalPosts      int
	TotalReplies    int
	TotalBoosts     int
	TotalFavourites int
}

// AccountEngagement pairs a blogroll account with its cached posting
// behaviour, used for the chatty/broadcasters filters.
type AccountEngagement struct {
	Account
	TotalPosts int
	ReplyPosts int
}

// ReplyRatio is the share of the account's cached posts that are
// replies to others. Zero when nothing is cached.
func (e AccountEngagement) ReplyRatio() float64 {
	if e.TotalPosts == 0 {
		return 0
	}
	return float64(e.ReplyPosts) / float64(e.TotalPosts)
}
