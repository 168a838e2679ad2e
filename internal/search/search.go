package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultAccount ResultType = "account"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	AuthorAcct string     `json:"authorAcct,omitempty"`
}

// Query describes a search request. MetaAccountID scopes every search
// to one user's cache partition.
type Query struct {
	Text          string
	MetaAccountID string
	FilterType    ResultType // empty = all types
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// PostRecord is the data we index for a cached post.
type PostRecord struct {
	ID            string `json:"id"`
	MetaAccountID string `json:"metaAccountId"`
	Content       string `json:"content"`
	AuthorAcct    string `json:"authorAcct"`
	Tags          string `json:"tags"`
	CreatedAt     string `json:"createdAt"`
}

// AccountRecord is the data we index for a cached account.
type AccountRecord struct {
	ID            string `json:"id"`
	MetaAccountID string `json:"metaAccountId"`
	Acct          string `json:"acct"`
	DisplayName   string `json:"displayName"`
	Note          string `json:"note"`
}
