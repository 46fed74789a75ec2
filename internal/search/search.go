package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultProfile ResultType = "profile"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProfileID string     `json:"profileId"`
	ItemType  string     `json:"itemType,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProfileID string
	Limit           int
	Offset          int
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

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPost(post PostRecord) error
	IndexProfile(profile ProfileRecord) error
	DeletePost(id string) error
	DeleteProfile(id string) error
}

// PostRecord is the data we index for a feed post. Only posts shown in the
// public feed are indexed, so restricted sections never leak through search.
type PostRecord struct {
	ID        string   `json:"id"`
	ProfileID string   `json:"profileId"`
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Tags      []string `json:"tags"`
}

// ProfileRecord is the data we index for a profile.
type ProfileRecord struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`
}
