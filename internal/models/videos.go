package models

// Video is one video row. Keyed by (ID, Host) where ID is the upstream uuid
// or numeric id as a string.
type Video struct {
	ID   string
	Host string

	ChannelID   string
	ChannelName string
	AccountName string

	Title       string
	Description string

	// TagsJSON is nil until enrichment fetches tags; "[]" means fetched and
	// empty.
	TagsJSON *string

	Category     string
	PublishedAt  int64 // unix ms
	URL          string
	ThumbnailURL string

	Views         int64
	Likes         int64
	Dislikes      int64
	CommentsCount *int64
	NSFW          bool

	LastCheckedAt int64
	LastError     string
	LastErrorAt   int64
	ErrorCount    int64

	// InvalidReason is terminal: once set, the row is excluded from future
	// enrichment passes.
	InvalidReason string
	InvalidAt     int64
}
