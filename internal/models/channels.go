package models

// Channel is one video channel on an instance. Keyed by (ID, Host).
type Channel struct {
	ID   string
	Host string

	// Name is the URL slug used for video enumeration; DisplayName is the
	// human-readable label.
	Name        string
	DisplayName string
	URL         string

	// VideosCount is nil until the listing reports one.
	VideosCount    *int64
	FollowersCount int64
	AvatarURL      string

	HealthStatus    string
	HealthCheckedAt int64
	HealthError     string
	LastError       string
	LastErrorAt     int64
	LastErrorSource string
}

// Eligible reports whether the channel qualifies for the video stage:
// a known positive video count and a non-empty slug.
func (c *Channel) Eligible() bool {
	return c.VideosCount != nil && *c.VideosCount >= 1 && c.Name != ""
}
