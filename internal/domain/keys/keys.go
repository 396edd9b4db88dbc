// Package keys holds Viper/flag key names used throughout Tubecrawl.
package keys

// Shared flags.
const (
	DBPath           = "db-path"
	ExcludeHostsFile = "exclude-hosts-file"
	Concurrency      = "concurrency"
	TimeoutMS        = "timeout-ms"
	MaxRetries       = "max-retries"
	MaxInstances     = "max-instances"
	Resume           = "resume"
	DebugLevel       = "debug"
)

// Federation (instances) stage.
const (
	WhitelistURL          = "whitelist-url"
	WhitelistFile         = "whitelist-file"
	MaxErrors             = "max-errors"
	ExpandBeyondWhitelist = "expand"
	CollectGraph          = "collect-graph"
)

// Channel stage.
const (
	MaxChannels = "max-channels"
	NewOnly     = "new-only"
)

// Video stage.
const (
	ExistingDBPath     = "existing-db-path"
	StopAfterFullPages = "stop-after-full-pages"
	VideoSort          = "sort"
	MaxVideosPages     = "max-videos-pages"
	ChannelConcurrency = "channel-concurrency"
	ErrorsOnly         = "errors-only"
	HostDelayMS        = "host-delay-ms"
)

// Enrichment stage.
const (
	TagsOnly     = "tags-only"
	UpdateTags   = "update-tags"
	CommentsOnly = "comments-only"
)

// Health stage.
const (
	SingleHost    = "host"
	ProbeChannels = "channels"
	MinAgeDays    = "min-age-days"
	MinAgeMin     = "min-age-min"
	MinAgeSec     = "min-age-sec"
)
