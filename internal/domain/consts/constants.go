// Package consts holds constants used throughout Tubecrawl.
package consts

import "time"

// Pagination and crawl defaults.
const (
	PageSize = 50

	DefaultConcurrency        = 4
	DefaultChannelConcurrency = 2
	DefaultTimeout            = 5 * time.Second
	DefaultMaxRetries         = 3
	DefaultMaxErrors          = 3
	DefaultHostDelay          = 200 * time.Millisecond
	DefaultVideoSort          = "-publishedAt"
)

// Retry ladder bounds.
const (
	BackoffStart = 1 * time.Second
	BackoffCap   = 30 * time.Second

	// Per-host re-enqueue delay: min(errorCount*RequeueStep, RequeueCap).
	RequeueStep = 5 * time.Second
	RequeueCap  = 30 * time.Second
)

// Health statuses.
const (
	HealthUnknown = "unknown"
	HealthOK      = "ok"
	HealthError   = "error"
)

// Last-error sources.
const (
	ErrSourceInstances      = "instances"
	ErrSourceChannels       = "channels"
	ErrSourceVideosCount    = "videos_count"
	ErrSourceChannelsHealth = "channels_health"
)

// Progress statuses. The instance walker uses "processing", the channel and
// video walkers use "in_progress"; both sets share pending/done/error.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusError      = "error"
)

// Terminal per-video invalidation reasons.
const (
	InvalidNotFound    = "not_found"
	InvalidCertExpired = "cert_expired"
	InvalidTLSError    = "tls_error"
	InvalidTimeout     = "timeout"
)

// Crawl-state keys.
const (
	StateWhitelistURL   = "whitelist_url"
	StateWhitelistCount = "whitelist_count"
	StateStartedAt      = "started_at"
	StateFinishedAt     = "finished_at"
	StateVideosNewTotal = "videos_new_total"

	// Per-stage run markers, prefixed with the stage name.
	StateStartedAtSuffix  = "_started_at"
	StateFinishedAtSuffix = "_finished_at"
)
