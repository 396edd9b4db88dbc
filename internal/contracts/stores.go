// Package contracts defines interfaces that decouple the crawl layer from
// storage implementations.
package contracts

import (
	"database/sql"

	"tubecrawl/internal/models"
)

// Store allows access to the main store repo methods.
type Store interface {
	HostStore() HostStore
	ChannelStore() ChannelStore
	VideoStore() VideoStore
	StateStore() StateStore
}

// HostStore covers instances, the retry queue, federation edges, and
// per-host walk progress.
type HostStore interface {
	GetDB() *sql.DB

	EnsureHost(host string) error
	ListHosts() ([]string, error)
	MarkHostHealth(host, status, healthErr string) error
	MarkHostError(host, source, msg string) error
	ClearHostError(host string) error
	ListHostsForHealth(errorsOnly bool, singleHost string, minAgeMS int64) ([]string, error)

	// Retry queue. EnqueueHost is a no-op when the host is already done or
	// processing; ClaimNextHost atomically dequeues and flips progress to
	// processing.
	EnqueueHost(host string, delayMS int64) error
	ClaimNextHost() (host string, ok bool, err error)
	NextQueueTime() (ms int64, ok bool, err error)
	RecoverQueue(allowedHosts map[string]struct{}) error

	// Instance walk progress.
	MarkHostDone(host string) error
	MarkHostWalkError(host, msg string) (errorCount int64, err error)
	GetHostErrorCount(host string) (int64, error)

	InsertEdge(src, dst string) error
	ListEdges() ([]models.Edge, error)
}

// ChannelStore covers channel rows and the channel-walk progress table.
type ChannelStore interface {
	GetDB() *sql.DB

	UpsertChannels(channels []*models.Channel) error
	ListChannelInstances() ([]string, error)
	ListExistingChannelIDs(host string, ids []string) (map[string]struct{}, error)
	ListChannelsWithVideos(minVideos int64, hosts []string) ([]*models.Channel, error)
	MarkChannelHealth(channelID, host, status, healthErr string) error

	PrepareChannelProgress(hosts []string, resume bool) error
	ListChannelWorkItems() ([]models.ChannelWorkItem, error)
	UpdateChannelProgress(host, status string, lastStart int) error
}

// VideoStore covers video rows, the video-walk progress table, and the
// enrichment updates.
type VideoStore interface {
	GetDB() *sql.DB

	UpsertVideos(videos []*models.Video) (inserted int64, err error)
	ListExistingVideoIDs(host, channelID string, ids []string) (map[string]struct{}, error)

	PrepareVideoProgress(channels []*models.Channel, resume bool) error
	ListVideoWorkItems(statuses []string) ([]models.VideoWorkItem, error)
	UpdateVideoProgress(host, channelID, status string, lastStart int, lastError string) error

	ListVideosForTags(update bool) ([]*models.Video, error)
	ListVideosForComments(resume bool) ([]*models.Video, error)
	UpdateVideoTags(videoID, host, tagsJSON string) error
	UpdateVideoComments(videoID, host string, n int64) error
	UpdateVideoInvalid(videoID, host, reason string) error
	UpdateVideoError(videoID, host, msg string) error
}

// StateStore is the run-level KV state.
type StateStore interface {
	SetState(key, value string) error
	GetState(key string) (value string, ok bool, err error)
	IncrementState(key string, delta int64) error
}
