package consts

// Tables
const (
	DBInstances        = "instances"
	DBChannels         = "channels"
	DBVideos           = "videos"
	DBEdges            = "edges"
	DBQueue            = "queue"
	DBCrawlState       = "crawl_state"
	DBInstanceProgress = "instance_crawl_progress"
	DBChannelProgress  = "channel_crawl_progress"
	DBVideoProgress    = "video_crawl_progress"
)

// Instances
const (
	QInstHost            = "host"
	QInstHealthStatus    = "health_status"
	QInstHealthCheckedAt = "health_checked_at"
	QInstHealthError     = "health_error"
	QInstLastError       = "last_error"
	QInstLastErrorAt     = "last_error_at"
	QInstLastErrorSource = "last_error_source"
	QInstCreatedAt       = "created_at"
)

// Channels
const (
	QChanID              = "channel_id"
	QChanHost            = "instance_domain"
	QChanName            = "channel_name"
	QChanDisplayName     = "display_name"
	QChanURL             = "channel_url"
	QChanVideosCount     = "videos_count"
	QChanFollowersCount  = "followers_count"
	QChanAvatarURL       = "avatar_url"
	QChanHealthStatus    = "health_status"
	QChanHealthCheckedAt = "health_checked_at"
	QChanHealthError     = "health_error"
	QChanLastError       = "last_error"
	QChanLastErrorAt     = "last_error_at"
	QChanLastErrorSource = "last_error_source"
	QChanCreatedAt       = "created_at"
	QChanUpdatedAt       = "updated_at"
)

// Videos
const (
	QVidID            = "video_id"
	QVidHost          = "instance_domain"
	QVidChanID        = "channel_id"
	QVidChanName      = "channel_name"
	QVidAccountName   = "account_name"
	QVidTitle         = "title"
	QVidDescription   = "description"
	QVidTagsJSON      = "tags_json"
	QVidCategory      = "category"
	QVidPublishedAt   = "published_at"
	QVidURL           = "url"
	QVidThumbnailURL  = "thumbnail_url"
	QVidViews         = "views"
	QVidLikes         = "likes"
	QVidDislikes      = "dislikes"
	QVidCommentsCount = "comments_count"
	QVidNSFW          = "nsfw"
	QVidLastCheckedAt = "last_checked_at"
	QVidLastError     = "last_error"
	QVidLastErrorAt   = "last_error_at"
	QVidErrorCount    = "error_count"
	QVidInvalidReason = "invalid_reason"
	QVidInvalidAt     = "invalid_at"
	QVidCreatedAt     = "created_at"
	QVidUpdatedAt     = "updated_at"
)

// Edges
const (
	QEdgeSource    = "source_host"
	QEdgeTarget    = "target_host"
	QEdgeCreatedAt = "created_at"
)

// Queue
const (
	QQueueHost       = "host"
	QQueueEnqueuedAt = "enqueued_at"
)

// Crawl state
const (
	QStateKey   = "key"
	QStateValue = "value"
)

// Instance crawl progress
const (
	QIProgHost       = "host"
	QIProgStatus     = "status"
	QIProgErrorCount = "error_count"
	QIProgLastStart  = "last_start"
	QIProgUpdatedAt  = "updated_at"
)

// Channel crawl progress
const (
	QCProgHost      = "host"
	QCProgStatus    = "status"
	QCProgLastStart = "last_start"
	QCProgUpdatedAt = "updated_at"
)

// Video crawl progress
const (
	QVProgHost        = "instance_domain"
	QVProgChanID      = "channel_id"
	QVProgChanName    = "channel_name"
	QVProgStatus      = "status"
	QVProgLastStart   = "last_start"
	QVProgLastError   = "last_error"
	QVProgLastErrorAt = "last_error_at"
	QVProgUpdatedAt   = "updated_at"
)
