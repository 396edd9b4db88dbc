package models

// ChannelWorkItem is one resumable unit of channel-walk work.
type ChannelWorkItem struct {
	Host      string
	Status    string
	LastStart int
}

// VideoWorkItem is one resumable unit of video-walk work.
type VideoWorkItem struct {
	Host        string
	ChannelID   string
	ChannelName string
	Status      string
	LastStart   int
	LastError   string
}
