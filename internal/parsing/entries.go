package parsing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"tubecrawl/internal/models"

	"github.com/araddon/dateparse"
)

// Entry is one decoded JSON object from an upstream listing.
type Entry = map[string]any

// PageItems unwraps a paginated response body. Upstream returns either a
// bare array or {total, data: [...]}.
func PageItems(body any) (items []Entry, total int64, hasTotal bool) {
	switch v := body.(type) {
	case []any:
		return toEntries(v), 0, false
	case map[string]any:
		if t, ok := numValue(v["total"]); ok {
			total, hasTotal = t, true
		}
		if data, ok := v["data"].([]any); ok {
			return toEntries(data), total, hasTotal
		}
		return nil, total, hasTotal
	default:
		return nil, 0, false
	}
}

func toEntries(raw []any) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(Entry); ok {
			entries = append(entries, m)
		}
	}
	return entries
}

// StringField probes the alias keys in order and returns the first
// non-empty string value.
func StringField(m Entry, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// NumField probes the alias keys in order and returns the first defined
// numeric value. Numbers nested as {total: n} objects also count.
func NumField(m Entry, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, defined := m[k]
		if !defined {
			continue
		}
		if n, ok := numValue(v); ok {
			return n, true
		}
	}
	return 0, false
}

func numValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	case map[string]any:
		if t, ok := n["total"]; ok {
			return numValue(t)
		}
	}
	return 0, false
}

// SubEntry returns a nested object field, or nil.
func SubEntry(m Entry, key string) Entry {
	sub, _ := m[key].(map[string]any)
	return sub
}

// HostFromEntry extracts the origin host of an entry. Upstream servers put
// it under varying keys, sometimes nested under an account object.
func HostFromEntry(m Entry) string {
	if m == nil {
		return ""
	}
	if h := StringField(m, "host", "hostname"); h != "" {
		if n, err := NormalizeHost(h); err == nil {
			return n
		}
	}
	for _, key := range []string{"account", "ownerAccount"} {
		if sub := SubEntry(m, key); sub != nil {
			if h := StringField(sub, "host", "hostname"); h != "" {
				if n, err := NormalizeHost(h); err == nil {
					return n
				}
			}
		}
	}
	for _, key := range []string{"url", "id"} {
		if s := StringField(m, key); strings.Contains(s, "://") {
			if n, err := NormalizeHost(s); err == nil {
				return n
			}
		}
	}
	if s := StringField(m, "name"); strings.Contains(s, ".") && !strings.Contains(s, " ") {
		if n, err := NormalizeHost(s); err == nil {
			return n
		}
	}
	return ""
}

// FollowHost extracts the remote host of a federation follow entry. The
// entry may nest the counterpart under "following" or "follower", or carry
// the host keys directly.
func FollowHost(m Entry, side string) string {
	if sub := SubEntry(m, side); sub != nil {
		if h := HostFromEntry(sub); h != "" {
			return h
		}
	}
	return HostFromEntry(m)
}

// ChannelFromEntry maps one channel-listing entry onto a Channel row.
// Returns nil when no stable id can be derived.
func ChannelFromEntry(host string, m Entry) *models.Channel {
	c := &models.Channel{
		Host:        host,
		Name:        StringField(m, "name"),
		DisplayName: StringField(m, "displayName", "display_name"),
		URL:         StringField(m, "url"),
		AvatarURL:   avatarURL(m),
	}

	if id, ok := NumField(m, "id"); ok {
		c.ID = strconv.FormatInt(id, 10)
	} else if s := StringField(m, "id"); s != "" && !strings.Contains(s, "://") {
		c.ID = s
	} else if c.Name != "" {
		c.ID = c.Name
	}
	if c.ID == "" {
		return nil
	}

	if n, ok := NumField(m, "videosCount", "videos_count"); ok {
		c.VideosCount = &n
	}
	if n, ok := NumField(m, "followersCount", "followers_count"); ok {
		c.FollowersCount = n
	}
	return c
}

func avatarURL(m Entry) string {
	if sub := SubEntry(m, "avatar"); sub != nil {
		if s := StringField(sub, "path", "url"); s != "" {
			return s
		}
	}
	if list, ok := m["avatars"].([]any); ok && len(list) > 0 {
		// Upstream orders avatars smallest first, take the largest.
		if sub, ok := list[len(list)-1].(map[string]any); ok {
			return StringField(sub, "path", "url")
		}
	}
	return ""
}

// VideoFromEntry maps one video-listing entry onto a Video row. Returns nil
// when no stable id can be derived.
func VideoFromEntry(host string, m Entry) *models.Video {
	v := &models.Video{
		Host:         host,
		Title:        StringField(m, "name", "title"),
		Description:  StringField(m, "description"),
		URL:          StringField(m, "url"),
		ThumbnailURL: StringField(m, "thumbnailUrl", "thumbnailPath", "thumbnail_url"),
	}

	if s := StringField(m, "uuid", "shortUUID"); s != "" {
		v.ID = s
	} else if id, ok := NumField(m, "id"); ok {
		v.ID = strconv.FormatInt(id, 10)
	}
	if v.ID == "" {
		return nil
	}

	if sub := SubEntry(m, "channel"); sub != nil {
		if id, ok := NumField(sub, "id"); ok {
			v.ChannelID = strconv.FormatInt(id, 10)
		}
		v.ChannelName = StringField(sub, "name")
		if v.ChannelID == "" {
			v.ChannelID = v.ChannelName
		}
	}
	if sub := SubEntry(m, "account"); sub != nil {
		v.AccountName = StringField(sub, "name")
	}

	if sub := SubEntry(m, "category"); sub != nil {
		v.Category = StringField(sub, "label")
	} else {
		v.Category = StringField(m, "category")
	}

	if s := StringField(m, "publishedAt", "published_at", "createdAt"); s != "" {
		if t, err := dateparse.ParseAny(s); err == nil {
			v.PublishedAt = t.UnixMilli()
		}
	}

	v.Views, _ = NumField(m, "views")
	v.Likes, _ = NumField(m, "likes")
	v.Dislikes, _ = NumField(m, "dislikes")
	if b, ok := m["nsfw"].(bool); ok {
		v.NSFW = b
	}
	return v
}

// CommentsCount extracts a comment count from a video detail response. The
// first defined alias wins, matching upstream precedence.
func CommentsCount(m Entry) (int64, bool) {
	return NumField(m, "comments", "commentsCount", "comments_count")
}

// TagsJSON extracts the tags array from a video detail response and
// re-encodes it as a canonical JSON array of strings. ok is false when the
// response carries no tags field at all.
func TagsJSON(m Entry) (string, bool) {
	raw, defined := m["tags"]
	if !defined {
		return "", false
	}
	list, ok := raw.([]any)
	if !ok {
		return "[]", true
	}
	tags := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			tags = append(tags, s)
		}
	}
	enc, err := json.Marshal(tags)
	if err != nil {
		return "[]", true
	}
	return string(enc), true
}

// ResolveAssetURL resolves a possibly relative asset path against the
// scheme and host a page was fetched from.
func ResolveAssetURL(scheme, host, ref string) string {
	if ref == "" || strings.Contains(ref, "://") {
		return ref
	}
	base := url.URL{Scheme: scheme, Host: host}
	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Sprintf("%s://%s%s", scheme, host, ref)
	}
	return base.ResolveReference(parsed).String()
}
