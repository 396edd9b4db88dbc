package repo

import (
	"database/sql"
	"fmt"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/models"
	"tubecrawl/internal/utils/logging"

	"github.com/Masterminds/squirrel"
)

// VideoStore holds a pointer to the sql.DB.
type VideoStore struct {
	DB *sql.DB
}

// GetVideoStore returns a video store instance with injected database.
func GetVideoStore(db *sql.DB) *VideoStore {
	return &VideoStore{DB: db}
}

// GetDB returns the database.
func (vs *VideoStore) GetDB() *sql.DB {
	return vs.DB
}

// UpsertVideos writes a batch of video listing rows atomically and reports
// how many of them were new. Enrichment fields (tags_json, comments_count)
// and error/invalid fields are never clobbered by a listing refresh.
func (vs *VideoStore) UpsertVideos(videos []*models.Video) (inserted int64, err error) {
	if len(videos) == 0 {
		return 0, nil
	}

	tx, err := vs.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Panic rollback failed for video batch: %v", rbErr)
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed for video batch (original error: %v): %v", err, rbErr)
			}
		}
	}()

	existsQuery := fmt.Sprintf(
		"SELECT 1 FROM %s WHERE %s = ? AND %s = ?",
		consts.DBVideos, consts.QVidID, consts.QVidHost,
	)

	// SQLite UPSERT (INSERT ... ON CONFLICT)
	//
	// Squirrel doesn't support ON CONFLICT clause natively
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(%s, %s) DO UPDATE SET "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s",
		consts.DBVideos,
		consts.QVidID, consts.QVidHost, consts.QVidChanID, consts.QVidChanName,
		consts.QVidAccountName, consts.QVidTitle, consts.QVidDescription,
		consts.QVidCategory, consts.QVidPublishedAt, consts.QVidURL,
		consts.QVidThumbnailURL, consts.QVidViews, consts.QVidLikes,
		consts.QVidDislikes, consts.QVidNSFW, consts.QVidCreatedAt, consts.QVidUpdatedAt,
		consts.QVidID, consts.QVidHost,
		consts.QVidChanID, consts.QVidChanID,
		consts.QVidChanName, consts.QVidChanName,
		consts.QVidAccountName, consts.QVidAccountName,
		consts.QVidTitle, consts.QVidTitle,
		consts.QVidDescription, consts.QVidDescription,
		consts.QVidCategory, consts.QVidCategory,
		consts.QVidPublishedAt, consts.QVidPublishedAt,
		consts.QVidURL, consts.QVidURL,
		consts.QVidThumbnailURL, consts.QVidThumbnailURL,
		consts.QVidViews, consts.QVidViews,
		consts.QVidLikes, consts.QVidLikes,
		consts.QVidDislikes, consts.QVidDislikes,
		consts.QVidUpdatedAt, consts.QVidUpdatedAt,
	)

	now := nowMS()
	for _, v := range videos {
		var exists int
		scanErr := tx.QueryRow(existsQuery, v.ID, v.Host).Scan(&exists)
		switch scanErr {
		case nil:
		case sql.ErrNoRows:
			inserted++
		default:
			err = fmt.Errorf("failed to check video %q@%q: %w", v.ID, v.Host, scanErr)
			return 0, err
		}

		if _, err = tx.Exec(query,
			v.ID, v.Host, v.ChannelID, v.ChannelName,
			v.AccountName, v.Title, v.Description,
			v.Category, v.PublishedAt, v.URL,
			v.ThumbnailURL, v.Views, v.Likes,
			v.Dislikes, v.NSFW, now, now,
		); err != nil {
			return 0, fmt.Errorf("failed to upsert video %q@%q: %w", v.ID, v.Host, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit video batch: %w", err)
	}
	return inserted, nil
}

// ListExistingVideoIDs returns which of the given ids already have rows for a
// channel. Queries are chunked to bound statement-argument counts.
func (vs *VideoStore) ListExistingVideoIDs(host, channelID string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))

	for _, chunk := range chunkStrings(ids, chunkArgLimit) {
		q := squirrel.
			Select(consts.QVidID).
			From(consts.DBVideos).
			Where(squirrel.Eq{consts.QVidHost: host}).
			Where(squirrel.Eq{consts.QVidChanID: channelID}).
			Where(squirrel.Eq{consts.QVidID: chunk}).
			RunWith(vs.DB)

		rows, err := q.Query()
		if err != nil {
			return nil, fmt.Errorf("failed to list existing video ids for channel %q@%q: %w", channelID, host, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan video id: %w", err)
			}
			existing[id] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return existing, nil
}

// PrepareVideoProgress materializes the video-walk work list from the
// eligible channel set. A fresh run truncates the progress table; either
// way, rows for channels no longer in scope are pruned and missing rows are
// created pending.
func (vs *VideoStore) PrepareVideoProgress(channels []*models.Channel, resume bool) (err error) {
	tx, err := vs.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed preparing video progress (original error: %v): %v", err, rbErr)
			}
		}
	}()

	if !resume {
		if _, err = tx.Exec(fmt.Sprintf("DELETE FROM %s", consts.DBVideoProgress)); err != nil {
			return fmt.Errorf("failed to truncate video progress: %w", err)
		}
	}

	if _, err = tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS video_scope (
		instance_domain TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		channel_name TEXT NOT NULL,
		PRIMARY KEY (instance_domain, channel_id)
	)`); err != nil {
		return fmt.Errorf("failed to create scope table: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM video_scope`); err != nil {
		return fmt.Errorf("failed to clear scope table: %w", err)
	}

	const scopeChunk = chunkArgLimit / 3
	for start := 0; start < len(channels); start += scopeChunk {
		end := start + scopeChunk
		if end > len(channels) {
			end = len(channels)
		}
		insert := squirrel.Insert("video_scope").Columns("instance_domain", "channel_id", "channel_name")
		for _, c := range channels[start:end] {
			insert = insert.Values(c.Host, c.ID, c.Name)
		}
		if _, err = insert.RunWith(tx).Exec(); err != nil {
			return fmt.Errorf("failed to fill scope table: %w", err)
		}
	}

	prune := fmt.Sprintf(
		"DELETE FROM %s WHERE NOT EXISTS ("+
			"SELECT 1 FROM video_scope s WHERE s.instance_domain = %s.%s AND s.channel_id = %s.%s)",
		consts.DBVideoProgress,
		consts.DBVideoProgress, consts.QVProgHost,
		consts.DBVideoProgress, consts.QVProgChanID,
	)
	if _, err = tx.Exec(prune); err != nil {
		return fmt.Errorf("failed to prune video progress: %w", err)
	}

	seed := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, %s, %s, %s, %s, %s) "+
			"SELECT instance_domain, channel_id, channel_name, ?, 0, ? FROM video_scope",
		consts.DBVideoProgress,
		consts.QVProgHost, consts.QVProgChanID, consts.QVProgChanName,
		consts.QVProgStatus, consts.QVProgLastStart, consts.QVProgUpdatedAt,
	)
	if _, err = tx.Exec(seed, consts.StatusPending, nowMS()); err != nil {
		return fmt.Errorf("failed to seed video progress: %w", err)
	}

	if _, err = tx.Exec(`DROP TABLE video_scope`); err != nil {
		return fmt.Errorf("failed to drop scope table: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit video progress preparation: %w", err)
	}
	return nil
}

// ListVideoWorkItems returns video-walk work in the given statuses, ordered
// deterministically by host then channel.
func (vs *VideoStore) ListVideoWorkItems(statuses []string) ([]models.VideoWorkItem, error) {
	q := squirrel.
		Select(
			consts.QVProgHost,
			consts.QVProgChanID,
			consts.QVProgChanName,
			consts.QVProgStatus,
			consts.QVProgLastStart,
			consts.QVProgLastError,
		).
		From(consts.DBVideoProgress).
		Where(squirrel.Eq{consts.QVProgStatus: statuses}).
		OrderBy(consts.QVProgHost, consts.QVProgChanID).
		RunWith(vs.DB)

	rows, err := q.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list video work items: %w", err)
	}
	defer rows.Close()

	var items []models.VideoWorkItem
	for rows.Next() {
		var (
			it      models.VideoWorkItem
			lastErr sql.NullString
		)
		if err := rows.Scan(&it.Host, &it.ChannelID, &it.ChannelName, &it.Status, &it.LastStart, &lastErr); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		it.LastError = lastErr.String
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateVideoProgress persists the video-walk cursor for a channel.
func (vs *VideoStore) UpdateVideoProgress(host, channelID, status string, lastStart int, lastError string) error {
	var (
		errVal   any
		errAtVal any
	)
	if lastError != "" {
		errVal = lastError
		errAtVal = nowMS()
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s) VALUES (?, ?, '', ?, ?, ?, ?, ?) "+
			"ON CONFLICT(%s, %s) DO UPDATE SET "+
			"%s = excluded.%s, %s = excluded.%s, "+
			"%s = excluded.%s, %s = excluded.%s, %s = excluded.%s",
		consts.DBVideoProgress,
		consts.QVProgHost, consts.QVProgChanID, consts.QVProgChanName,
		consts.QVProgStatus, consts.QVProgLastStart, consts.QVProgLastError,
		consts.QVProgLastErrorAt, consts.QVProgUpdatedAt,
		consts.QVProgHost, consts.QVProgChanID,
		consts.QVProgStatus, consts.QVProgStatus,
		consts.QVProgLastStart, consts.QVProgLastStart,
		consts.QVProgLastError, consts.QVProgLastError,
		consts.QVProgLastErrorAt, consts.QVProgLastErrorAt,
		consts.QVProgUpdatedAt, consts.QVProgUpdatedAt,
	)
	if _, err := vs.DB.Exec(query, host, channelID, status, lastStart, errVal, errAtVal, nowMS()); err != nil {
		return fmt.Errorf("failed to update video progress for channel %q@%q: %w", channelID, host, err)
	}
	return nil
}

// ListVideosForTags returns videos needing a tag fetch. With update false,
// only rows never fetched (or fetched empty) qualify; with update true, rows
// that already have tags are refreshed instead. Invalidated rows are always
// excluded.
func (vs *VideoStore) ListVideosForTags(update bool) ([]*models.Video, error) {
	q := squirrel.
		Select(consts.QVidID, consts.QVidHost, consts.QVidTagsJSON).
		From(consts.DBVideos).
		Where(squirrel.Eq{consts.QVidInvalidReason: nil}).
		OrderBy(consts.QVidHost, consts.QVidID)

	if update {
		q = q.Where(squirrel.NotEq{consts.QVidTagsJSON: nil}).
			Where(squirrel.NotEq{consts.QVidTagsJSON: "[]"})
	} else {
		q = q.Where(squirrel.Or{
			squirrel.Eq{consts.QVidTagsJSON: nil},
			squirrel.Eq{consts.QVidTagsJSON: "[]"},
		})
	}

	return vs.scanEnrichRows(q, "tags")
}

// ListVideosForComments returns videos needing a comment-count fetch. With
// resume, rows that already have a count are skipped. Invalidated rows are
// always excluded.
func (vs *VideoStore) ListVideosForComments(resume bool) ([]*models.Video, error) {
	q := squirrel.
		Select(consts.QVidID, consts.QVidHost, consts.QVidTagsJSON).
		From(consts.DBVideos).
		Where(squirrel.Eq{consts.QVidInvalidReason: nil}).
		OrderBy(consts.QVidHost, consts.QVidID)

	if resume {
		q = q.Where(squirrel.Eq{consts.QVidCommentsCount: nil})
	}

	return vs.scanEnrichRows(q, "comments")
}

func (vs *VideoStore) scanEnrichRows(q squirrel.SelectBuilder, what string) ([]*models.Video, error) {
	rows, err := q.RunWith(vs.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list videos for %s: %w", what, err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		var (
			v    models.Video
			tags sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Host, &tags); err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		if tags.Valid {
			s := tags.String
			v.TagsJSON = &s
		}
		videos = append(videos, &v)
	}
	return videos, rows.Err()
}

// UpdateVideoTags stores fetched tags and clears any transient error. The
// invalid_reason guard keeps a concurrent invalidation from being overwritten.
func (vs *VideoStore) UpdateVideoTags(videoID, host, tagsJSON string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = NULL, %s = NULL "+
			"WHERE %s = ? AND %s = ? AND %s IS NULL",
		consts.DBVideos,
		consts.QVidTagsJSON, consts.QVidLastCheckedAt, consts.QVidLastError, consts.QVidLastErrorAt,
		consts.QVidID, consts.QVidHost, consts.QVidInvalidReason,
	)
	if _, err := vs.DB.Exec(query, tagsJSON, nowMS(), videoID, host); err != nil {
		return fmt.Errorf("failed to update tags for video %q@%q: %w", videoID, host, err)
	}
	return nil
}

// UpdateVideoComments stores a fetched comment count and clears any
// transient error.
func (vs *VideoStore) UpdateVideoComments(videoID, host string, n int64) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = NULL, %s = NULL "+
			"WHERE %s = ? AND %s = ? AND %s IS NULL",
		consts.DBVideos,
		consts.QVidCommentsCount, consts.QVidLastCheckedAt, consts.QVidLastError, consts.QVidLastErrorAt,
		consts.QVidID, consts.QVidHost, consts.QVidInvalidReason,
	)
	if _, err := vs.DB.Exec(query, n, nowMS(), videoID, host); err != nil {
		return fmt.Errorf("failed to update comment count for video %q@%q: %w", videoID, host, err)
	}
	return nil
}

// UpdateVideoInvalid marks a video terminally invalid. The first reason
// sticks; later calls are no-ops.
func (vs *VideoStore) UpdateVideoInvalid(videoID, host, reason string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ? WHERE %s = ? AND %s = ? AND %s IS NULL",
		consts.DBVideos,
		consts.QVidInvalidReason, consts.QVidInvalidAt,
		consts.QVidID, consts.QVidHost, consts.QVidInvalidReason,
	)
	if _, err := vs.DB.Exec(query, reason, nowMS(), videoID, host); err != nil {
		return fmt.Errorf("failed to invalidate video %q@%q: %w", videoID, host, err)
	}
	return nil
}

// UpdateVideoError records a transient enrichment failure.
func (vs *VideoStore) UpdateVideoError(videoID, host, msg string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = %s + 1 WHERE %s = ? AND %s = ?",
		consts.DBVideos,
		consts.QVidLastError, consts.QVidLastErrorAt,
		consts.QVidErrorCount, consts.QVidErrorCount,
		consts.QVidID, consts.QVidHost,
	)
	if _, err := vs.DB.Exec(query, msg, nowMS(), videoID, host); err != nil {
		return fmt.Errorf("failed to record error for video %q@%q: %w", videoID, host, err)
	}
	return nil
}
