package repo

import (
	"database/sql"
	"fmt"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/models"
	"tubecrawl/internal/utils/logging"

	"github.com/Masterminds/squirrel"
)

// ChannelStore holds a pointer to the sql.DB.
type ChannelStore struct {
	DB *sql.DB
}

// GetChannelStore returns a channel store instance with injected database.
func GetChannelStore(db *sql.DB) *ChannelStore {
	return &ChannelStore{DB: db}
}

// GetDB returns the database.
func (cs *ChannelStore) GetDB() *sql.DB {
	return cs.DB
}

// UpsertChannels writes a batch of channel rows atomically. Listing fields
// are refreshed on conflict; health and error fields are left alone.
func (cs *ChannelStore) UpsertChannels(channels []*models.Channel) (err error) {
	if len(channels) == 0 {
		return nil
	}

	tx, err := cs.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Panic rollback failed for channel batch: %v", rbErr)
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed for channel batch (original error: %v): %v", err, rbErr)
			}
		}
	}()

	// SQLite UPSERT (INSERT ... ON CONFLICT)
	//
	// Squirrel doesn't support ON CONFLICT clause natively
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(%s, %s) DO UPDATE SET "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s, "+
			"%s = excluded.%s",
		consts.DBChannels,
		consts.QChanID, consts.QChanHost, consts.QChanName, consts.QChanDisplayName,
		consts.QChanURL, consts.QChanVideosCount, consts.QChanFollowersCount,
		consts.QChanAvatarURL, consts.QChanCreatedAt, consts.QChanUpdatedAt,
		consts.QChanID, consts.QChanHost,
		consts.QChanName, consts.QChanName,
		consts.QChanDisplayName, consts.QChanDisplayName,
		consts.QChanURL, consts.QChanURL,
		consts.QChanVideosCount, consts.QChanVideosCount,
		consts.QChanFollowersCount, consts.QChanFollowersCount,
		consts.QChanAvatarURL, consts.QChanAvatarURL,
		consts.QChanUpdatedAt, consts.QChanUpdatedAt,
	)

	now := nowMS()
	for _, c := range channels {
		var videosCount any
		if c.VideosCount != nil {
			videosCount = *c.VideosCount
		}
		if _, err = tx.Exec(query,
			c.ID, c.Host, c.Name, c.DisplayName,
			c.URL, videosCount, c.FollowersCount,
			c.AvatarURL, now, now,
		); err != nil {
			return fmt.Errorf("failed to upsert channel %q@%q: %w", c.ID, c.Host, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel batch: %w", err)
	}
	return nil
}

// ListChannelInstances returns the distinct hosts that have channel rows.
func (cs *ChannelStore) ListChannelInstances() ([]string, error) {
	q := squirrel.
		Select(fmt.Sprintf("DISTINCT %s", consts.QChanHost)).
		From(consts.DBChannels).
		OrderBy(consts.QChanHost).
		RunWith(cs.DB)

	rows, err := q.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list channel instances: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// ListExistingChannelIDs returns which of the given ids already have rows on
// a host. Queries are chunked to bound statement-argument counts.
func (cs *ChannelStore) ListExistingChannelIDs(host string, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{}, len(ids))

	for _, chunk := range chunkStrings(ids, chunkArgLimit) {
		q := squirrel.
			Select(consts.QChanID).
			From(consts.DBChannels).
			Where(squirrel.Eq{consts.QChanHost: host}).
			Where(squirrel.Eq{consts.QChanID: chunk}).
			RunWith(cs.DB)

		rows, err := q.Query()
		if err != nil {
			return nil, fmt.Errorf("failed to list existing channel ids for host %q: %w", host, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan channel id: %w", err)
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

// ListChannelsWithVideos is the eligibility gate before the video stage: it
// returns channels with videos_count >= minVideos and a non-empty slug,
// restricted to hosts when the slice is non-empty.
func (cs *ChannelStore) ListChannelsWithVideos(minVideos int64, hosts []string) ([]*models.Channel, error) {
	q := squirrel.
		Select(
			consts.QChanID,
			consts.QChanHost,
			consts.QChanName,
			consts.QChanDisplayName,
			consts.QChanURL,
			consts.QChanVideosCount,
			consts.QChanFollowersCount,
			consts.QChanAvatarURL,
		).
		From(consts.DBChannels).
		Where(squirrel.GtOrEq{consts.QChanVideosCount: minVideos}).
		Where(squirrel.NotEq{consts.QChanName: nil}).
		Where(squirrel.NotEq{consts.QChanName: ""}).
		OrderBy(consts.QChanHost, consts.QChanID)

	if len(hosts) > 0 {
		q = q.Where(squirrel.Eq{consts.QChanHost: hosts})
	}

	rows, err := q.RunWith(cs.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list channels with videos: %w", err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		var (
			c           models.Channel
			name        sql.NullString
			displayName sql.NullString
			chanURL     sql.NullString
			videosCount sql.NullInt64
			avatarURL   sql.NullString
		)
		if err := rows.Scan(
			&c.ID, &c.Host, &name, &displayName, &chanURL,
			&videosCount, &c.FollowersCount, &avatarURL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		c.Name = name.String
		c.DisplayName = displayName.String
		c.URL = chanURL.String
		c.AvatarURL = avatarURL.String
		if videosCount.Valid {
			n := videosCount.Int64
			c.VideosCount = &n
		}
		channels = append(channels, &c)
	}
	return channels, rows.Err()
}

// MarkChannelHealth updates the health fields of a channel row.
func (cs *ChannelStore) MarkChannelHealth(channelID, host, status, healthErr string) error {
	var errVal any
	if healthErr != "" {
		errVal = healthErr
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ? AND %s = ?",
		consts.DBChannels,
		consts.QChanHealthStatus, consts.QChanHealthCheckedAt, consts.QChanHealthError,
		consts.QChanID, consts.QChanHost,
	)
	if _, err := cs.DB.Exec(query, status, nowMS(), errVal, channelID, host); err != nil {
		return fmt.Errorf("failed to mark health of channel %q@%q: %w", channelID, host, err)
	}
	return nil
}

// PrepareChannelProgress materializes the channel-walk work list. A fresh run
// truncates the progress table; either way, rows for hosts no longer in
// scope are pruned and missing rows are created pending.
func (cs *ChannelStore) PrepareChannelProgress(hosts []string, resume bool) (err error) {
	tx, err := cs.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed preparing channel progress (original error: %v): %v", err, rbErr)
			}
		}
	}()

	if !resume {
		if _, err = tx.Exec(fmt.Sprintf("DELETE FROM %s", consts.DBChannelProgress)); err != nil {
			return fmt.Errorf("failed to truncate channel progress: %w", err)
		}
	}

	if _, err = tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS channel_scope (host TEXT PRIMARY KEY)`); err != nil {
		return fmt.Errorf("failed to create scope table: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM channel_scope`); err != nil {
		return fmt.Errorf("failed to clear scope table: %w", err)
	}
	for _, chunk := range chunkStrings(hosts, chunkArgLimit) {
		insert := squirrel.Insert("channel_scope").Columns("host")
		for _, h := range chunk {
			insert = insert.Values(h)
		}
		if _, err = insert.RunWith(tx).Exec(); err != nil {
			return fmt.Errorf("failed to fill scope table: %w", err)
		}
	}

	prune := fmt.Sprintf(
		"DELETE FROM %s WHERE %s NOT IN (SELECT host FROM channel_scope)",
		consts.DBChannelProgress, consts.QCProgHost,
	)
	if _, err = tx.Exec(prune); err != nil {
		return fmt.Errorf("failed to prune channel progress: %w", err)
	}

	seed := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, %s, %s, %s) SELECT host, ?, 0, ? FROM channel_scope",
		consts.DBChannelProgress,
		consts.QCProgHost, consts.QCProgStatus, consts.QCProgLastStart, consts.QCProgUpdatedAt,
	)
	if _, err = tx.Exec(seed, consts.StatusPending, nowMS()); err != nil {
		return fmt.Errorf("failed to seed channel progress: %w", err)
	}

	if _, err = tx.Exec(`DROP TABLE channel_scope`); err != nil {
		return fmt.Errorf("failed to drop scope table: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit channel progress preparation: %w", err)
	}
	return nil
}

// ListChannelWorkItems returns pending and in-progress channel-walk work.
func (cs *ChannelStore) ListChannelWorkItems() ([]models.ChannelWorkItem, error) {
	q := squirrel.
		Select(consts.QCProgHost, consts.QCProgStatus, consts.QCProgLastStart).
		From(consts.DBChannelProgress).
		Where(squirrel.Eq{consts.QCProgStatus: []string{consts.StatusPending, consts.StatusInProgress}}).
		OrderBy(consts.QCProgHost).
		RunWith(cs.DB)

	rows, err := q.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list channel work items: %w", err)
	}
	defer rows.Close()

	var items []models.ChannelWorkItem
	for rows.Next() {
		var it models.ChannelWorkItem
		if err := rows.Scan(&it.Host, &it.Status, &it.LastStart); err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateChannelProgress persists the channel-walk cursor for a host.
func (cs *ChannelStore) UpdateChannelProgress(host, status string, lastStart int) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(%s) DO UPDATE SET "+
			"%s = excluded.%s, %s = excluded.%s, %s = excluded.%s",
		consts.DBChannelProgress,
		consts.QCProgHost, consts.QCProgStatus, consts.QCProgLastStart, consts.QCProgUpdatedAt,
		consts.QCProgHost,
		consts.QCProgStatus, consts.QCProgStatus,
		consts.QCProgLastStart, consts.QCProgLastStart,
		consts.QCProgUpdatedAt, consts.QCProgUpdatedAt,
	)
	if _, err := cs.DB.Exec(query, host, status, lastStart, nowMS()); err != nil {
		return fmt.Errorf("failed to update channel progress for host %q: %w", host, err)
	}
	return nil
}
