package database

import (
	"database/sql"
	"fmt"

	"tubecrawl/internal/utils/logging"
)

// initTables initializes the SQL tables.
func (d *Database) initTables() error {
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Panic rollback failed for table creation: %v", rbErr)
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("transaction rollback failed after original error %v: %v", err, rbErr)
			}
		}
	}()

	if err = initInstancesTable(tx); err != nil {
		return err
	}
	if err = initChannelsTable(tx); err != nil {
		return err
	}
	if err = initVideosTable(tx); err != nil {
		return err
	}
	if err = initEdgesTable(tx); err != nil {
		return err
	}
	if err = initQueueTable(tx); err != nil {
		return err
	}
	if err = initProgressTables(tx); err != nil {
		return err
	}
	if err = initStateTable(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createInstancesSQL returns the instances schema for the given table name so
// migrations can build a replacement table with the same shape.
func createInstancesSQL(name string) string {
	return `
    CREATE TABLE IF NOT EXISTS ` + name + ` (
        host TEXT PRIMARY KEY,
        health_status TEXT NOT NULL DEFAULT 'unknown' CHECK(health_status IN ('unknown', 'ok', 'error')),
        health_checked_at INTEGER,
        health_error TEXT,
        last_error TEXT,
        last_error_at INTEGER,
        last_error_source TEXT,
        created_at INTEGER NOT NULL DEFAULT 0
    );`
}

// createChannelsSQL returns the channels schema for the given table name.
func createChannelsSQL(name string) string {
	return `
    CREATE TABLE IF NOT EXISTS ` + name + ` (
        channel_id TEXT NOT NULL,
        instance_domain TEXT NOT NULL,
        channel_name TEXT,
        display_name TEXT,
        channel_url TEXT,
        videos_count INTEGER,
        followers_count INTEGER NOT NULL DEFAULT 0,
        avatar_url TEXT,
        health_status TEXT NOT NULL DEFAULT 'unknown' CHECK(health_status IN ('unknown', 'ok', 'error')),
        health_checked_at INTEGER,
        health_error TEXT,
        last_error TEXT,
        last_error_at INTEGER,
        last_error_source TEXT,
        created_at INTEGER NOT NULL DEFAULT 0,
        updated_at INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (channel_id, instance_domain)
    );`
}

// initInstancesTable initializes the instances table.
func initInstancesTable(tx *sql.Tx) error {
	if _, err := tx.Exec(createInstancesSQL("instances")); err != nil {
		return fmt.Errorf("failed to create instances table: %w", err)
	}
	return nil
}

// initChannelsTable initializes the channels table.
func initChannelsTable(tx *sql.Tx) error {
	query := createChannelsSQL("channels") + `
    CREATE INDEX IF NOT EXISTS idx_channels_followers_count ON channels(followers_count);
    CREATE INDEX IF NOT EXISTS idx_channels_videos_count ON channels(videos_count);
    CREATE INDEX IF NOT EXISTS idx_channels_instance_domain ON channels(instance_domain);
    `
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create channels table: %w", err)
	}
	return nil
}

// initVideosTable initializes the videos table.
func initVideosTable(tx *sql.Tx) error {
	query := `
    CREATE TABLE IF NOT EXISTS videos (
        video_id TEXT NOT NULL,
        instance_domain TEXT NOT NULL,
        channel_id TEXT,
        channel_name TEXT,
        account_name TEXT,
        title TEXT,
        description TEXT,
        tags_json TEXT,
        category TEXT,
        published_at INTEGER,
        url TEXT,
        thumbnail_url TEXT,
        views INTEGER NOT NULL DEFAULT 0,
        likes INTEGER NOT NULL DEFAULT 0,
        dislikes INTEGER NOT NULL DEFAULT 0,
        comments_count INTEGER,
        nsfw INTEGER NOT NULL DEFAULT 0,
        last_checked_at INTEGER,
        last_error TEXT,
        last_error_at INTEGER,
        error_count INTEGER NOT NULL DEFAULT 0,
        invalid_reason TEXT CHECK(invalid_reason IS NULL OR invalid_reason IN ('not_found', 'cert_expired', 'tls_error', 'timeout')),
        invalid_at INTEGER,
        created_at INTEGER NOT NULL DEFAULT 0,
        updated_at INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (video_id, instance_domain)
    );
    CREATE INDEX IF NOT EXISTS idx_videos_instance_domain ON videos(instance_domain);
    CREATE INDEX IF NOT EXISTS idx_videos_channel_id ON videos(channel_id);
    CREATE INDEX IF NOT EXISTS idx_videos_published_at ON videos(published_at);
    CREATE INDEX IF NOT EXISTS idx_videos_views ON videos(views);
    `
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create videos table: %w", err)
	}
	return nil
}

// initEdgesTable initializes the federation edges table.
func initEdgesTable(tx *sql.Tx) error {
	query := `
    CREATE TABLE IF NOT EXISTS edges (
        source_host TEXT NOT NULL,
        target_host TEXT NOT NULL,
        created_at INTEGER NOT NULL DEFAULT 0,
        PRIMARY KEY (source_host, target_host)
    );`
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create edges table: %w", err)
	}
	return nil
}

// initQueueTable initializes the host retry queue.
func initQueueTable(tx *sql.Tx) error {
	query := `
    CREATE TABLE IF NOT EXISTS queue (
        host TEXT PRIMARY KEY,
        enqueued_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_queue_enqueued_at ON queue(enqueued_at);
    `
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create queue table: %w", err)
	}
	return nil
}

// initProgressTables initializes the per-scope progress cursors.
func initProgressTables(tx *sql.Tx) error {
	query := `
    CREATE TABLE IF NOT EXISTS instance_crawl_progress (
        host TEXT PRIMARY KEY,
        status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'done', 'error')),
        error_count INTEGER NOT NULL DEFAULT 0,
        last_start INTEGER NOT NULL DEFAULT 0,
        updated_at INTEGER
    );
    CREATE TABLE IF NOT EXISTS channel_crawl_progress (
        host TEXT PRIMARY KEY,
        status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'done', 'error')),
        last_start INTEGER NOT NULL DEFAULT 0,
        updated_at INTEGER
    );
    CREATE TABLE IF NOT EXISTS video_crawl_progress (
        instance_domain TEXT NOT NULL,
        channel_id TEXT NOT NULL,
        channel_name TEXT,
        status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'done', 'error')),
        last_start INTEGER NOT NULL DEFAULT 0,
        last_error TEXT,
        last_error_at INTEGER,
        updated_at INTEGER,
        PRIMARY KEY (instance_domain, channel_id)
    );
    CREATE INDEX IF NOT EXISTS idx_video_crawl_progress_instance_domain ON video_crawl_progress(instance_domain);
    `
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create progress tables: %w", err)
	}
	return nil
}

// initStateTable initializes the run-level KV state table.
func initStateTable(tx *sql.Tx) error {
	query := `
    CREATE TABLE IF NOT EXISTS crawl_state (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`
	if _, err := tx.Exec(query); err != nil {
		return fmt.Errorf("failed to create crawl_state table: %w", err)
	}
	return nil
}
