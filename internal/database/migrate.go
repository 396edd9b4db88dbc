package database

import (
	"database/sql"
	"fmt"
	"time"

	"tubecrawl/internal/utils/logging"
)

// migrate rewrites legacy table shapes into the current schema. Detection is
// by column presence, so re-running against an already-migrated store is a
// no-op.
func (d *Database) migrate() error {
	instCols, err := tableColumns(d.DB, "instances")
	if err != nil {
		return err
	}
	if _, legacy := instCols["status"]; legacy {
		if _, current := instCols["health_status"]; !current {
			logging.I("Migrating legacy instances table")
			if err := d.migrateInstances(instCols); err != nil {
				return fmt.Errorf("instances migration: %w", err)
			}
		}
	}

	chanCols, err := tableColumns(d.DB, "channels")
	if err != nil {
		return err
	}
	if _, legacy := chanCols["videos_count_error"]; legacy {
		if _, current := chanCols["health_status"]; !current {
			logging.I("Migrating legacy channels table")
			if err := d.migrateChannels(chanCols); err != nil {
				return fmt.Errorf("channels migration: %w", err)
			}
		}
	}

	vidCols, err := tableColumns(d.DB, "videos")
	if err != nil {
		return err
	}
	if len(vidCols) > 0 {
		if _, ok := vidCols["last_error"]; !ok {
			logging.I("Adding error columns to legacy videos table")
			if err := d.migrateVideos(vidCols); err != nil {
				return fmt.Errorf("videos migration: %w", err)
			}
		}
	}

	return nil
}

// migrateInstances rewrites a legacy instances table through a new table,
// seeding the new health/last-error fields and the instance_crawl_progress
// rows from the legacy columns.
func (d *Database) migrateInstances(cols map[string]struct{}) (err error) {
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed after original error %v: %v", err, rbErr)
			}
		}
	}()

	if err = initProgressTables(tx); err != nil {
		return err
	}
	if _, err = tx.Exec(createInstancesSQL("instances_migrated")); err != nil {
		return err
	}

	now := time.Now().UnixMilli()

	healthStatus := fmt.Sprintf(
		`CASE WHEN %s IS NOT NULL THEN 'error'
		      WHEN %s IS NOT NULL THEN 'ok'
		      ELSE 'unknown' END`,
		colOrNull(cols, "invalid_reason"),
		colOrNull(cols, "last_success_at"),
	)

	insert := fmt.Sprintf(`
		INSERT INTO instances_migrated
			(host, health_status, health_checked_at, health_error, last_error, last_error_at, last_error_source, created_at)
		SELECT host,
			%s,
			COALESCE(%s, %s),
			%s,
			%s,
			%s,
			CASE WHEN %s IS NOT NULL THEN 'instances' END,
			?
		FROM instances`,
		healthStatus,
		colOrNull(cols, "last_processed_at"), colOrNull(cols, "last_success_at"),
		colOrNull(cols, "invalid_reason"),
		colOrNull(cols, "invalid_reason"),
		colOrNull(cols, "invalid_at"),
		colOrNull(cols, "invalid_reason"),
	)
	if _, err = tx.Exec(insert, now); err != nil {
		return err
	}

	progress := fmt.Sprintf(`
		INSERT OR IGNORE INTO instance_crawl_progress (host, status, error_count, last_start, updated_at)
		SELECT host,
			CASE WHEN %s IN ('pending', 'processing', 'done', 'error') THEN %s ELSE 'pending' END,
			COALESCE(%s, %s, 0),
			0,
			?
		FROM instances`,
		colOrNull(cols, "status"), colOrNull(cols, "status"),
		colOrNull(cols, "error_count"), colOrNull(cols, "consecutive_failures"),
	)
	if _, err = tx.Exec(progress, now); err != nil {
		return err
	}

	if _, err = tx.Exec(`DROP TABLE instances`); err != nil {
		return err
	}
	if _, err = tx.Exec(`ALTER TABLE instances_migrated RENAME TO instances`); err != nil {
		return err
	}

	return tx.Commit()
}

// migrateChannels rewrites a legacy channels table, mapping the old
// videos-count error columns onto the health/last-error fields.
func (d *Database) migrateChannels(cols map[string]struct{}) (err error) {
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed after original error %v: %v", err, rbErr)
			}
		}
	}()

	if _, err = tx.Exec(createChannelsSQL("channels_migrated")); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
		INSERT INTO channels_migrated
			(channel_id, instance_domain, channel_name, display_name, channel_url,
			 videos_count, followers_count, avatar_url,
			 health_status, health_checked_at, health_error,
			 last_error, last_error_at, last_error_source,
			 created_at, updated_at)
		SELECT channel_id, instance_domain, %s, %s, %s,
			%s, COALESCE(%s, 0), %s,
			CASE WHEN %s IS NOT NULL THEN 'error'
			     WHEN %s IS NOT NULL THEN 'ok'
			     ELSE 'unknown' END,
			%s,
			%s,
			%s,
			%s,
			CASE WHEN %s IS NOT NULL THEN 'videos_count' END,
			COALESCE(%s, ?), COALESCE(%s, ?)
		FROM channels`,
		colOrNull(cols, "channel_name"), colOrNull(cols, "display_name"), colOrNull(cols, "channel_url"),
		colOrNull(cols, "videos_count"), colOrNull(cols, "followers_count"), colOrNull(cols, "avatar_url"),
		colOrNull(cols, "videos_count_error"),
		colOrNull(cols, "last_checked_at"),
		colOrNull(cols, "last_checked_at"),
		colOrNull(cols, "videos_count_error"),
		colOrNull(cols, "videos_count_error"),
		colOrNull(cols, "videos_count_error_at"),
		colOrNull(cols, "videos_count_error"),
		colOrNull(cols, "created_at"), colOrNull(cols, "updated_at"),
	)
	now := time.Now().UnixMilli()
	if _, err = tx.Exec(insert, now, now); err != nil {
		return err
	}

	if _, err = tx.Exec(`DROP TABLE channels`); err != nil {
		return err
	}
	if _, err = tx.Exec(`ALTER TABLE channels_migrated RENAME TO channels`); err != nil {
		return err
	}

	return tx.Commit()
}

// migrateVideos adds the error columns to a legacy videos table in place,
// preserving defaults from the invalid_* columns where present.
func (d *Database) migrateVideos(cols map[string]struct{}) (err error) {
	tx, err := d.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed after original error %v: %v", err, rbErr)
			}
		}
	}()

	for col, ddl := range map[string]string{
		"last_error":    `ALTER TABLE videos ADD COLUMN last_error TEXT`,
		"last_error_at": `ALTER TABLE videos ADD COLUMN last_error_at INTEGER`,
		"error_count":   `ALTER TABLE videos ADD COLUMN error_count INTEGER NOT NULL DEFAULT 0`,
	} {
		if _, exists := cols[col]; exists {
			continue
		}
		if _, err = tx.Exec(ddl); err != nil {
			return err
		}
	}

	if _, hasInvalid := cols["invalid_reason"]; hasInvalid {
		seed := fmt.Sprintf(`
			UPDATE videos SET last_error = invalid_reason, last_error_at = %s
			WHERE invalid_reason IS NOT NULL AND last_error IS NULL`,
			colOrNull(cols, "invalid_at"))
		if _, err = tx.Exec(seed); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// tableColumns returns the column set of a table, empty when the table does
// not exist.
func tableColumns(db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %q: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column of %q: %w", table, err)
		}
		cols[name] = struct{}{}
	}
	return cols, rows.Err()
}

// colOrNull yields the column name when present in cols, otherwise a NULL
// literal, so SELECTs against legacy tables with partial shapes still build.
func colOrNull(cols map[string]struct{}, name string) string {
	if _, ok := cols[name]; ok {
		return name
	}
	return "NULL"
}
