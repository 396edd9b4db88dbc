package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"tubecrawl/internal/domain/consts"
	"tubecrawl/internal/models"
	"tubecrawl/internal/utils/logging"

	"github.com/Masterminds/squirrel"
)

// HostStore holds a pointer to the sql.DB.
//
// It covers the instances table, the host retry queue, federation edges, and
// the instance walk progress table.
type HostStore struct {
	DB *sql.DB
}

// GetHostStore returns a host store instance with injected database.
func GetHostStore(db *sql.DB) *HostStore {
	return &HostStore{DB: db}
}

// GetDB returns the database.
func (hs *HostStore) GetDB() *sql.DB {
	return hs.DB
}

// EnsureHost creates the instance row and its pending progress row if they
// do not exist yet. Hosts are never deleted by the crawler.
func (hs *HostStore) EnsureHost(host string) error {
	now := nowMS()

	instQuery := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)",
		consts.DBInstances, consts.QInstHost, consts.QInstCreatedAt,
	)
	if _, err := hs.DB.Exec(instQuery, host, now); err != nil {
		return fmt.Errorf("failed to ensure host %q: %w", host, err)
	}

	progQuery := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, %s, %s) VALUES (?, ?, ?)",
		consts.DBInstanceProgress, consts.QIProgHost, consts.QIProgStatus, consts.QIProgUpdatedAt,
	)
	if _, err := hs.DB.Exec(progQuery, host, consts.StatusPending, now); err != nil {
		return fmt.Errorf("failed to ensure progress row for host %q: %w", host, err)
	}
	return nil
}

// ListHosts returns all known hosts in deterministic order.
func (hs *HostStore) ListHosts() ([]string, error) {
	q := squirrel.
		Select(consts.QInstHost).
		From(consts.DBInstances).
		OrderBy(consts.QInstHost).
		RunWith(hs.DB)

	rows, err := q.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan host row: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// EnqueueHost places a host on the retry queue, due after delayMS. A host
// already done or processing is left alone; re-enqueueing a queued host
// replaces its deadline. The progress row flips back to pending.
func (hs *HostStore) EnqueueHost(host string, delayMS int64) (err error) {
	tx, err := hs.DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed for host %q (original error: %v): %v", host, err, rbErr)
			}
		}
	}()

	var status string
	statusQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		consts.QIProgStatus, consts.DBInstanceProgress, consts.QIProgHost,
	)
	err = tx.QueryRow(statusQuery, host).Scan(&status)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check progress status for host %q: %w", host, err)
	}
	err = nil
	if status == consts.StatusDone || status == consts.StatusProcessing {
		return tx.Commit()
	}

	now := nowMS()

	queueQuery := fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s",
		consts.DBQueue,
		consts.QQueueHost, consts.QQueueEnqueuedAt,
		consts.QQueueHost,
		consts.QQueueEnqueuedAt, consts.QQueueEnqueuedAt,
	)
	if _, err = tx.Exec(queueQuery, host, now+delayMS); err != nil {
		return fmt.Errorf("failed to enqueue host %q: %w", host, err)
	}

	progQuery := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?) "+
			"ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s, %s = excluded.%s",
		consts.DBInstanceProgress,
		consts.QIProgHost, consts.QIProgStatus, consts.QIProgUpdatedAt,
		consts.QIProgHost,
		consts.QIProgStatus, consts.QIProgStatus,
		consts.QIProgUpdatedAt, consts.QIProgUpdatedAt,
	)
	if _, err = tx.Exec(progQuery, host, consts.StatusPending, now); err != nil {
		return fmt.Errorf("failed to reset progress for host %q: %w", host, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enqueue for host %q: %w", host, err)
	}
	return nil
}

// ClaimNextHost atomically dequeues the oldest due host and flips its
// progress row to processing. ok is false when nothing is claimable.
func (hs *HostStore) ClaimNextHost() (host string, ok bool, err error) {
	tx, err := hs.DB.Begin()
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed claiming next host (original error: %v): %v", err, rbErr)
			}
		}
	}()

	now := nowMS()

	selectQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s <= ? ORDER BY %s LIMIT 1",
		consts.QQueueHost, consts.DBQueue, consts.QQueueEnqueuedAt, consts.QQueueEnqueuedAt,
	)
	err = tx.QueryRow(selectQuery, now).Scan(&host)
	if errors.Is(err, sql.ErrNoRows) {
		err = tx.Commit()
		return "", false, err
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to select next queued host: %w", err)
	}

	deleteQuery := fmt.Sprintf(
		"DELETE FROM %s WHERE %s = ?",
		consts.DBQueue, consts.QQueueHost,
	)
	if _, err = tx.Exec(deleteQuery, host); err != nil {
		return "", false, fmt.Errorf("failed to dequeue host %q: %w", host, err)
	}

	progQuery := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?) "+
			"ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s, %s = excluded.%s, %s = excluded.%s",
		consts.DBInstanceProgress,
		consts.QIProgHost, consts.QIProgStatus, consts.QIProgLastStart, consts.QIProgUpdatedAt,
		consts.QIProgHost,
		consts.QIProgStatus, consts.QIProgStatus,
		consts.QIProgLastStart, consts.QIProgLastStart,
		consts.QIProgUpdatedAt, consts.QIProgUpdatedAt,
	)
	if _, err = tx.Exec(progQuery, host, consts.StatusProcessing, now, now); err != nil {
		return "", false, fmt.Errorf("failed to mark host %q processing: %w", host, err)
	}

	if err = tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed to commit claim of host %q: %w", host, err)
	}
	return host, true, nil
}

// NextQueueTime returns the nearest queue deadline in Unix ms. ok is false
// when the queue is empty.
func (hs *HostStore) NextQueueTime() (ms int64, ok bool, err error) {
	q := squirrel.
		Select(fmt.Sprintf("MIN(%s)", consts.QQueueEnqueuedAt)).
		From(consts.DBQueue).
		RunWith(hs.DB)

	var next sql.NullInt64
	if err := q.QueryRow().Scan(&next); err != nil {
		return 0, false, fmt.Errorf("failed to read next queue time: %w", err)
	}
	if !next.Valid {
		return 0, false, nil
	}
	return next.Int64, true, nil
}

// RecoverQueue flips orphaned processing rows back to pending and re-queues
// them, due immediately. When allowedHosts is non-nil, hosts outside the set
// are left untouched.
func (hs *HostStore) RecoverQueue(allowedHosts map[string]struct{}) error {
	q := squirrel.
		Select(consts.QIProgHost).
		From(consts.DBInstanceProgress).
		Where(squirrel.Eq{consts.QIProgStatus: consts.StatusProcessing}).
		RunWith(hs.DB)

	rows, err := q.Query()
	if err != nil {
		return fmt.Errorf("failed to list orphaned hosts: %w", err)
	}

	var orphans []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan orphaned host: %w", err)
		}
		if allowedHosts != nil {
			if _, ok := allowedHosts[h]; !ok {
				continue
			}
		}
		orphans = append(orphans, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, h := range orphans {
		resetQuery := fmt.Sprintf(
			"UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
			consts.DBInstanceProgress,
			consts.QIProgStatus, consts.QIProgUpdatedAt, consts.QIProgHost,
		)
		if _, err := hs.DB.Exec(resetQuery, consts.StatusPending, nowMS(), h); err != nil {
			return fmt.Errorf("failed to reset orphan %q: %w", h, err)
		}
		if err := hs.EnqueueHost(h, 0); err != nil {
			return err
		}
		logging.D(1, "Recovered orphaned host %q back onto the queue", h)
	}
	return nil
}

// MarkHostDone marks the instance walk finished for a host.
func (hs *HostStore) MarkHostDone(host string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		consts.DBInstanceProgress,
		consts.QIProgStatus, consts.QIProgUpdatedAt, consts.QIProgHost,
	)
	if _, err := hs.DB.Exec(query, consts.StatusDone, nowMS(), host); err != nil {
		return fmt.Errorf("failed to mark host %q done: %w", host, err)
	}
	return nil
}

// MarkHostWalkError records a walk failure for a host: the instance row gets
// the last-error fields, the progress row flips to error with a bumped error
// count, which is returned for the caller's retry decision.
func (hs *HostStore) MarkHostWalkError(host, msg string) (errorCount int64, err error) {
	tx, err := hs.DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.E("Rollback failed for host %q (original error: %v): %v", host, err, rbErr)
			}
		}
	}()

	now := nowMS()

	instQuery := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ?",
		consts.DBInstances,
		consts.QInstLastError, consts.QInstLastErrorAt, consts.QInstLastErrorSource,
		consts.QInstHost,
	)
	if _, err = tx.Exec(instQuery, msg, now, consts.ErrSourceInstances, host); err != nil {
		return 0, fmt.Errorf("failed to record error for host %q: %w", host, err)
	}

	progQuery := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = %s + 1, %s = ? WHERE %s = ?",
		consts.DBInstanceProgress,
		consts.QIProgStatus,
		consts.QIProgErrorCount, consts.QIProgErrorCount,
		consts.QIProgUpdatedAt, consts.QIProgHost,
	)
	if _, err = tx.Exec(progQuery, consts.StatusError, now, host); err != nil {
		return 0, fmt.Errorf("failed to flip progress to error for host %q: %w", host, err)
	}

	countQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		consts.QIProgErrorCount, consts.DBInstanceProgress, consts.QIProgHost,
	)
	if err = tx.QueryRow(countQuery, host).Scan(&errorCount); err != nil {
		return 0, fmt.Errorf("failed to read error count for host %q: %w", host, err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit error for host %q: %w", host, err)
	}
	return errorCount, nil
}

// GetHostErrorCount returns the walk error count for a host.
func (hs *HostStore) GetHostErrorCount(host string) (int64, error) {
	q := squirrel.
		Select(consts.QIProgErrorCount).
		From(consts.DBInstanceProgress).
		Where(squirrel.Eq{consts.QIProgHost: host}).
		RunWith(hs.DB)

	var n int64
	if err := q.QueryRow().Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read error count for host %q: %w", host, err)
	}
	return n, nil
}

// MarkHostError records a non-walk failure (channel listing, video counting,
// health probing) on the instance row only.
func (hs *HostStore) MarkHostError(host, source, msg string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ?",
		consts.DBInstances,
		consts.QInstLastError, consts.QInstLastErrorAt, consts.QInstLastErrorSource,
		consts.QInstHost,
	)
	if _, err := hs.DB.Exec(query, msg, nowMS(), source, host); err != nil {
		return fmt.Errorf("failed to record error for host %q: %w", host, err)
	}
	return nil
}

// ClearHostError wipes the last-error fields after a successful walk.
func (hs *HostStore) ClearHostError(host string) error {
	query := fmt.Sprintf(
		"UPDATE %s SET %s = NULL, %s = NULL, %s = NULL WHERE %s = ?",
		consts.DBInstances,
		consts.QInstLastError, consts.QInstLastErrorAt, consts.QInstLastErrorSource,
		consts.QInstHost,
	)
	if _, err := hs.DB.Exec(query, host); err != nil {
		return fmt.Errorf("failed to clear error for host %q: %w", host, err)
	}
	return nil
}

// MarkHostHealth updates the health fields of a host. Health is orthogonal
// to walk progress.
func (hs *HostStore) MarkHostHealth(host, status, healthErr string) error {
	var errVal any
	if healthErr != "" {
		errVal = healthErr
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = ?, %s = ?, %s = ? WHERE %s = ?",
		consts.DBInstances,
		consts.QInstHealthStatus, consts.QInstHealthCheckedAt, consts.QInstHealthError,
		consts.QInstHost,
	)
	if _, err := hs.DB.Exec(query, status, nowMS(), errVal, host); err != nil {
		return fmt.Errorf("failed to mark health of host %q: %w", host, err)
	}
	return nil
}

// ListHostsForHealth returns hosts due for a health probe. minAgeMS skips
// rows probed more recently than that.
func (hs *HostStore) ListHostsForHealth(errorsOnly bool, singleHost string, minAgeMS int64) ([]string, error) {
	q := squirrel.
		Select(consts.QInstHost).
		From(consts.DBInstances).
		OrderBy(consts.QInstHost)

	if singleHost != "" {
		q = q.Where(squirrel.Eq{consts.QInstHost: singleHost})
	}
	if errorsOnly {
		q = q.Where(squirrel.Eq{consts.QInstHealthStatus: consts.HealthError})
	}
	if minAgeMS > 0 {
		cutoff := nowMS() - minAgeMS
		q = q.Where(squirrel.Or{
			squirrel.Eq{consts.QInstHealthCheckedAt: nil},
			squirrel.LtOrEq{consts.QInstHealthCheckedAt: cutoff},
		})
	}

	rows, err := q.RunWith(hs.DB).Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts for health check: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan host row: %w", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// InsertEdge records one federation edge. Self-loops are ignored.
func (hs *HostStore) InsertEdge(src, dst string) error {
	if src == dst {
		return nil
	}
	query := fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (%s, %s, %s) VALUES (?, ?, ?)",
		consts.DBEdges,
		consts.QEdgeSource, consts.QEdgeTarget, consts.QEdgeCreatedAt,
	)
	if _, err := hs.DB.Exec(query, src, dst, nowMS()); err != nil {
		return fmt.Errorf("failed to insert edge %q -> %q: %w", src, dst, err)
	}
	return nil
}

// ListEdges returns all federation edges.
func (hs *HostStore) ListEdges() ([]models.Edge, error) {
	q := squirrel.
		Select(consts.QEdgeSource, consts.QEdgeTarget).
		From(consts.DBEdges).
		OrderBy(consts.QEdgeSource, consts.QEdgeTarget).
		RunWith(hs.DB)

	rows, err := q.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.Source, &e.Target); err != nil {
			return nil, fmt.Errorf("failed to scan edge row: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
