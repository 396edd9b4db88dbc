package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"tubecrawl/internal/domain/consts"

	"github.com/Masterminds/squirrel"
)

// StateStore holds a pointer to the sql.DB.
type StateStore struct {
	DB *sql.DB
}

// GetStateStore returns a state store instance with injected database.
func GetStateStore(db *sql.DB) *StateStore {
	return &StateStore{DB: db}
}

// SetState sets a run-level KV entry, replacing any previous value.
func (ss *StateStore) SetState(key, value string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, ?) ON CONFLICT(%s) DO UPDATE SET %s = excluded.%s",
		consts.DBCrawlState,
		consts.QStateKey, consts.QStateValue,
		consts.QStateKey,
		consts.QStateValue, consts.QStateValue,
	)
	if _, err := ss.DB.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}
	return nil
}

// GetState returns a run-level KV entry. ok is false when the key is absent.
func (ss *StateStore) GetState(key string) (value string, ok bool, err error) {
	q := squirrel.
		Select(consts.QStateValue).
		From(consts.DBCrawlState).
		Where(squirrel.Eq{consts.QStateKey: key}).
		RunWith(ss.DB)

	if err := q.QueryRow().Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get state %q: %w", key, err)
	}
	return value, true, nil
}

// IncrementState adds delta to a numeric KV entry in a single statement, so
// concurrent workers never lose increments to read-modify-write races.
func (ss *StateStore) IncrementState(key string, delta int64) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, %s) VALUES (?, CAST(? AS TEXT)) "+
			"ON CONFLICT(%s) DO UPDATE SET %s = CAST(CAST(%s AS INTEGER) + ? AS TEXT)",
		consts.DBCrawlState,
		consts.QStateKey, consts.QStateValue,
		consts.QStateKey,
		consts.QStateValue, consts.QStateValue,
	)
	if _, err := ss.DB.Exec(query, key, delta, delta); err != nil {
		return fmt.Errorf("failed to increment state %q: %w", key, err)
	}
	return nil
}
