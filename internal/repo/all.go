// Package repo is used for performing database repository operations.
package repo

import (
	"database/sql"
	"time"

	"tubecrawl/internal/contracts"
)

// Store holds the database handle and sub-stores like HostStore etc.
type Store struct {
	db           *sql.DB
	hostStore    *HostStore
	channelStore *ChannelStore
	videoStore   *VideoStore
	stateStore   *StateStore
}

// InitStores injects the database into the store methods.
func InitStores(db *sql.DB) *Store {
	return &Store{
		db:           db,
		hostStore:    GetHostStore(db),
		channelStore: GetChannelStore(db),
		videoStore:   GetVideoStore(db),
		stateStore:   GetStateStore(db),
	}
}

// HostStore with pointer receiver.
func (s *Store) HostStore() contracts.HostStore {
	return s.hostStore
}

// ChannelStore with pointer receiver.
func (s *Store) ChannelStore() contracts.ChannelStore {
	return s.channelStore
}

// VideoStore with pointer receiver.
func (s *Store) VideoStore() contracts.VideoStore {
	return s.videoStore
}

// StateStore with pointer receiver.
func (s *Store) StateStore() contracts.StateStore {
	return s.stateStore
}

// nowMS returns the current time in Unix milliseconds, the timestamp unit
// used across all tables.
func nowMS() int64 {
	return time.Now().UnixMilli()
}
