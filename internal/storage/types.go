package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrNotFound is returned by LoadSession when no blob is stored for the id.
	ErrNotFound = errors.New("session not found")
)

// Config configures storage.
//
// Driver values:
//   - "file": directory of JSON files (default)
//   - "sqlite": SQLite database file
//   - "redis": Redis server
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisDB       int
	RedisPassword string
}

// RunRecord is one finished job. Keep it compact and schema-stable.
type RunRecord struct {
	JobID        string        `json:"job_id"`
	SessionID    int64         `json:"session_id"`
	Mode         string        `json:"mode"`
	Outcome      string        `json:"outcome"`
	Total        int           `json:"total"`
	Processed    int64         `json:"processed"`
	Likes        int64         `json:"likes"`
	AlreadyLiked int64         `json:"already_liked"`
	Errors       int64         `json:"errors"`
	StartedAt    time.Time     `json:"started_at"`
	Took         time.Duration `json:"took"`
	LastError    string        `json:"last_error,omitempty"`
}
