package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "likebot/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return nil, errors.New("storage: sqlite needs a path")
	case path != ":memory:":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// single connection: serializes writers and pins ":memory:" to one db
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range sqlitePragmas(cfg) {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Warn("sqlite pragma rejected", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	log.Debug("sqlite ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func sqlitePragmas(cfg Config) []string {
	p := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		p = append(p, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	return p
}

func (s *sqliteStore) LoadSession(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	switch err := s.db.QueryRowContext(ctx, `SELECT blob FROM sessions WHERE id = ?`, id).Scan(&blob); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("storage: load session %d: %w", id, err)
	}
	return blob, nil
}

func (s *sqliteStore) SaveSession(ctx context.Context, id int64, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, blob, saved_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET blob=excluded.blob, saved_at=excluded.saved_at`,
		id, blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ClearSession(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(job_id, session_id, mode, outcome, total, processed, likes, already_liked, errors, started_at, took_ms, last_error)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.JobID, r.SessionID, r.Mode, r.Outcome, r.Total, r.Processed, r.Likes, r.AlreadyLiked, r.Errors,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Took.Milliseconds(), nullIfBlank(r.LastError),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// nullIfBlank stores an empty last_error as NULL.
func nullIfBlank(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
