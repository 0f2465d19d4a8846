package storage

import (
	"context"
	"fmt"
	"strings"

	logx "likebot/pkg/logx"
)

// Store holds opaque session blobs and the job run log.
type Store interface {
	// LoadSession returns ErrNotFound when nothing is stored for id.
	LoadSession(ctx context.Context, id int64) ([]byte, error)
	SaveSession(ctx context.Context, id int64, blob []byte) error
	// ClearSession is idempotent.
	ClearSession(ctx context.Context, id int64) error
	AppendRun(ctx context.Context, r RunRecord) error
	Close() error
}

// Open picks the backend named by cfg.Driver; empty means "file".
// Driver "none" returns ErrDisabled so callers can run without persistence.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	open, ok := backends[driver]
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	return open(cfg, log.With(logx.String("comp", "storage"), logx.String("driver", driver)))
}

var backends = map[string]func(Config, logx.Logger) (Store, error){
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
	"redis":   openRedis,
	"none":    func(Config, logx.Logger) (Store, error) { return nil, ErrDisabled },
}
