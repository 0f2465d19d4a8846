// Package remote defines the client the orchestrator uses to enumerate
// targets and perform likes. Implementations live in sub-packages.
package remote

import (
	"context"
	"time"
)

// User is an account returned by an enumeration call.
type User struct {
	ID       string
	Username string
	Private  bool
}

// Item is one post of a target account.
type Item struct {
	ID           string
	AlreadyLiked bool
}

// Client authenticates and produces Sessions.
type Client interface {
	// Login returns an error of kind TwoFactorRequired when code is empty and the
	// account needs one; the caller asks for the code and calls Login again.
	Login(ctx context.Context, username, password, code string) (Session, error)
	// Restore rebuilds a Session from a blob produced by Session.Export.
	Restore(ctx context.Context, blob []byte) (Session, error)
}

// Session is an authenticated handle. Implementations must be safe for use
// by one job goroutine and concurrent Self/Export calls.
type Session interface {
	Username() string
	Self(ctx context.Context) (User, error)

	ResolvePost(ctx context.Context, url string) (postID string, err error)
	PostLikers(ctx context.Context, postID string) ([]User, error)
	// Following returns up to limit accounts the user follows; 0 means all.
	Following(ctx context.Context, userID string, limit int) ([]User, error)
	RecentPosts(ctx context.Context, userID string, count int) ([]Item, error)
	Like(ctx context.Context, itemID string) error

	// SetDelayRange sets the jittered pause applied between the session's own calls.
	SetDelayRange(lo, hi time.Duration)
	Export() ([]byte, error)
}
