// Package router dispatches transport updates to commands, inline-button
// callbacks and a free-text handler.
//
// Only owners reach handlers. Updates from one user are handled in arrival
// order; different users are served concurrently by a bounded worker pool.
package router

import (
	"context"
	"time"

	kit "likebot/internal/transport"
	logx "likebot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	// Route is a space-separated command path, e.g. "status" or "job stop".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Hidden      bool          // left out of the menu and help
	Handle      HandlerFunc
}

// CallbackRoute handles inline buttons whose data is "<scope>:<action>:<payload>".
type CallbackRoute struct {
	Scope   string
	Action  string
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string   // route, "cb:<scope>:<action>" or "text"
	Args    []string // whitespace-split words after the command
	Text    string   // everything after the command word, or the whole message for free text
	Payload string   // callback payload
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}
