// Package bot maps chat commands, free text and inline buttons onto the
// orchestrator.
package bot

import (
	"context"
	"errors"
	"time"

	"likebot/internal/orchestrator"
	kit "likebot/internal/transport"
	"likebot/internal/transport/telegram/router"
	logx "likebot/pkg/logx"
)

const (
	choiceScope  = "like"
	choiceAction = "choice"
)

// Orchestrator is the part of *orchestrator.Orchestrator the handlers drive.
type Orchestrator interface {
	StartFlow(ctx context.Context, id int64, kind orchestrator.FlowKind) error
	StartPostLikers(ctx context.Context, id int64, links []string) error
	SubmitText(ctx context.Context, id int64, text string) error
	SubmitChoice(ctx context.Context, id int64, token string) error
	RequestCancel(ctx context.Context, id int64) error
	RequestStatus(id int64) (orchestrator.StatusSnapshot, bool)
	RequestLogout(ctx context.Context, id int64) error
}

type Bot struct {
	orch   Orchestrator
	outbox *Outbox
	log    logx.Logger
}

func New(orch Orchestrator, outbox *Outbox, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{orch: orch, outbox: outbox, log: log.With(logx.String("comp", "bot"))}
}

// Commands returns the command set for the router.
func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Route:       "start",
			Description: "introduction",
			Handle:      b.handleStart,
		},
		{
			Route:       "login",
			Description: "sign in to Instagram",
			Handle:      b.session(b.login),
		},
		{
			Route:       "likepost",
			Description: "like posts of accounts that liked given posts",
			Usage:       "/likepost [post links]",
			Handle:      b.session(b.likePost),
		},
		{
			Route:       "likefollowing",
			Description: "like posts of accounts you follow",
			Handle:      b.session(b.likeFollowing),
		},
		{
			Route:       "status",
			Description: "show job progress",
			Handle:      b.handleStatus,
		},
		{
			Route:       "stop",
			Aliases:     []string{"cancel"},
			Description: "stop the job or cancel the setup",
			Handle:      b.session(b.stop),
		},
		{
			Route:       "logout",
			Description: "forget the Instagram login",
			Handle:      b.session(b.logout),
		},
	}
}

// Callbacks returns the inline button routes.
func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{{
		Scope:   choiceScope,
		Action:  choiceAction,
		Timeout: time.Minute,
		Handle:  b.handleChoice,
	}}
}

// HandleText feeds free text to the conversation.
func (b *Bot) HandleText(ctx context.Context, req *router.Request) error {
	return b.session(func(ctx context.Context, id int64, req *router.Request) error {
		return b.orch.SubmitText(ctx, id, req.Text)
	})(ctx, req)
}

// session binds the reply chat and hides errors the orchestrator already
// told the user about.
func (b *Bot) session(fn func(ctx context.Context, id int64, req *router.Request) error) router.HandlerFunc {
	return func(ctx context.Context, req *router.Request) error {
		id := req.FromID
		b.outbox.Bind(id, req.Chat)
		err := fn(ctx, id, req)
		switch {
		case err == nil, errors.Is(err, orchestrator.ErrBusy), errors.Is(err, orchestrator.ErrNotAuthenticated):
			return nil
		case errors.Is(err, orchestrator.ErrNotStarted):
			b.log.Warn("request while orchestrator is stopped", logx.Int64("session_id", id), logx.String("cmd", req.Command))
			_ = req.Reply(ctx, "The bot is shutting down, try again later.", nil)
			return err
		default:
			_ = req.Reply(ctx, "Something went wrong. Try again or send /cancel.", nil)
			return err
		}
	}
}

func (b *Bot) handleStart(ctx context.Context, req *router.Request) error {
	b.outbox.Bind(req.FromID, req.Chat)
	msg := "Hi! I like recent posts of Instagram accounts at a safe pace.\n\n" +
		"1. /login with your Instagram account\n" +
		"2. /likepost and send post links, or /likefollowing\n" +
		"3. follow the job with /status, stop it with /stop\n\n" +
		"Send /help for all commands."
	return req.Reply(ctx, msg, &kit.SendOptions{DisablePreview: true})
}

func (b *Bot) login(ctx context.Context, id int64, _ *router.Request) error {
	return b.orch.StartFlow(ctx, id, orchestrator.FlowLogin)
}

func (b *Bot) likePost(ctx context.Context, id int64, req *router.Request) error {
	return b.orch.StartPostLikers(ctx, id, orchestrator.ExtractLinks(req.Text))
}

func (b *Bot) likeFollowing(ctx context.Context, id int64, _ *router.Request) error {
	return b.orch.StartFlow(ctx, id, orchestrator.FlowFollowing)
}

func (b *Bot) stop(ctx context.Context, id int64, _ *router.Request) error {
	return b.orch.RequestCancel(ctx, id)
}

func (b *Bot) logout(ctx context.Context, id int64, _ *router.Request) error {
	return b.orch.RequestLogout(ctx, id)
}

func (b *Bot) handleStatus(ctx context.Context, req *router.Request) error {
	b.outbox.Bind(req.FromID, req.Chat)
	st, _ := b.orch.RequestStatus(req.FromID)
	text, opt := renderStatus(st)
	return req.Reply(ctx, text, opt)
}

func (b *Bot) handleChoice(ctx context.Context, req *router.Request) error {
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		ref := cb.Ref()
		if err := req.Adapter.ClearButtons(ctx, ref); err != nil {
			req.Logger.Debug("clear buttons failed", logx.Err(err))
		}
	}
	return b.session(func(ctx context.Context, id int64, req *router.Request) error {
		return b.orch.SubmitChoice(ctx, id, req.Payload)
	})(ctx, req)
}
