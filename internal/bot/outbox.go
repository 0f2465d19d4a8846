package bot

import (
	"context"
	"errors"
	"sync"

	"likebot/internal/notifier"
	"likebot/internal/orchestrator"
	kit "likebot/internal/transport"
	logx "likebot/pkg/logx"
	"likebot/pkg/tgui"
)

// Sender is the part of the transport adapter the outbox writes to.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Queue accepts async notifications. *notifier.Service implements it.
type Queue interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Outbox implements orchestrator.Replier. It remembers the last chat each
// session wrote from; a session without one is answered in its private chat.
type Outbox struct {
	sender Sender
	queue  Queue // optional
	log    logx.Logger

	mu    sync.RWMutex
	chats map[int64]kit.ChatTarget
}

var _ orchestrator.Replier = (*Outbox)(nil)

func NewOutbox(sender Sender, queue Queue, log logx.Logger) *Outbox {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Outbox{
		sender: sender,
		queue:  queue,
		log:    log.With(logx.String("comp", "bot.outbox")),
		chats:  map[int64]kit.ChatTarget{},
	}
}

// Bind records where replies for sessionID go.
func (o *Outbox) Bind(sessionID int64, chat kit.ChatTarget) {
	o.mu.Lock()
	o.chats[sessionID] = chat
	o.mu.Unlock()
}

func (o *Outbox) target(sessionID int64) kit.ChatTarget {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.chats[sessionID]; ok {
		return c
	}
	return kit.ChatTarget{ChatID: sessionID}
}

func (o *Outbox) Reply(ctx context.Context, sessionID int64, r orchestrator.Reply) error {
	to := o.target(sessionID)
	opt := &kit.SendOptions{DisablePreview: true, Buttons: buttons(r.Choices)}

	if r.Async && o.queue != nil {
		err := o.queue.Notify(ctx, notifier.Notification{Channel: "job", Target: to, Text: r.Text, Options: opt})
		if err == nil {
			return nil
		}
		if !errors.Is(err, notifier.ErrDisabled) {
			o.log.Debug("notify failed, sending directly", logx.Int64("session_id", sessionID), logx.Err(err))
		}
	}
	_, err := o.sender.SendText(ctx, to, r.Text, opt)
	return err
}

func buttons(rows [][]orchestrator.Choice) [][]kit.Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]kit.Button, 0, len(rows))
	for _, row := range rows {
		bs := make([]kit.Button, 0, len(row))
		for _, c := range row {
			data, err := tgui.Data(choiceScope, choiceAction, c.Token)
			if err != nil {
				continue
			}
			bs = append(bs, kit.Button{Text: c.Label, Data: data})
		}
		out = append(out, bs)
	}
	return out
}
