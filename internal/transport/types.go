// Package transport holds the chat-platform neutral update and send types.
//
// The Telegram adapter converts telebot updates into these values and the
// router, bot and notifier only ever see this package.
package transport

import "context"

// Where a reply goes. ThreadID is the forum topic (0 for none).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef points at a message already sent, e.g. one carrying buttons.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is exactly one of Message or Callback, selected by Kind.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Message is an incoming text message or command.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

// Chat is the target that replies to m should use.
func (m *Message) Chat() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// Callback is a press on an inline button. Data is "scope:action:payload".
type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

func (c *Callback) Chat() ChatTarget { return ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID} }

// Ref is the message the pressed button belongs to.
func (c *Callback) Ref() MessageRef {
	return MessageRef{ChatID: c.ChatID, ThreadID: c.ThreadID, MessageID: c.MessageID}
}

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons renders as an inline keyboard, one slice per row.
	Buttons [][]Button
}

// Adapter is the platform connection. Start pushes updates into out until
// ctx ends or Stop is called.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	ClearButtons(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the platform command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optional; the router type-asserts the adapter for it.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
