package orchestrator

import "context"

// Choice is an inline option offered with a reply.
type Choice struct {
	Label string
	Token string
}

// Reply is a message to the user of a session. Rendering belongs to the transport.
type Reply struct {
	Text    string
	Choices [][]Choice
	// Async replies go through the per-chat notification queue, so they keep
	// their order relative to each other (progress, then the final report).
	Async bool
}

// Replier delivers replies to the chat bound to a session id.
type Replier interface {
	Reply(ctx context.Context, sessionID int64, r Reply) error
}

func text(s string) Reply { return Reply{Text: s} }
