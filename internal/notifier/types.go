package notifier

import (
	"time"

	kit "likebot/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Notification is one outbound chat message.
type Notification struct {
	// Channel tags the message for logs ("progress", "summary").
	Channel string
	Target  kit.ChatTarget
	Text    string
	Options *kit.SendOptions
}
