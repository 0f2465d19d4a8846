// Package notifier delivers chat messages off the caller's goroutine.
//
// Each chat is pinned to one lane (a bounded queue plus one worker), so
// messages to the same chat go out in the order they were queued. All
// lanes share one token bucket. Failed sends are retried with jittered
// exponential backoff. Notify never blocks: a full lane returns ErrQueueFull.
package notifier
