// Package eventbus fans orchestrator lifecycle signals out to in-process
// listeners (systemd status, debug log).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	JobStarted    = "job.started"    // Data: job id
	JobFinished   = "job.finished"   // Data: the job record
	FlowExpired   = "flow.expired"   // Data: session id
	SessionLogout = "session.logout" // Data: session id
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// IsJob reports whether the event changes the number of running jobs.
func (e Event) IsJob() bool { return e.Type == JobStarted || e.Type == JobFinished }

// Bus never blocks the publisher. Each subscriber has its own buffer and
// events that do not fit are dropped and counted.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

const defaultBuffer = 8

func New() Bus {
	return &bus{subs: make(map[uint64]chan Event)}
}

type bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  atomic.Uint64
	dropped atomic.Uint64
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// hold the read lock while sending; unsubscribe closes under the write lock
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	b.mu.RUnlock()
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	id := b.nextID.Add(1)
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
