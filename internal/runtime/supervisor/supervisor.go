// Package supervisor runs the process's long-lived goroutines (update
// polling, router workers, job engines, config watch) under one context.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "likebot/pkg/logx"
)

// Supervisor names each goroutine, turns panics into errors, records the
// first failure and can cancel everything on it.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool
	failure     atomic.Pointer[error]

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	started  atomic.Uint64
	active   atomic.Int64
	restarts atomic.Uint64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error or panic.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }
func (s *Supervisor) Cancel()                  { s.cancel() }

// Err is the first failure, or nil.
func (s *Supervisor) Err() error {
	if p := s.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Counters feed the /health report.
type Counters struct {
	Active   int64  `json:"active"`
	Started  uint64 `json:"started"`
	Restarts uint64 `json:"restarts"`
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load(), Restarts: s.restarts.Load()}
}

// Go runs fn on its own goroutine. Returning context.Canceled counts as a
// clean exit; any other error or a panic is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.log.Debug("goroutine up", logx.String("name", name))
		err := s.call(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine down", logx.String("name", name))
	}()
}

// Go0 is Go for loops that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

// call runs fn and converts a panic into an error carrying the stack.
func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			s.log.Error("goroutine panic", logx.String("name", name), logx.Any("panic", r), logx.String("stack", stack))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	first, ceiling time.Duration
	cleanExitStops bool
}

// healthyRun is how long fn must survive for the backoff to reset.
const healthyRun = 30 * time.Second

// WithRestartBackoff bounds the doubling delay between restarts.
func WithRestartBackoff(first, ceiling time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if first > 0 {
			p.first = first
		}
		if ceiling > 0 {
			p.ceiling = ceiling
		}
	}
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or is treated like a failure and restarted.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.cleanExitStops = enabled }
}

// GoRestart keeps fn running until the context ends, restarting it with
// backoff after errors and panics. Restarts never mark the supervisor failed.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{first: 250 * time.Millisecond, ceiling: 30 * time.Second, cleanExitStops: true}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceiling = max(p.ceiling, p.first)

	s.Go0(name, func(ctx context.Context) {
		delay := p.first
		for {
			began := time.Now()
			err := s.call(name, fn)
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.cleanExitStops {
					return
				}
				err = errors.New("returned")
			}
			if time.Since(began) >= healthyRun {
				delay = p.first
			}
			s.restarts.Add(1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("in", delay), logx.Err(err))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, p.ceiling)
		}
	})
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait returns Err once every goroutine has exited, or ctx.Err first.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.failure.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}
