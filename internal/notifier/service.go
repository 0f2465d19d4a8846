package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "likebot/internal/runtime/supervisor"
	kit "likebot/internal/transport"
	logx "likebot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const sendTimeout = 10 * time.Second

// Sender is the part of the transport adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Service delivers notifications on a fixed set of lanes. A chat always
// maps to the same lane, so progress messages for one chat keep their order.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  Sender
	cfg     Config
	limiter *rate.Limiter

	lanes    []chan Notification // nil unless running
	sup      *rtsup.Supervisor
	draining chan struct{} // closed when a pending Stop finishes
	inflight sync.WaitGroup
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "notifier"))}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits in place. Lane count and size apply from the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	return cfg
}

// Start opens the lanes. It is a no-op when disabled or already running,
// and waits out a Stop that is still draining.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.draining != nil {
		wait := s.draining
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.lanes != nil || !s.cfg.Enabled {
		return
	}

	per := max(s.cfg.QueueSize/s.cfg.Workers, 1)
	s.lanes = make([]chan Notification, s.cfg.Workers)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	for i := range s.lanes {
		lane := make(chan Notification, per)
		s.lanes[i] = lane
		s.sup.Go0(fmt.Sprintf("notifier.lane.%d", i), func(c context.Context) { s.drain(c, lane) })
	}
	s.log.Debug("lanes open", logx.Int("lanes", len(s.lanes)), logx.Int("per_lane", per))
}

// Stop refuses new notifications and delivers what is queued. If ctx ends
// first the remaining sends are abandoned.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.lanes == nil {
		s.mu.Unlock()
		return
	}
	if s.draining != nil {
		wait := s.draining
		s.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.draining = done
	lanes, sup := s.lanes, s.sup
	s.mu.Unlock()

	go func() {
		s.inflight.Wait()
		for _, lane := range lanes {
			close(lane)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.lanes, s.sup, s.draining = nil, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues n on its chat's lane. It never blocks.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case s.lanes == nil || s.draining != nil:
		s.mu.Unlock()
		return ErrStopped
	}
	lane := s.lanes[laneFor(n.Target.ChatID, len(s.lanes))]
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	select {
	case lane <- n:
		return nil
	default:
		s.log.Warn("notification dropped", logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
		return ErrQueueFull
	}
}

func laneFor(chatID int64, lanes int) int {
	return int(uint64(chatID) % uint64(lanes))
}

func (s *Service) drain(ctx context.Context, lane <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-lane:
			if !ok {
				return
			}
			s.deliver(ctx, n)
		}
	}
}

func (s *Service) deliver(ctx context.Context, n Notification) {
	if s.sender == nil || n.Text == "" {
		return
	}
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	log := s.log.With(logx.String("channel", n.Channel), logx.Int64("chat_id", n.Target.ChatID))
	for attempt := 1; ; attempt++ {
		if lim.Wait(ctx) != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.sender.SendText(sendCtx, n.Target, n.Text, n.Options)
		cancel()
		if err == nil {
			return
		}
		if attempt > cfg.RetryMax {
			log.Warn("notification lost", logx.Int("attempts", attempt), logx.Err(err))
			return
		}
		log.Debug("send failed, retrying", logx.Int("attempt", attempt), logx.Err(err))

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// retryDelay doubles RetryBase per attempt, jitters by ±30% and caps at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d <<= 1
	}
	jittered := time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(jittered, cfg.RetryMaxDelay)
}
