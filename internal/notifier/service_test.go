package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "likebot/internal/transport"
	logx "likebot/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails int
	sent  []string
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return kit.MessageRef{}, errors.New("flaky")
	}
	f.sent = append(f.sent, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestNotifyRetriesAndDrains(t *testing.T) {
	fs := &fakeSender{fails: 1}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	for _, txt := range []string{"a", "b"} {
		if err := s.Notify(ctx, Notification{Channel: "test", Target: kit.ChatTarget{ChatID: 1}, Text: txt}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	got := fs.texts()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("sent = %v", got)
	}
	if err := s.Notify(ctx, Notification{Text: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("notify after stop: err = %v", err)
	}
}

func TestNotifyDisabled(t *testing.T) {
	s := New(Config{Enabled: false}, &fakeSender{}, logx.Nop())
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryDelayCapped(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}

func TestSameChatKeepsOrderAcrossLanes(t *testing.T) {
	fs := &fakeSender{}
	s := New(Config{Enabled: true, Workers: 4, QueueSize: 64, RatePerSec: 1000}, fs, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	want := []string{"1/4", "2/4", "3/4", "4/4", "done"}
	for _, txt := range want {
		if err := s.Notify(ctx, Notification{Channel: "job", Target: kit.ChatTarget{ChatID: -1001234}, Text: txt}); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s.Stop(stopCtx)

	got := fs.texts()
	if len(got) != len(want) {
		t.Fatalf("sent = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent = %v, want %v", got, want)
		}
	}
}

func TestLaneForIsStable(t *testing.T) {
	for _, id := range []int64{1, 42, -1001234, 1 << 40} {
		a, b := laneFor(id, 3), laneFor(id, 3)
		if a != b || a < 0 || a >= 3 {
			t.Fatalf("laneFor(%d) = %d, %d", id, a, b)
		}
	}
}
