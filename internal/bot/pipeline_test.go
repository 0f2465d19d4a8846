package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"likebot/internal/orchestrator"
	"likebot/internal/remote"
	"likebot/internal/storage"
	kit "likebot/internal/transport"
	"likebot/internal/transport/telegram/router"
	logx "likebot/pkg/logx"
)

// slowRemote resolves any post but never finishes listing its likers.
type slowRemote struct{}

func (slowRemote) Login(context.Context, string, string, string) (remote.Session, error) {
	return nil, remote.E(remote.InvalidCredentials, "login", errors.New("not used"))
}

func (slowRemote) Restore(context.Context, []byte) (remote.Session, error) { return slowSession{}, nil }

type slowSession struct{}

func (slowSession) Username() string { return "alice" }

func (slowSession) Self(context.Context) (remote.User, error) {
	return remote.User{ID: "self", Username: "alice"}, nil
}

func (slowSession) ResolvePost(context.Context, string) (string, error) { return "p1", nil }

func (slowSession) PostLikers(ctx context.Context, _ string) ([]remote.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowSession) Following(context.Context, string, int) ([]remote.User, error) {
	return nil, nil
}

func (slowSession) RecentPosts(context.Context, string, int) ([]remote.Item, error) {
	return nil, nil
}

func (slowSession) Like(context.Context, string) error { return nil }

func (slowSession) SetDelayRange(time.Duration, time.Duration) {}

func (slowSession) Export() ([]byte, error) { return []byte(`{}`), nil }

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.out))
	for _, s := range f.out {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeSender) waitFor(t *testing.T, sub string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, txt := range f.texts() {
			if strings.Contains(txt, sub) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no reply containing %q; got %q", sub, f.texts())
}

func TestCancelWhileCollectingTargets(t *testing.T) {
	const owner = 42
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.SaveSession(ctx, owner, []byte(`{}`)); err != nil {
		t.Fatalf("seed login: %v", err)
	}

	ad := &fakeSender{}
	outbox := NewOutbox(ad, nil, logx.Nop())
	orch := orchestrator.New(orchestrator.Options{Client: slowRemote{}, Store: st, Replier: outbox, Log: logx.Nop()})
	orch.Start(ctx)
	t.Cleanup(func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = orch.Stop(stopCtx)
	})

	b := New(orch, outbox, logx.Nop())
	r := router.New(router.Options{Adapter: ad, Owners: []int64{owner}, Text: b.HandleText, PrivateText: true, Workers: 1})
	r.SetRegistry(ctx, b.Commands(), b.Callbacks())
	in := make(chan kit.Update)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, in)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	say := func(text string) {
		in <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: owner, FromID: owner, Text: text, IsPrivate: true}}
	}
	for _, text := range []string{"https://www.instagram.com/p/AAA/", "1", "0,0", "0,0"} {
		say(text)
	}
	ad.waitFor(t, "Collecting target accounts...")

	say("/status")
	ad.waitFor(t, "Setting up")
	say("/cancel")
	ad.waitFor(t, "Cancelled.")

	if got, _ := orch.RequestStatus(owner); got.Phase != "idle" {
		t.Fatalf("phase = %s", got.Phase)
	}
}
