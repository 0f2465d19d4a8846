package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"likebot/internal/eventbus"
	"likebot/internal/remote"
	"likebot/internal/storage"
	logx "likebot/pkg/logx"
)

type fakeSession struct {
	mu sync.Mutex

	user      string
	selfID    string
	posts     map[string]string // link -> post id
	likers    map[string][]remote.User
	following []remote.User
	items     map[string][]remote.Item // user id -> items
	postErr   map[string]error         // user id -> RecentPosts error
	likeErrs  []error                  // returned by successive Like calls before succeeding
	onLike    func(itemID string)
	panicOn   string // user id whose RecentPosts panics
	// likersEntered, when set, is closed by PostLikers, which then blocks until ctx ends
	likersEntered chan struct{}

	liked            []string
	delayLo, delayHi time.Duration
}

func (f *fakeSession) Username() string { return f.user }

func (f *fakeSession) Self(ctx context.Context) (remote.User, error) {
	return remote.User{ID: f.selfID, Username: f.user}, nil
}

func (f *fakeSession) ResolvePost(ctx context.Context, link string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.posts[link]
	if !ok {
		return "", remote.E(remote.NotFound, "resolve", errors.New("no such post"))
	}
	return id, nil
}

func (f *fakeSession) PostLikers(ctx context.Context, postID string) ([]remote.User, error) {
	if f.likersEntered != nil {
		close(f.likersEntered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.User(nil), f.likers[postID]...), nil
}

func (f *fakeSession) Following(ctx context.Context, userID string, limit int) ([]remote.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]remote.User(nil), f.following...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSession) RecentPosts(ctx context.Context, userID string, count int) ([]remote.Item, error) {
	if userID == f.panicOn {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.postErr[userID]; err != nil {
		return nil, err
	}
	return append([]remote.Item(nil), f.items[userID]...), nil
}

func (f *fakeSession) Like(ctx context.Context, itemID string) error {
	f.mu.Lock()
	if len(f.likeErrs) > 0 {
		err := f.likeErrs[0]
		f.likeErrs = f.likeErrs[1:]
		f.mu.Unlock()
		return err
	}
	f.liked = append(f.liked, itemID)
	hook := f.onLike
	f.mu.Unlock()
	if hook != nil {
		hook(itemID)
	}
	return nil
}

func (f *fakeSession) SetDelayRange(lo, hi time.Duration) {
	f.mu.Lock()
	f.delayLo, f.delayHi = lo, hi
	f.mu.Unlock()
}

func (f *fakeSession) Export() ([]byte, error) {
	return json.Marshal(map[string]string{"user": f.user})
}

func (f *fakeSession) likedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.liked...)
}

type fakeClient struct {
	sess       *fakeSession
	twoFactor  bool
	logins     int
	restoreErr error
}

func (c *fakeClient) Login(ctx context.Context, username, password, code string) (remote.Session, error) {
	c.logins++
	if password != "pw" {
		return nil, remote.E(remote.InvalidCredentials, "login", errors.New("bad password"))
	}
	if c.twoFactor && code != "123456" {
		return nil, remote.E(remote.TwoFactorRequired, "login", errors.New("code needed"))
	}
	c.sess.user = username
	return c.sess, nil
}

func (c *fakeClient) Restore(ctx context.Context, blob []byte) (remote.Session, error) {
	if c.restoreErr != nil {
		return nil, c.restoreErr
	}
	return c.sess, nil
}

type memStore struct {
	mu       sync.Mutex
	sessions map[int64][]byte
	runs     []storage.RunRecord
}

func newMemStore() *memStore { return &memStore{sessions: map[int64][]byte{}} }

func (m *memStore) LoadSession(ctx context.Context, id int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return b, nil
}

func (m *memStore) SaveSession(ctx context.Context, id int64, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = blob
	return nil
}

func (m *memStore) ClearSession(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) AppendRun(ctx context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) lastRun(t *testing.T) storage.RunRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		t.Fatalf("no run recorded")
	}
	return m.runs[len(m.runs)-1]
}

func (m *memStore) hasSession(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

type memReplier struct {
	mu      sync.Mutex
	replies map[int64][]Reply
}

func (r *memReplier) Reply(ctx context.Context, id int64, rep Reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies == nil {
		r.replies = map[int64][]Reply{}
	}
	r.replies[id] = append(r.replies[id], rep)
	return nil
}

func (r *memReplier) last(id int64) Reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.replies[id]
	if len(rs) == 0 {
		return Reply{}
	}
	return rs[len(rs)-1]
}

func (r *memReplier) contains(id int64, sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.replies[id] {
		if strings.Contains(rep.Text, sub) {
			return true
		}
	}
	return false
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

// sleep returns immediately, honoring stop and ctx like the real one.
func (s *sleepRecorder) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	default:
		return true
	}
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	o       *Orchestrator
	client  *fakeClient
	sess    *fakeSession
	store   *memStore
	replier *memReplier
	sleeper *sleepRecorder
	clock   *fakeClock
	bus     eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sess: &fakeSession{
			selfID:  "self",
			posts:   map[string]string{},
			likers:  map[string][]remote.User{},
			items:   map[string][]remote.Item{},
			postErr: map[string]error{},
		},
		store:   newMemStore(),
		replier: &memReplier{},
		sleeper: &sleepRecorder{},
		clock:   &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		bus:     eventbus.New(),
	}
	h.client = &fakeClient{sess: h.sess}
	h.o = New(Options{
		Client:   h.client,
		Store:    h.store,
		Replier:  h.replier,
		Bus:      h.bus,
		Log:      logx.Nop(),
		Settings: Settings{RateLimitBackoff: 2 * time.Minute, FlowTimeout: 15 * time.Minute},
		Now:      h.clock.Now,
		Sleep:    h.sleeper.sleep,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.o.Start(ctx)
	t.Cleanup(func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = h.o.Stop(stopCtx)
		cancel()
	})
	return h
}

func (h *harness) say(t *testing.T, id int64, msgs ...string) {
	t.Helper()
	for _, m := range msgs {
		if err := h.o.SubmitText(context.Background(), id, m); err != nil {
			t.Fatalf("SubmitText(%q): %v", m, err)
		}
		h.settle(t, id)
	}
}

// settle waits for a login or target resolution started by the last answer.
func (h *harness) settle(t *testing.T, id int64) {
	t.Helper()
	s, ok := h.o.reg.get(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.o.settle(ctx, s); err != nil {
		t.Fatalf("settle: %v", err)
	}
}

func (h *harness) login(t *testing.T, id int64) {
	t.Helper()
	if err := h.o.StartFlow(context.Background(), id, FlowLogin); err != nil {
		t.Fatalf("start login: %v", err)
	}
	h.say(t, id, "alice", "pw")
	st, _ := h.o.RequestStatus(id)
	if !st.Authenticated {
		t.Fatalf("not authenticated after login; last reply %q", h.replier.last(id).Text)
	}
}

func (h *harness) wait(t *testing.T, id int64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.o.Wait(ctx, id); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func user(id string, private bool) remote.User {
	return remote.User{ID: id, Username: "user_" + id, Private: private}
}
