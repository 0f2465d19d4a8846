package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"likebot/internal/eventbus"
	"likebot/internal/remote"
)

const (
	link1 = "https://www.instagram.com/p/AAA/"
	link2 = "https://www.instagram.com/p/BBB/"
)

// seedLikers sets up two posts whose likers merge to u1, u3 after filtering.
func seedLikers(h *harness) {
	h.sess.posts[link1] = "p1"
	h.sess.posts[link2] = "p2"
	h.sess.likers["p1"] = []remote.User{user("u1", false), user("u2", true)}
	h.sess.likers["p2"] = []remote.User{user("u2", true), user("u3", false)}
	h.sess.items["u1"] = []remote.Item{{ID: "m1"}, {ID: "m1b"}}
	h.sess.items["u3"] = []remote.Item{{ID: "m3"}}
}

func runPostLikers(t *testing.T, h *harness, id int64, perUser string) {
	t.Helper()
	h.say(t, id, link1+"\n"+link2, perUser, "2,5", "5,15")
	h.wait(t, id)
}

func TestPostLikersEndToEnd(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()
	seedLikers(h)
	const id = 100
	h.login(t, id)

	runPostLikers(t, h, id, "1")

	liked := h.sess.likedIDs()
	if len(liked) != 2 || liked[0] != "m1" || liked[1] != "m3" {
		t.Fatalf("liked = %v, want [m1 m3]", liked)
	}
	rec := h.store.lastRun(t)
	if rec.Outcome != OutcomeCompleted || rec.Total != 2 || rec.Processed != 2 ||
		rec.Likes != 2 || rec.AlreadyLiked != 0 || rec.Errors != 0 {
		t.Fatalf("run = %+v", rec)
	}
	if rec.Mode != string(ModePostLikers) || rec.SessionID != id {
		t.Fatalf("run identity = %+v", rec)
	}

	sleeps := h.sleeper.durations()
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want one per like", sleeps)
	}
	for _, d := range sleeps {
		if d < 5*time.Second || d > 15*time.Second {
			t.Fatalf("sleep %v outside [5s,15s]", d)
		}
	}
	if h.sess.delayLo != 2*time.Second || h.sess.delayHi != 5*time.Second {
		t.Fatalf("delay range = %v..%v", h.sess.delayLo, h.sess.delayHi)
	}

	last := h.replier.last(id).Text
	for _, want := range []string{"Accounts processed: 2/2", "Liked: 2", "Already liked: 0", "Errors: 0"} {
		if !strings.Contains(last, want) {
			t.Fatalf("summary %q missing %q", last, want)
		}
	}
	if !h.replier.contains(id, "Started: 2 account(s)") {
		t.Fatalf("no start message")
	}

	st, _ := h.o.RequestStatus(id)
	if st.Phase != "idle" || st.Job != nil || !st.Authenticated {
		t.Fatalf("status after job = %+v", st)
	}

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if len(types) != 2 || types[0] != eventbus.JobStarted || types[1] != eventbus.JobFinished {
		t.Fatalf("events = %v", types)
	}
}

func TestAlreadyLikedIsNeverLiked(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	h.sess.items["u1"] = []remote.Item{{ID: "m1", AlreadyLiked: true}, {ID: "m1b"}}
	h.sess.items["u3"] = []remote.Item{{ID: "m3", AlreadyLiked: true}}
	const id = 101
	h.login(t, id)

	runPostLikers(t, h, id, "2")

	if liked := h.sess.likedIDs(); len(liked) != 1 || liked[0] != "m1b" {
		t.Fatalf("liked = %v, want [m1b]", liked)
	}
	rec := h.store.lastRun(t)
	if rec.Likes != 1 || rec.AlreadyLiked != 2 || rec.Processed != 2 {
		t.Fatalf("run = %+v", rec)
	}
}

func TestRateLimitRetriesInPlace(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	rl := remote.E(remote.RateLimited, "like", errors.New("please wait"))
	h.sess.likeErrs = []error{rl, rl}
	const id = 102
	h.login(t, id)

	runPostLikers(t, h, id, "1")

	if liked := h.sess.likedIDs(); len(liked) != 2 || liked[0] != "m1" {
		t.Fatalf("liked = %v", liked)
	}
	backoffs := 0
	for _, d := range h.sleeper.durations() {
		if d == 2*time.Minute {
			backoffs++
		}
	}
	if backoffs != 2 {
		t.Fatalf("backoff sleeps = %d, want 2 (%v)", backoffs, h.sleeper.durations())
	}
	if rec := h.store.lastRun(t); rec.Errors != 0 || rec.Likes != 2 || rec.Outcome != OutcomeCompleted {
		t.Fatalf("run = %+v", rec)
	}
	if !h.replier.contains(id, "rate limit") {
		t.Fatalf("no rate limit notice")
	}
}

func TestTargetErrorDoesNotAbort(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	h.sess.postErr["u1"] = remote.E(remote.NotFound, "medias", errors.New("user gone\ntrace"))
	const id = 103
	h.login(t, id)

	runPostLikers(t, h, id, "1")

	rec := h.store.lastRun(t)
	if rec.Outcome != OutcomeCompleted || rec.Errors != 1 || rec.Likes != 1 || rec.Processed != 2 {
		t.Fatalf("run = %+v", rec)
	}
}

func TestAuthLostClearsLogin(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	h.sess.postErr["u1"] = remote.E(remote.AuthRequired, "medias", errors.New("login_required"))
	const id = 104
	h.login(t, id)
	if !h.store.hasSession(id) {
		t.Fatalf("login not persisted")
	}

	runPostLikers(t, h, id, "1")

	rec := h.store.lastRun(t)
	if rec.Outcome != OutcomeAuthLost || rec.Processed != 1 || rec.LastError == "" {
		t.Fatalf("run = %+v", rec)
	}
	if h.store.hasSession(id) {
		t.Fatalf("stored login not cleared")
	}
	if st, _ := h.o.RequestStatus(id); st.Authenticated {
		t.Fatalf("still authenticated after auth loss")
	}
	if len(h.sess.likedIDs()) != 0 {
		t.Fatalf("liked after auth loss")
	}
	if !strings.Contains(h.replier.last(id).Text, "/login") {
		t.Fatalf("last reply = %q", h.replier.last(id).Text)
	}
}

func TestEnginePanicFailsJob(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	h.sess.panicOn = "u1"
	const id = 105
	h.login(t, id)

	runPostLikers(t, h, id, "1")

	if rec := h.store.lastRun(t); rec.Outcome != OutcomeFailed || !strings.Contains(rec.LastError, "boom") {
		t.Fatalf("run = %+v", rec)
	}
	if !strings.HasPrefix(h.replier.last(id).Text, "Job failed") {
		t.Fatalf("last reply = %q", h.replier.last(id).Text)
	}
	if st, _ := h.o.RequestStatus(id); st.Phase != "idle" {
		t.Fatalf("phase = %s", st.Phase)
	}
}

// blockFirstLike parks the engine inside the first Like until release is closed.
func blockFirstLike(h *harness) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.sess.onLike = func(string) {
		once.Do(func() {
			close(started)
			<-release
		})
	}
	return started, release
}

func TestRunningSessionRejectsAndStops(t *testing.T) {
	h := newHarness(t)
	h.sess.selfID = "me"
	h.sess.following = []remote.User{user("f1", false), user("f2", true), user("f3", false)}
	for _, u := range h.sess.following {
		h.sess.items[u.ID] = []remote.Item{{ID: "m-" + u.ID}}
	}
	started, release := blockFirstLike(h)
	const id = 106
	h.login(t, id)

	ctx := context.Background()
	if err := h.o.StartFlow(ctx, id, FlowFollowing); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.o.SubmitChoice(ctx, id, ChoiceAll); err != nil {
		t.Fatalf("all: %v", err)
	}
	h.say(t, id, "1", "0,0", "1,1")

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("engine never liked")
	}

	if err := h.o.SubmitText(ctx, id, link1); !errors.Is(err, ErrBusy) {
		t.Fatalf("text while running: %v", err)
	}
	if err := h.o.StartFlow(ctx, id, FlowPostLikers); !errors.Is(err, ErrBusy) {
		t.Fatalf("flow while running: %v", err)
	}
	if err := h.o.RequestLogout(ctx, id); !errors.Is(err, ErrBusy) {
		t.Fatalf("logout while running: %v", err)
	}
	st, _ := h.o.RequestStatus(id)
	if st.Phase != "running" || st.Job == nil || st.Job.Total != 3 || st.Job.Mode != ModeFollowing {
		t.Fatalf("status = %+v", st)
	}
	if n := h.o.ActiveJobs(); n != 1 {
		t.Fatalf("active jobs = %d", n)
	}

	if err := h.o.RequestCancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !h.replier.contains(id, "Stopping") {
		t.Fatalf("no stopping ack")
	}
	close(release)
	h.wait(t, id)

	rec := h.store.lastRun(t)
	if rec.Outcome != OutcomeCancelled || rec.Processed > int64(rec.Total) || rec.Processed != 1 {
		t.Fatalf("run = %+v", rec)
	}
	if got := h.replier.last(id).Text; got != "Job stopped." {
		t.Fatalf("last reply = %q", got)
	}
	if h.replier.contains(id, "Accounts processed") {
		t.Fatalf("summary sent for a stopped job")
	}
	if liked := h.sess.likedIDs(); len(liked) != 1 {
		t.Fatalf("liked = %v", liked)
	}
}

func TestStopOnShutdown(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	started, release := blockFirstLike(h)
	const id = 107
	h.login(t, id)
	h.say(t, id, link1+" "+link2, "1", "0,0", "1,1")
	<-started

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- h.o.Stop(ctx)
	}()
	waitJobStopped(t, h, id)
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec := h.store.lastRun(t); rec.Outcome != OutcomeCancelled {
		t.Fatalf("run = %+v", rec)
	}
	if got := h.replier.last(id).Text; got != "Job stopped." && !strings.Contains(got, "shutting down") {
		t.Fatalf("last reply = %q", got)
	}
}

func waitJobStopped(t *testing.T, h *harness, id int64) {
	t.Helper()
	s, ok := h.o.reg.get(id)
	if !ok {
		t.Fatalf("no session %d", id)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		j := s.currentJob()
		s.mu.Unlock()
		if j != nil && !j.Running() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job was not stopped")
}

func TestJobFlowNeedsLogin(t *testing.T) {
	h := newHarness(t)
	const id = 200
	if err := h.o.StartFlow(context.Background(), id, FlowPostLikers); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
	if err := h.o.SubmitText(context.Background(), id, link1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("link err = %v", err)
	}
	if !strings.Contains(h.replier.last(id).Text, "/login") {
		t.Fatalf("reply = %q", h.replier.last(id).Text)
	}
}

func TestStoredLoginIsRestored(t *testing.T) {
	h := newHarness(t)
	const id = 201
	_ = h.store.SaveSession(context.Background(), id, []byte(`{}`))
	if err := h.o.StartFlow(context.Background(), id, FlowFollowing); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st, _ := h.o.RequestStatus(id); !st.Authenticated || st.Stage != StageFollowCount {
		t.Fatalf("status = %+v", st)
	}
}

func TestRejectedStoredLoginIsDropped(t *testing.T) {
	h := newHarness(t)
	h.client.restoreErr = remote.E(remote.AuthRequired, "restore", errors.New("expired"))
	const id = 202
	_ = h.store.SaveSession(context.Background(), id, []byte(`{}`))
	if err := h.o.StartFlow(context.Background(), id, FlowFollowing); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v", err)
	}
	if h.store.hasSession(id) {
		t.Fatalf("expired login kept")
	}
}

func TestLoginTwoFactor(t *testing.T) {
	h := newHarness(t)
	h.client.twoFactor = true
	const id = 203
	ctx := context.Background()
	if err := h.o.StartFlow(ctx, id, FlowLogin); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.say(t, id, "alice", "pw")
	if st, _ := h.o.RequestStatus(id); st.Stage != StageTwoFactor || st.Authenticated {
		t.Fatalf("status = %+v", st)
	}
	h.say(t, id, "12")
	if st, _ := h.o.RequestStatus(id); st.Stage != StageTwoFactor {
		t.Fatalf("short code advanced: %+v", st)
	}
	h.say(t, id, "123456")
	st, _ := h.o.RequestStatus(id)
	if !st.Authenticated || st.Phase != "idle" || st.Username != "alice" {
		t.Fatalf("status = %+v", st)
	}
	if h.client.logins != 2 || !h.store.hasSession(id) {
		t.Fatalf("logins = %d, stored = %v", h.client.logins, h.store.hasSession(id))
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	const id = 204
	_ = h.o.StartFlow(context.Background(), id, FlowLogin)
	h.say(t, id, "alice", "nope")
	st, _ := h.o.RequestStatus(id)
	if st.Authenticated || st.Phase != "idle" {
		t.Fatalf("status = %+v", st)
	}
	if !strings.Contains(h.replier.last(id).Text, "wrong username or password") {
		t.Fatalf("reply = %q", h.replier.last(id).Text)
	}
}

func TestBusyDuringConfiguration(t *testing.T) {
	h := newHarness(t)
	const id = 205
	ctx := context.Background()
	_ = h.o.StartFlow(ctx, id, FlowLogin)
	if err := h.o.StartFlow(ctx, id, FlowLogin); !errors.Is(err, ErrBusy) {
		t.Fatalf("second flow err = %v", err)
	}
	if !strings.Contains(h.replier.last(id).Text, "/cancel") {
		t.Fatalf("reply = %q", h.replier.last(id).Text)
	}
}

func TestCancelChoiceDiscardsFlow(t *testing.T) {
	h := newHarness(t)
	const id = 206
	h.login(t, id)
	ctx := context.Background()
	_ = h.o.StartFlow(ctx, id, FlowFollowing)
	if err := h.o.SubmitChoice(ctx, id, ChoiceCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if st, _ := h.o.RequestStatus(id); st.Phase != "idle" {
		t.Fatalf("phase = %s", st.Phase)
	}
	if got := h.replier.last(id).Text; got != "Cancelled." {
		t.Fatalf("reply = %q", got)
	}
	_ = h.o.SubmitChoice(ctx, id, ChoiceAll)
	if got := h.replier.last(id).Text; !strings.Contains(got, "no longer active") {
		t.Fatalf("stale button reply = %q", got)
	}
	_ = h.o.RequestCancel(ctx, id)
	if got := h.replier.last(id).Text; got != "Nothing is running." {
		t.Fatalf("idle cancel reply = %q", got)
	}
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(4)
	defer unsub()
	const id = 207
	h.login(t, id)
	if err := h.o.RequestLogout(context.Background(), id); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if st, _ := h.o.RequestStatus(id); st.Authenticated {
		t.Fatalf("still authenticated")
	}
	if h.store.hasSession(id) {
		t.Fatalf("stored login kept")
	}
	if e := <-events; e.Type != eventbus.SessionLogout {
		t.Fatalf("event = %+v", e)
	}
}

func TestFlowExpiry(t *testing.T) {
	h := newHarness(t)
	const idle, fresh = 300, 301
	ctx := context.Background()
	_ = h.o.StartFlow(ctx, idle, FlowLogin)
	h.clock.Advance(10 * time.Minute)
	_ = h.o.StartFlow(ctx, fresh, FlowLogin)
	h.clock.Advance(6 * time.Minute)

	if n := h.o.ExpireFlows(ctx); n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	if st, _ := h.o.RequestStatus(idle); st.Phase != "idle" {
		t.Fatalf("stale flow kept: %+v", st)
	}
	if st, _ := h.o.RequestStatus(fresh); st.Phase != "configuring" {
		t.Fatalf("fresh flow dropped: %+v", st)
	}
	if !h.replier.contains(idle, "timed out") {
		t.Fatalf("no expiry notice")
	}
}

func TestNoEligibleTargets(t *testing.T) {
	h := newHarness(t)
	h.sess.posts[link1] = "p1"
	h.sess.likers["p1"] = []remote.User{user("priv", true)}
	const id = 208
	h.login(t, id)
	h.say(t, id, link1, "1", "1,2", "1,2")
	if st, _ := h.o.RequestStatus(id); st.Phase != "idle" {
		t.Fatalf("phase = %s", st.Phase)
	}
	if !strings.Contains(h.replier.last(id).Text, "No eligible accounts") {
		t.Fatalf("reply = %q", h.replier.last(id).Text)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.runs) != 0 {
		t.Fatalf("runs = %+v", h.store.runs)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	started, release := blockFirstLike(h)
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()
	h.login(t, 1)
	h.say(t, 1, link1+" "+link2, "1", "0,0", "0,0")
	<-started

	// a second user configures while the first user's job is parked
	_ = h.store.SaveSession(context.Background(), 2, []byte(`{}`))
	if err := h.o.StartFlow(context.Background(), 2, FlowFollowing); err != nil {
		t.Fatalf("second session blocked: %v", err)
	}
	close(release)
	h.wait(t, 1)
	if rec := h.store.lastRun(t); rec.Outcome != OutcomeCompleted || rec.Likes != 2 {
		t.Fatalf("run = %+v", rec)
	}
}

func TestStartPostLikersSkipsLinkStage(t *testing.T) {
	h := newHarness(t)
	seedLikers(h)
	const id = 130
	h.login(t, id)

	if err := h.o.StartPostLikers(context.Background(), id, []string{link1}); err != nil {
		t.Fatalf("StartPostLikers: %v", err)
	}
	st, _ := h.o.RequestStatus(id)
	if st.Flow != FlowPostLikers || st.Stage != StageActionCount {
		t.Fatalf("status = %+v", st)
	}
	if !h.replier.contains(id, "Got 1 post link(s).") {
		t.Fatalf("no link acknowledgement")
	}
	h.say(t, id, "1", "2,5", "5,15")
	h.wait(t, id)
	if liked := h.sess.likedIDs(); len(liked) != 1 || liked[0] != "m1" {
		t.Fatalf("liked = %v, want [m1]", liked)
	}
}

func TestStopDuringLastTargetIsCancelled(t *testing.T) {
	h := newHarness(t)
	h.sess.posts[link1] = "p1"
	h.sess.likers["p1"] = []remote.User{user("u1", false)}
	h.sess.items["u1"] = []remote.Item{{ID: "m1"}, {ID: "m2"}}
	const id = 131
	h.login(t, id)
	h.sess.onLike = func(string) {
		_ = h.o.RequestCancel(context.Background(), id)
	}

	h.say(t, id, link1, "2", "0,0", "0,0")
	h.wait(t, id)

	rec := h.store.lastRun(t)
	if rec.Outcome != OutcomeCancelled || rec.Likes != 1 || rec.Processed != 1 {
		t.Fatalf("run = %+v", rec)
	}
	if got := h.replier.last(id).Text; got != "Job stopped." {
		t.Fatalf("last reply = %q", got)
	}
	if h.replier.contains(id, "Accounts processed") {
		t.Fatalf("summary sent for a stopped job")
	}
}

func TestResolutionDoesNotBlockCancel(t *testing.T) {
	h := newHarness(t)
	h.sess.posts[link1] = "p1"
	h.sess.likersEntered = make(chan struct{})
	const id = 132
	h.login(t, id)
	h.say(t, id, link1, "1", "0,0")

	returned := make(chan error, 1)
	go func() { returned <- h.o.SubmitText(context.Background(), id, "0,0") }()
	select {
	case err := <-returned:
		if err != nil {
			t.Fatalf("last answer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("SubmitText waited for target resolution")
	}
	select {
	case <-h.sess.likersEntered:
	case <-time.After(5 * time.Second):
		t.Fatalf("resolution never started")
	}

	if st, _ := h.o.RequestStatus(id); st.Phase != "configuring" || st.Stage != StageFinished {
		t.Fatalf("status while resolving = %+v", st)
	}
	if err := h.o.SubmitText(context.Background(), id, "hello"); !errors.Is(err, ErrBusy) {
		t.Fatalf("text while resolving: %v", err)
	}
	if err := h.o.RequestCancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := h.replier.last(id).Text; got != "Cancelled." {
		t.Fatalf("cancel reply = %q", got)
	}
	h.wait(t, id)

	if st, _ := h.o.RequestStatus(id); st.Phase != "idle" {
		t.Fatalf("phase = %s", st.Phase)
	}
	if got := h.replier.last(id).Text; got != "Cancelled." {
		t.Fatalf("reply after aborted resolution = %q", got)
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if len(h.store.runs) != 0 {
		t.Fatalf("runs = %+v", h.store.runs)
	}
}

func TestFailedReloginDropsOldLogin(t *testing.T) {
	h := newHarness(t)
	const id = 133
	h.login(t, id)
	if !h.store.hasSession(id) {
		t.Fatalf("login not persisted")
	}

	_ = h.o.StartFlow(context.Background(), id, FlowLogin)
	h.say(t, id, "alice", "wrong")

	if st, _ := h.o.RequestStatus(id); st.Authenticated {
		t.Fatalf("old login kept after a rejected one: %+v", st)
	}
	if h.store.hasSession(id) {
		t.Fatalf("stored login kept after a rejected one")
	}
}

func TestSummaryIsQueuedAfterProgress(t *testing.T) {
	h := newHarness(t)
	h.o.Apply(Settings{RateLimitBackoff: 2 * time.Minute, FlowTimeout: 15 * time.Minute, ProgressMessages: true})
	seedLikers(h)
	const id = 134
	h.login(t, id)

	runPostLikers(t, h, id, "1")

	last := h.replier.last(id)
	if !strings.HasPrefix(last.Text, "Done in") || !last.Async {
		t.Fatalf("summary = %+v, want an async reply", last)
	}
	if !h.replier.contains(id, "Liked a post of @user_u3") {
		t.Fatalf("no progress message")
	}
}

func TestTooManyLinksRejectedFromIdle(t *testing.T) {
	h := newHarness(t)
	h.o.Apply(Settings{MaxLinks: 1})
	const id = 135
	h.login(t, id)

	if err := h.o.SubmitText(context.Background(), id, link1+" "+link2); err != nil {
		t.Fatalf("SubmitText: %v", err)
	}
	if st, _ := h.o.RequestStatus(id); st.Phase != "idle" {
		t.Fatalf("flow started with too many links: %+v", st)
	}
	if got := h.replier.last(id).Text; !strings.Contains(got, "Too many links (2); send at most 1") {
		t.Fatalf("reply = %q", got)
	}
}
