// Package orchestrator owns per-user sessions: the configuration
// conversations, target resolution and the throttled like engine.
//
// All entry points are safe for concurrent use. Calls for different
// sessions never block each other; remote calls run without holding
// session locks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"likebot/internal/eventbus"
	"likebot/internal/metrics"
	"likebot/internal/remote"
	rtsup "likebot/internal/runtime/supervisor"
	"likebot/internal/storage"
	logx "likebot/pkg/logx"
)

var (
	ErrBusy             = errors.New("session busy")
	ErrNotAuthenticated = errors.New("not logged in")
	ErrNotStarted       = errors.New("orchestrator not started")
)

// SessionStore persists remote session blobs and finished runs.
type SessionStore interface {
	LoadSession(ctx context.Context, id int64) ([]byte, error)
	SaveSession(ctx context.Context, id int64, blob []byte) error
	ClearSession(ctx context.Context, id int64) error
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Settings are the reloadable knobs.
type Settings struct {
	RateLimitBackoff time.Duration
	FlowTimeout      time.Duration
	ProgressMessages bool
	MaxLinks         int
}

func (s Settings) withDefaults() Settings {
	if s.RateLimitBackoff <= 0 {
		s.RateLimitBackoff = 2 * time.Minute
	}
	if s.FlowTimeout <= 0 {
		s.FlowTimeout = 15 * time.Minute
	}
	if s.MaxLinks <= 0 {
		s.MaxLinks = 50
	}
	return s
}

// SleepFunc waits for d and reports false if ctx ended or stop closed first.
type SleepFunc func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool

type Options struct {
	Client   remote.Client
	Store    SessionStore
	Replier  Replier
	Bus      eventbus.Bus // optional
	Log      logx.Logger
	Settings Settings

	// Test hooks; zero values use the real clock, timers and uuids.
	Now   func() time.Time
	Sleep SleepFunc
	NewID func() string
}

type Orchestrator struct {
	client   remote.Client
	store    SessionStore
	replier  Replier
	bus      eventbus.Bus
	log      logx.Logger
	settings atomic.Pointer[Settings]

	now   func() time.Time
	sleep SleepFunc
	newID func() string

	reg      *registry
	validate *validator.Validate

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(opt Options) *Orchestrator {
	o := &Orchestrator{
		client:   opt.Client,
		store:    opt.Store,
		replier:  opt.Replier,
		bus:      opt.Bus,
		log:      opt.Log,
		now:      opt.Now,
		sleep:    opt.Sleep,
		newID:    opt.NewID,
		reg:      newRegistry(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	o.log = o.log.With(logx.String("comp", "orchestrator"))
	if o.now == nil {
		o.now = time.Now
	}
	if o.sleep == nil {
		o.sleep = sleepOrStop
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	o.Apply(opt.Settings)
	return o
}

// Apply swaps the reloadable settings. Running jobs see the change on their next backoff.
func (o *Orchestrator) Apply(s Settings) {
	s = s.withDefaults()
	o.settings.Store(&s)
}

func (o *Orchestrator) Settings() Settings { return *o.settings.Load() }

// Start enables job launches. Jobs run on a supervisor bound to ctx.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sup == nil {
		o.sup = rtsup.New(ctx, rtsup.WithLogger(o.log))
	}
}

// Stop interrupts every job and waits for the engines to exit or ctx to end.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	sup := o.sup
	o.sup = nil
	o.mu.Unlock()
	if sup == nil {
		return nil
	}
	for _, s := range o.reg.all() {
		s.mu.Lock()
		j := s.currentJob()
		s.mu.Unlock()
		if j != nil {
			j.Stop()
		}
	}
	return sup.Stop(ctx)
}

func (o *Orchestrator) supervisor() *rtsup.Supervisor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sup
}

func (o *Orchestrator) baseContext() context.Context {
	if sup := o.supervisor(); sup != nil {
		return sup.Context()
	}
	return context.Background()
}

// ActiveJobs returns the number of running jobs.
func (o *Orchestrator) ActiveJobs() int {
	n := 0
	for _, s := range o.reg.all() {
		s.mu.Lock()
		if s.currentJob() != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// StartFlow begins a conversation. It is rejected with ErrBusy while the
// session is configuring or running, and job flows need a login.
func (o *Orchestrator) StartFlow(ctx context.Context, id int64, kind FlowKind) error {
	return o.startFlow(ctx, o.reg.getOrCreate(id), kind, nil)
}

// StartPostLikers begins a post-likers flow with the links already collected.
func (o *Orchestrator) StartPostLikers(ctx context.Context, id int64, links []string) error {
	if len(links) == 0 {
		return o.StartFlow(ctx, id, FlowPostLikers)
	}
	return o.startFlow(ctx, o.reg.getOrCreate(id), FlowPostLikers, links)
}

func (o *Orchestrator) startFlow(ctx context.Context, s *session, kind FlowKind, links []string) error {
	if kind != FlowLogin && o.ensureClient(ctx, s) == nil {
		o.send(ctx, s.id, text("You are not logged in. Send /login first."))
		return ErrNotAuthenticated
	}

	if limit := o.Settings().MaxLinks; len(links) > limit {
		o.send(ctx, s.id, text(fmt.Sprintf("Too many links (%d); send at most %d.", len(links), limit)))
		return nil
	}

	s.mu.Lock()
	if _, idle := s.phase.(idlePhase); !idle {
		name := s.phase.phaseName()
		s.mu.Unlock()
		o.send(ctx, s.id, busyReply(name))
		return ErrBusy
	}
	f := newFlow(o.baseContext(), kind, o.now())
	if len(links) > 0 && kind == FlowPostLikers {
		f.cfg.Links = links
		f.advance()
	}
	s.phase = configuringPhase{flow: f}
	r := f.prompt()
	s.mu.Unlock()

	o.log.Debug("flow started", logx.Int64("session_id", s.id), logx.String("flow", kind.String()))
	if len(links) > 0 {
		r.Text = fmt.Sprintf("Got %d post link(s).\n%s", len(links), r.Text)
	}
	o.send(ctx, s.id, r)
	return nil
}

func busyReply(phase string) Reply {
	if phase == "running" {
		return text("A job is running. Use /status to follow it or /stop to stop it.")
	}
	return text("Finish or /cancel the current setup first.")
}

// SubmitText feeds free text to the session's current flow. While idle, a
// message with post links starts a post-likers flow with the links filled in.
func (o *Orchestrator) SubmitText(ctx context.Context, id int64, input string) error {
	s := o.reg.getOrCreate(id)

	s.mu.Lock()
	switch p := s.phase.(type) {
	case idlePhase:
		s.mu.Unlock()
		if links := ExtractLinks(input); len(links) > 0 {
			return o.startFlow(ctx, s, FlowPostLikers, links)
		}
		o.send(ctx, id, text("Send a post link, /likepost, /likefollowing or /help."))
		return nil

	case runningPhase:
		s.mu.Unlock()
		o.send(ctx, id, busyReply("running"))
		return ErrBusy

	case configuringPhase:
		f := p.flow
		if f.pending {
			s.mu.Unlock()
			o.send(ctx, id, text("Still working on your last answer, please wait."))
			return ErrBusy
		}
		if err := f.accept(input, o.Settings().MaxLinks); err != nil {
			r := f.prompt()
			s.mu.Unlock()
			r.Text = "That didn't work: " + err.Error() + ".\n" + r.Text
			o.send(ctx, id, r)
			return nil
		}
		f.touched = o.now()
		if f.stage != StageFinished {
			r := f.prompt()
			s.mu.Unlock()
			o.send(ctx, id, r)
			return nil
		}
		f.pending = true
		f.settled = make(chan struct{})
		s.mu.Unlock()
		return o.complete(s, f)

	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown phase %T", p)
	}
}

// complete runs the remote step of a finished flow (login, or target
// resolution and job start) on the supervisor. The caller returns at once,
// so the session's own /cancel and /status are served while it runs.
func (o *Orchestrator) complete(s *session, f *flow) error {
	sup := o.supervisor()
	if sup == nil {
		o.abortFlow(s.id, "aborted")
		close(f.settled)
		return ErrNotStarted
	}
	step, run := "resolve", o.launch
	if f.kind == FlowLogin {
		step, run = "login", o.finishLogin
	}
	sup.Go(fmt.Sprintf("%s.%d", step, s.id), func(ctx context.Context) error {
		defer close(f.settled)
		if errors.Is(run(ctx, s, f), ErrNotStarted) {
			o.send(ctx, s.id, text("The bot is shutting down. Try again in a moment."))
		}
		return nil
	})
	return nil
}

// settle waits for an in-flight login or resolution of the session's flow.
func (o *Orchestrator) settle(ctx context.Context, s *session) error {
	s.mu.Lock()
	var settled chan struct{}
	if f := s.currentFlow(); f != nil && f.pending {
		settled = f.settled
	}
	s.mu.Unlock()
	if settled == nil {
		return nil
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitChoice handles an inline button press.
func (o *Orchestrator) SubmitChoice(ctx context.Context, id int64, token string) error {
	switch token {
	case ChoiceCancel:
		if !o.abortFlow(id, "aborted") {
			o.send(ctx, id, text("Nothing to cancel."))
			return nil
		}
		o.send(ctx, id, text("Cancelled."))
		return nil
	case ChoiceAll:
		s := o.reg.getOrCreate(id)
		s.mu.Lock()
		f := s.currentFlow()
		ok := f != nil && f.stage == StageFollowCount && !f.pending
		s.mu.Unlock()
		if ok {
			return o.SubmitText(ctx, id, "0")
		}
	}
	o.send(ctx, id, text("That button is no longer active."))
	return nil
}

// abortFlow discards a pending flow. It reports whether there was one.
func (o *Orchestrator) abortFlow(id int64, outcome string) bool {
	s, ok := o.reg.get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	f := s.currentFlow()
	if f != nil {
		f.cancel()
		s.phase = idlePhase{}
	}
	s.mu.Unlock()
	if f == nil {
		return false
	}
	metrics.FlowsTotal.WithLabelValues(f.kind.String(), outcome).Inc()
	o.log.Debug("flow ended", logx.Int64("session_id", id), logx.String("flow", f.kind.String()), logx.String("outcome", outcome))
	return true
}

// RequestCancel aborts a pending setup or asks the running job to stop.
// A job stops after its in-flight action.
func (o *Orchestrator) RequestCancel(ctx context.Context, id int64) error {
	if o.abortFlow(id, "aborted") {
		o.send(ctx, id, text("Cancelled."))
		return nil
	}
	var j *Job
	if s, ok := o.reg.get(id); ok {
		s.mu.Lock()
		j = s.currentJob()
		s.mu.Unlock()
	}
	switch {
	case j == nil:
		o.send(ctx, id, text("Nothing is running."))
	case j.Stop():
		o.send(ctx, id, text("Stopping after the current account..."))
	default:
		o.send(ctx, id, text("Already stopping."))
	}
	return nil
}

// StatusSnapshot describes a session for /status.
type StatusSnapshot struct {
	Phase         string
	Authenticated bool
	Username      string
	Flow          FlowKind
	Stage         Stage
	Job           *Snapshot
}

// RequestStatus reports the session state; false if the session was never seen.
func (o *Orchestrator) RequestStatus(id int64) (StatusSnapshot, bool) {
	s, ok := o.reg.get(id)
	if !ok {
		return StatusSnapshot{Phase: idlePhase{}.phaseName()}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := StatusSnapshot{Phase: s.phase.phaseName(), Authenticated: s.client != nil}
	if s.client != nil {
		st.Username = s.client.Username()
	}
	if f := s.currentFlow(); f != nil {
		st.Flow, st.Stage = f.kind, f.stage
	}
	if j := s.currentJob(); j != nil {
		snap := Progress(j, o.now())
		st.Job = &snap
	}
	return st, true
}

// RequestLogout drops the remote login. Refused while a job runs; a pending setup is discarded.
func (o *Orchestrator) RequestLogout(ctx context.Context, id int64) error {
	s := o.reg.getOrCreate(id)
	s.mu.Lock()
	if _, running := s.phase.(runningPhase); running {
		s.mu.Unlock()
		o.send(ctx, id, text("A job is running. /stop it before logging out."))
		return ErrBusy
	}
	s.mu.Unlock()
	o.abortFlow(id, "aborted")

	s.mu.Lock()
	s.client = nil
	s.mu.Unlock()

	if err := o.store.ClearSession(ctx, id); err != nil {
		o.log.Warn("clear session failed", logx.Int64("session_id", id), logx.Err(err))
	}
	o.RefreshSessionsGauge()
	o.publish(eventbus.SessionLogout, id)
	o.send(ctx, id, text("Logged out. Send /login to sign in again."))
	return nil
}

// Wait blocks until the session's pending login or resolution has settled
// and the job it started (if any) has exited.
func (o *Orchestrator) Wait(ctx context.Context, id int64) error {
	s, ok := o.reg.get(id)
	if !ok {
		return nil
	}
	if err := o.settle(ctx, s); err != nil {
		return err
	}
	s.mu.Lock()
	j := s.currentJob()
	s.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureClient returns the session's login, restoring a stored one if needed.
func (o *Orchestrator) ensureClient(ctx context.Context, s *session) remote.Session {
	s.mu.Lock()
	c := s.client
	s.mu.Unlock()
	if c != nil {
		return c
	}

	blob, err := o.store.LoadSession(ctx, s.id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.log.Warn("load session failed", logx.Int64("session_id", s.id), logx.Err(err))
		}
		return nil
	}
	restored, err := o.client.Restore(ctx, blob)
	if err != nil {
		o.log.Info("stored session rejected", logx.Int64("session_id", s.id), logx.Err(err))
		if remote.KindOf(err) == remote.AuthRequired {
			_ = o.store.ClearSession(ctx, s.id)
		}
		return nil
	}

	s.mu.Lock()
	if s.client == nil {
		s.client = restored
	}
	c = s.client
	s.mu.Unlock()
	o.RefreshSessionsGauge()
	return c
}

func (o *Orchestrator) finishLogin(ctx context.Context, s *session, f *flow) error {
	sess, err := o.client.Login(f.ctx, f.username, f.password, f.code)

	s.mu.Lock()
	if s.currentFlow() != f {
		// cancelled or expired while the call was in flight
		s.mu.Unlock()
		return nil
	}
	if err != nil && remote.KindOf(err) == remote.TwoFactorRequired && f.code == "" {
		f.stage = StageTwoFactor
		f.pending = false
		f.touched = o.now()
		r := f.prompt()
		s.mu.Unlock()
		o.send(ctx, s.id, r)
		return nil
	}
	f.cancel()
	s.phase = idlePhase{}
	rejected := err != nil && isAuthError(err)
	switch {
	case err == nil:
		s.client = sess
	case rejected:
		// a refused login also ends the one made before it
		s.client = nil
	}
	s.mu.Unlock()

	if err != nil {
		if rejected {
			o.dropStoredLogin(s.id)
		}
		metrics.FlowsTotal.WithLabelValues(FlowLogin.String(), "failed").Inc()
		o.log.Info("login failed", logx.Int64("session_id", s.id), logx.String("kind", remote.KindOf(err).String()), logx.Err(err))
		o.send(ctx, s.id, text(loginFailureText(err)))
		return nil
	}

	metrics.FlowsTotal.WithLabelValues(FlowLogin.String(), "completed").Inc()
	if blob, err := sess.Export(); err != nil {
		o.log.Warn("export session failed", logx.Int64("session_id", s.id), logx.Err(err))
	} else if err := o.store.SaveSession(ctx, s.id, blob); err != nil {
		o.log.Warn("save session failed", logx.Int64("session_id", s.id), logx.Err(err))
	}
	o.RefreshSessionsGauge()
	o.log.Info("logged in", logx.Int64("session_id", s.id), logx.String("username", sess.Username()))
	o.send(ctx, s.id, text(fmt.Sprintf("Logged in as @%s. Send a post link, /likepost or /likefollowing.", sess.Username())))
	return nil
}

func isAuthError(err error) bool {
	switch remote.KindOf(err) {
	case remote.InvalidCredentials, remote.TwoFactorRequired, remote.AuthRequired:
		return true
	}
	return false
}

func loginFailureText(err error) string {
	switch remote.KindOf(err) {
	case remote.InvalidCredentials:
		return "Login failed: wrong username or password. Send /login to try again."
	case remote.TwoFactorRequired:
		return "The verification code was rejected. Send /login to try again."
	case remote.RateLimited:
		return "Instagram asks to wait a few minutes. Send /login again later."
	default:
		return "Login failed: " + firstLine(err.Error()) + ". Send /login to try again."
	}
}

// launch resolves targets for a finished job flow and starts the engine.
func (o *Orchestrator) launch(ctx context.Context, s *session, f *flow) error {
	cfg := f.cfg
	fail := func(msg string, clearLogin bool) error {
		s.mu.Lock()
		if s.currentFlow() == f {
			s.phase = idlePhase{}
		}
		if clearLogin {
			s.client = nil
		}
		s.mu.Unlock()
		f.cancel()
		if clearLogin {
			o.dropStoredLogin(s.id)
		}
		metrics.FlowsTotal.WithLabelValues(f.kind.String(), "failed").Inc()
		o.send(ctx, s.id, text(msg))
		return nil
	}

	if err := o.validate.Struct(cfg); err != nil {
		return fail("The job settings are invalid: "+firstLine(err.Error())+".", false)
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fail("You are not logged in. Send /login first.", false)
	}

	o.send(ctx, s.id, text("Collecting target accounts..."))
	targets, err := Resolve(f.ctx, client, cfg)

	s.mu.Lock()
	if s.currentFlow() != f {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err != nil {
		o.log.Info("target resolution failed", logx.Int64("session_id", s.id), logx.String("mode", string(cfg.Mode)), logx.Err(err))
		if remote.KindOf(err) == remote.AuthRequired {
			return fail("Instagram ended your session. Send /login to sign in again.", true)
		}
		return fail("Could not collect targets: "+firstLine(err.Error())+".", false)
	}

	sup := o.supervisor()
	s.mu.Lock()
	if s.currentFlow() != f {
		s.mu.Unlock()
		return nil
	}
	if len(targets) == 0 || sup == nil {
		s.phase = idlePhase{}
		s.mu.Unlock()
		f.cancel()
		if sup == nil {
			return ErrNotStarted
		}
		metrics.FlowsTotal.WithLabelValues(f.kind.String(), "completed").Inc()
		o.send(ctx, s.id, text("No eligible accounts found. Nothing to do."))
		return nil
	}
	j := newJob(o.newID(), s.id, cfg, targets, o.now())
	s.phase = runningPhase{job: j}
	s.mu.Unlock()
	f.cancel()

	metrics.FlowsTotal.WithLabelValues(f.kind.String(), "completed").Inc()
	metrics.JobsActive.Inc()
	client.SetDelayRange(seconds(cfg.Delay.Lo), seconds(cfg.Delay.Hi))
	o.publish(eventbus.JobStarted, j.ID)
	o.log.Info("job started",
		logx.String("job_id", j.ID),
		logx.Int64("session_id", s.id),
		logx.String("mode", string(cfg.Mode)),
		logx.Int("targets", len(targets)),
		logx.Int("posts_per_user", cfg.PostsPerUser),
	)
	o.send(ctx, s.id, text(fmt.Sprintf(
		"Started: %d account(s), up to %d post(s) each. Use /status for progress and /stop to stop.",
		len(targets), cfg.PostsPerUser)))

	sup.Go("job."+j.ID, func(ctx context.Context) error {
		o.run(ctx, s, client, j)
		return nil
	})
	return nil
}

func (o *Orchestrator) dropStoredLogin(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.ClearSession(ctx, id); err != nil {
		o.log.Warn("clear session failed", logx.Int64("session_id", id), logx.Err(err))
	}
	o.RefreshSessionsGauge()
}

func (o *Orchestrator) send(ctx context.Context, id int64, r Reply) {
	if o.replier == nil {
		return
	}
	if err := o.replier.Reply(ctx, id, r); err != nil {
		o.log.Debug("reply failed", logx.Int64("session_id", id), logx.Err(err))
	}
}

func (o *Orchestrator) publish(typ string, data any) {
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{Type: typ, Time: o.now(), Data: data})
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// drawSleep picks a uniform whole-second duration from r.
func drawSleep(r Range) time.Duration {
	if r.Hi <= r.Lo {
		return seconds(r.Lo)
	}
	return seconds(r.Lo + rand.IntN(r.Hi-r.Lo+1))
}

func sleepOrStop(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
