package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "likebot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply swaps the config. A timezone change restarts cron with every schedule re-registered.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		s.restartLocked()
	}
}

// Start begins triggering. Jobs run with contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.entries)))
}

// Stop halts triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Add registers a job, replacing any job with the same name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" || job == nil {
		return errors.New("scheduler: name and job are required")
	}
	spec, err := ParseSpec(schedule)
	if err != nil {
		return err
	}
	if !spec.IsInterval() {
		if _, err := s.parser.Parse(spec.Expr); err != nil {
			return fmt.Errorf("scheduler: bad cron %q: %w", spec.Expr, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.entries = append(s.entries, entry{name: name, spec: spec, timeout: timeout, job: job})
	if s.c != nil {
		if err := s.scheduleLocked(&s.entries[len(s.entries)-1]); err != nil {
			return err
		}
	}
	s.log.Debug("job added", logx.String("name", name), logx.String("spec", spec.Expr), logx.Duration("timeout", timeout))
	return nil
}

// Remove drops a schedule; it reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

// Schedules lists registered schedules with their next and previous run times.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := ScheduleInfo{Name: e.name, Spec: e.spec.Expr, Timeout: e.timeout}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) startLocked() {
	s.loc = s.locationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for i := range s.entries {
		if err := s.scheduleLocked(&s.entries[i]); err != nil {
			s.log.Error("job not scheduled", logx.String("name", s.entries[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	old := s.c
	s.startLocked()
	if old != nil {
		old.Stop()
	}
	s.log.Info("service restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) scheduleLocked(e *entry) error {
	run := s.wrap(*e)
	if e.spec.IsInterval() {
		sched, offset := newStaggered(e.spec.Every, time.Now().In(s.loc), e.name)
		e.id = s.c.Schedule(sched, run)
		s.log.Debug("interval job scheduled", logx.String("name", e.name), logx.Duration("every", e.spec.Every), logx.Duration("offset", offset))
		return nil
	}
	id, err := s.c.AddJob(e.spec.Expr, run)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) removeLocked(name string) bool {
	for i, e := range s.entries {
		if e.name != name {
			continue
		}
		if s.c != nil && e.id != 0 {
			s.c.Remove(e.id)
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		return true
	}
	return false
}

// wrap turns a def into a cron job bound to the service context and timeout.
func (s *Service) wrap(d entry) cron.Job {
	parent := s.ctx
	if parent == nil {
		parent = context.Background()
	}
	return cron.FuncJob(func() {
		if parent.Err() != nil {
			return
		}
		ctx, cancel := parent, context.CancelFunc(func() {})
		if d.timeout > 0 {
			ctx, cancel = context.WithTimeout(parent, d.timeout)
		}
		defer cancel()
		start := time.Now()
		if err := d.job(ctx); err != nil {
			s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Trace("scheduled job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	})
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's chain messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
