package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "likebot/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty uses the host zone
}

// Spec is a parsed schedule string: a cron expression ("*/5 * * * *",
// "@hourly", "@every 55m") or a bare duration ("1m") run as an interval.
type Spec struct {
	Expr  string
	Every time.Duration // zero for cron expressions
}

func (s Spec) IsInterval() bool { return s.Every > 0 }

func ParseSpec(raw string) (Spec, error) {
	expr := strings.TrimSpace(raw)
	switch {
	case expr == "":
		return Spec{}, fmt.Errorf("scheduler: empty schedule")
	case strings.HasPrefix(expr, "@") || strings.ContainsAny(expr, " \t"):
		return Spec{Expr: expr}, nil
	}
	every, err := time.ParseDuration(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("scheduler: %q is neither a cron expression nor a duration", raw)
	}
	if every <= 0 {
		return Spec{}, fmt.Errorf("scheduler: interval %q must be positive", raw)
	}
	return Spec{Expr: expr, Every: every}, nil
}

// maxStagger caps how far an interval's first run is pushed back.
const maxStagger = 30 * time.Second

// staggered runs every d but moves the first run by a per-name offset so
// housekeeping jobs added together (flow expiry, gauge refresh) do not
// land on the same tick.
type staggered struct {
	every cron.Schedule
	first time.Time
}

func (s *staggered) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

func newStaggered(every time.Duration, now time.Time, name string) (*staggered, time.Duration) {
	offset := staggerOffset(name, min(every, maxStagger))
	return &staggered{every: cron.Every(every), first: now.Add(every + offset)}, offset
}

// staggerOffset is whole seconds; cron.Every drops sub-second parts anyway.
func staggerOffset(name string, window time.Duration) time.Duration {
	secs := uint64(window / time.Second)
	if secs == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%secs) * time.Second
}

type entry struct {
	name    string
	spec    Spec
	timeout time.Duration
	job     func(ctx context.Context) error
	id      cron.EntryID
}

// Service owns one cron instance and the named jobs registered on it.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	ctx context.Context

	parser  cron.Parser
	c       *cron.Cron
	entries []entry
}

// ScheduleInfo is what /health reports per job.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}
