package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"likebot/internal/remote"
)

// Mode is the target source of a job.
type Mode string

const (
	ModePostLikers Mode = "post-likers"
	ModeFollowing  Mode = "following"
)

// JobConfig is the accumulated answers of a job flow.
type JobConfig struct {
	Mode         Mode     `validate:"oneof=post-likers following"`
	Links        []string `validate:"required_if=Mode post-likers,dive,url"`
	FollowLimit  int      `validate:"gte=0"` // 0 = all
	PostsPerUser int      `validate:"gt=0"`
	Delay        Range
	Sleep        Range
}

// Job is the live record of one engine run. Counters are written only by the
// engine goroutine; the request path may only call Stop.
type Job struct {
	ID        string
	SessionID int64
	Mode      Mode
	Config    JobConfig
	Targets   []remote.User
	Started   time.Time

	processed    atomic.Int64
	likes        atomic.Int64
	alreadyLiked atomic.Int64
	errors       atomic.Int64
	last         atomic.Pointer[string]

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newJob(id string, sessionID int64, cfg JobConfig, targets []remote.User, now time.Time) *Job {
	j := &Job{
		ID:        id,
		SessionID: sessionID,
		Mode:      cfg.Mode,
		Config:    cfg,
		Targets:   targets,
		Started:   now,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	j.running.Store(true)
	j.setLast("starting")
	return j
}

// Stop flips the run flag. Only the first call has an effect; it reports
// whether this call stopped the job.
func (j *Job) Stop() bool {
	if !j.running.CompareAndSwap(true, false) {
		return false
	}
	j.stopOnce.Do(func() { close(j.stop) })
	return true
}

func (j *Job) Running() bool { return j.running.Load() }

// Done is closed after the engine has fully exited.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) setLast(s string) { j.last.Store(&s) }

func (j *Job) lastAction() string {
	if p := j.last.Load(); p != nil {
		return *p
	}
	return ""
}
