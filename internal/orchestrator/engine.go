package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"likebot/internal/eventbus"
	"likebot/internal/metrics"
	"likebot/internal/remote"
	"likebot/internal/storage"
	logx "likebot/pkg/logx"
)

// Job outcomes, also used as metric labels and in the run log.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeAuthLost  = "auth_lost"
	OutcomeFailed    = "failed"
)

var errStopped = errors.New("job stopped")

// run is the engine loop for one job. Targets are processed strictly in
// order; the run flag is checked before each target and each item.
func (o *Orchestrator) run(ctx context.Context, s *session, client remote.Session, j *Job) {
	log := o.log.With(
		logx.String("job_id", j.ID),
		logx.Int64("session_id", j.SessionID),
		logx.String("mode", string(j.Mode)),
	)
	outcome := OutcomeCompleted
	var fatal error
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailed
			fatal = fmt.Errorf("internal error: %v", r)
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		o.finish(ctx, s, j, outcome, fatal, log)
	}()

	for _, t := range j.Targets {
		if !j.Running() || ctx.Err() != nil {
			outcome = OutcomeCancelled
			return
		}
		err := o.processTarget(ctx, client, j, t, log)
		j.processed.Add(1)
		switch {
		case err == nil:
		case errors.Is(err, errStopped) || ctx.Err() != nil:
			outcome = OutcomeCancelled
			return
		case remote.KindOf(err) == remote.AuthRequired:
			outcome, fatal = OutcomeAuthLost, err
			return
		default:
			j.errors.Add(1)
			metrics.TargetErrorsTotal.Inc()
			j.setLast(fmt.Sprintf("@%s: %s", t.Username, firstLine(err.Error())))
			log.Debug("target failed", logx.String("target", t.Username), logx.Err(err))
		}
	}
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	}
}

func (o *Orchestrator) processTarget(ctx context.Context, client remote.Session, j *Job, t remote.User, log logx.Logger) error {
	var items []remote.Item
	err := o.withBackoff(ctx, j, log, func() (err error) {
		items, err = client.RecentPosts(ctx, t.ID, j.Config.PostsPerUser)
		return err
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		j.setLast(fmt.Sprintf("@%s: no posts", t.Username))
		return nil
	}
	if len(items) > j.Config.PostsPerUser {
		items = items[:j.Config.PostsPerUser]
	}

	for _, it := range items {
		if !j.Running() {
			return errStopped
		}
		if it.AlreadyLiked {
			j.alreadyLiked.Add(1)
			metrics.AlreadyLikedTotal.Inc()
			j.setLast(fmt.Sprintf("@%s: already liked", t.Username))
			continue
		}
		if err := o.withBackoff(ctx, j, log, func() error { return client.Like(ctx, it.ID) }); err != nil {
			return err
		}
		j.likes.Add(1)
		metrics.LikesTotal.Inc()
		j.setLast(fmt.Sprintf("@%s: liked a post", t.Username))
		if o.Settings().ProgressMessages {
			o.sendAsync(ctx, j.SessionID, fmt.Sprintf("Liked a post of @%s (account %d/%d).",
				t.Username, j.processed.Load()+1, len(j.Targets)))
		}
		if !o.sleep(ctx, j.stop, drawSleep(j.Config.Sleep)) {
			return errStopped
		}
	}
	return nil
}

// withBackoff runs fn and, on a rate-limit error, waits the fixed backoff and
// retries the same call. Other errors are returned unchanged.
func (o *Orchestrator) withBackoff(ctx context.Context, j *Job, log logx.Logger, fn func() error) error {
	for {
		err := fn()
		if err == nil || remote.KindOf(err) != remote.RateLimited {
			return err
		}
		backoff := o.Settings().RateLimitBackoff
		metrics.RateLimitBackoffsTotal.Inc()
		j.setLast(fmt.Sprintf("rate limited, waiting %s", backoff))
		log.Warn("rate limited; backing off", logx.Duration("backoff", backoff), logx.Err(err))
		o.sendAsync(ctx, j.SessionID, fmt.Sprintf("Instagram rate limit hit. Waiting %s before retrying.", backoff))
		if !o.sleep(ctx, j.stop, backoff) {
			return errStopped
		}
	}
}

// finish tears the job down on every exit path. The done channel closes last.
func (o *Orchestrator) finish(ctx context.Context, s *session, j *Job, outcome string, fatal error, log logx.Logger) {
	defer close(j.done)
	j.running.Store(false)

	snap := Progress(j, o.now())

	// idle only after the run is recorded and reported
	defer func() {
		s.mu.Lock()
		if s.currentJob() == j {
			s.phase = idlePhase{}
		}
		if outcome == OutcomeAuthLost {
			s.client = nil
		}
		s.mu.Unlock()
		if outcome == OutcomeAuthLost {
			o.dropStoredLogin(j.SessionID)
		}
	}()

	metrics.JobsActive.Dec()
	metrics.JobsTotal.WithLabelValues(string(j.Mode), outcome).Inc()
	metrics.JobDuration.WithLabelValues(string(j.Mode)).Observe(snap.Elapsed.Seconds())

	rec := storage.RunRecord{
		JobID:        j.ID,
		SessionID:    j.SessionID,
		Mode:         string(j.Mode),
		Outcome:      outcome,
		Total:        snap.Total,
		Processed:    snap.Processed,
		Likes:        snap.Likes,
		AlreadyLiked: snap.AlreadyLiked,
		Errors:       snap.Errors,
		StartedAt:    j.Started,
		Took:         snap.Elapsed,
	}
	if fatal != nil {
		rec.LastError = firstLine(fatal.Error())
	}
	// ctx may already be cancelled on shutdown
	wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.AppendRun(wctx, rec); err != nil {
		log.Warn("append run failed", logx.Err(err))
	}
	o.publish(eventbus.JobFinished, rec)

	log.Info("job finished",
		logx.String("outcome", outcome),
		logx.Int64("processed", snap.Processed),
		logx.Int("total", snap.Total),
		logx.Int64("likes", snap.Likes),
		logx.Int64("already_liked", snap.AlreadyLiked),
		logx.Int64("errors", snap.Errors),
		logx.Duration("took", snap.Elapsed),
		logx.Err(fatal),
	)

	var msg string
	switch outcome {
	case OutcomeCompleted:
		msg = summaryText(snap)
	case OutcomeCancelled:
		if ctx.Err() != nil {
			msg = "Job interrupted because the bot is shutting down."
		} else {
			msg = "Job stopped."
		}
	case OutcomeAuthLost:
		msg = "Instagram ended your session, so the job was aborted. Send /login to sign in again."
	default:
		msg = "Job failed: " + rec.LastError + ". Send /login to sign in again if this keeps happening."
	}
	// queued behind the job's progress messages for the same chat; on
	// shutdown the queue may already be gone, so send directly
	r := text(msg)
	r.Async = ctx.Err() == nil
	o.send(wctx, j.SessionID, r)
}

func summaryText(s Snapshot) string {
	return fmt.Sprintf("Done in %s.\nAccounts processed: %d/%d\nLiked: %d\nAlready liked: %d\nErrors: %d",
		s.Elapsed.Round(time.Second), s.Processed, s.Total, s.Likes, s.AlreadyLiked, s.Errors)
}

func (o *Orchestrator) sendAsync(ctx context.Context, id int64, msg string) {
	r := text(msg)
	r.Async = true
	o.send(ctx, id, r)
}
