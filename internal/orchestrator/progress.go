package orchestrator

import (
	"time"
)

// Snapshot is a point-in-time view of a job. Counters may be slightly stale.
type Snapshot struct {
	JobID        string
	Mode         Mode
	Total        int
	Processed    int64
	Likes        int64
	AlreadyLiked int64
	Errors       int64
	LastAction   string

	Elapsed time.Duration
	Percent float64
	// ETA is meaningful only when ETAKnown is true (processed > 0).
	ETA      time.Duration
	ETAKnown bool
}

// Progress computes a Snapshot. It has no side effects.
func Progress(j *Job, now time.Time) Snapshot {
	s := Snapshot{
		JobID:        j.ID,
		Mode:         j.Mode,
		Total:        len(j.Targets),
		Processed:    j.processed.Load(),
		Likes:        j.likes.Load(),
		AlreadyLiked: j.alreadyLiked.Load(),
		Errors:       j.errors.Load(),
		LastAction:   j.lastAction(),
		Elapsed:      now.Sub(j.Started),
	}
	if s.Elapsed < 0 {
		s.Elapsed = 0
	}
	if s.Total > 0 {
		s.Percent = 100 * float64(s.Processed) / float64(s.Total)
	}
	if s.Processed > 0 {
		remaining := int64(s.Total) - s.Processed
		if remaining < 0 {
			remaining = 0
		}
		s.ETA = time.Duration(remaining * int64(s.Elapsed) / s.Processed)
		s.ETAKnown = true
	}
	return s
}
