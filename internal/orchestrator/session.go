package orchestrator

import (
	"sync"

	"likebot/internal/remote"
)

// phase is the lifecycle state of a session. Exactly one is held at a time,
// so a pending config and a running job can never coexist.
type phase interface{ phaseName() string }

type idlePhase struct{}

type configuringPhase struct{ flow *flow }

type runningPhase struct{ job *Job }

func (idlePhase) phaseName() string { return "idle" }
func (configuringPhase) phaseName() string { return "configuring" }
func (runningPhase) phaseName() string { return "running" }

type session struct {
	id int64

	mu     sync.Mutex
	client remote.Session // nil until logged in
	phase  phase
}

func newSession(id int64) *session {
	return &session{id: id, phase: idlePhase{}}
}

// currentFlow returns the flow if the session is configuring.
func (s *session) currentFlow() *flow {
	if c, ok := s.phase.(configuringPhase); ok {
		return c.flow
	}
	return nil
}

func (s *session) currentJob() *Job {
	if r, ok := s.phase.(runningPhase); ok {
		return r.job
	}
	return nil
}

// registry maps chat user ids to sessions.
type registry struct {
	mu       sync.Mutex
	sessions map[int64]*session
}

func newRegistry() *registry {
	return &registry{sessions: map[int64]*session{}}
}

func (r *registry) get(id int64) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *registry) getOrCreate(id int64) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id)
		r.sessions[id] = s
	}
	return s
}

func (r *registry) all() []*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
