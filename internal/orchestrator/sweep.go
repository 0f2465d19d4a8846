package orchestrator

import (
	"context"

	"likebot/internal/eventbus"
	"likebot/internal/metrics"
	logx "likebot/pkg/logx"
)

// ExpireFlows discards setups idle for longer than the flow timeout and
// tells their users. Flows waiting on a remote call are left alone.
func (o *Orchestrator) ExpireFlows(ctx context.Context) int {
	now := o.now()
	timeout := o.Settings().FlowTimeout

	var expired []*session
	for _, s := range o.reg.all() {
		s.mu.Lock()
		if f := s.currentFlow(); f != nil && !f.pending && now.Sub(f.touched) >= timeout {
			f.cancel()
			s.phase = idlePhase{}
			metrics.FlowsTotal.WithLabelValues(f.kind.String(), "expired").Inc()
			expired = append(expired, s)
		}
		s.mu.Unlock()
	}

	for _, s := range expired {
		o.log.Debug("flow expired", logx.Int64("session_id", s.id))
		o.publish(eventbus.FlowExpired, s.id)
		o.send(ctx, s.id, text("The setup timed out and was discarded. Start again when you are ready."))
	}
	return len(expired)
}

// RefreshSessionsGauge recounts sessions holding a login.
func (o *Orchestrator) RefreshSessionsGauge() {
	n := 0
	for _, s := range o.reg.all() {
		s.mu.Lock()
		if s.client != nil {
			n++
		}
		s.mu.Unlock()
	}
	metrics.SessionsAuthenticated.Set(float64(n))
}
