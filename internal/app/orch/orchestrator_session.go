package orch

import (
	"context"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Stop tears sid down. A presenter takes every viewer and the conference
// with it; a viewer only releases its own endpoint. When nobody is left the
// engine connection is closed. Stopping an unknown session is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, sid core.SessionID) {
	ctx = context.WithoutCancel(ctx)

	var (
		role     = domain.RoleNone
		notify   []core.Outbox
		pipeline core.Pipeline
		endpoint core.Endpoint
	)

	o.mu.Lock()
	if p, ok := o.currentPresenter(); ok && p.sid == sid {
		role = domain.RolePresenter
		for vsid, v := range o.state.viewers {
			notify = append(notify, v.out)
			o.Candidates.Clear(vsid)
		}
		pipeline = p.pipeline
		o.state.presenter = nil
		o.state.viewers = make(map[core.SessionID]*participant)
		o.state.conference = ""
	} else if v, ok := o.state.viewers[sid]; ok {
		role = domain.RoleViewer
		endpoint = v.endpoint
		delete(o.state.viewers, sid)
	}
	o.Candidates.Clear(sid)
	client := o.takeIdleClient()
	o.syncMetricsLocked()
	o.mu.Unlock()

	if role != domain.RoleNone {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("role", role.String()).Int("viewers_notified", len(notify)).Msg("session stopped")
		o.Metrics.ObserveStop()
	}
	for _, out := range notify {
		out.SendStop()
	}
	if pipeline != nil {
		o.release(ctx, sid, "pipeline", pipeline.Release)
	}
	if endpoint != nil {
		o.release(ctx, sid, "endpoint", endpoint.Release)
	}
	if client != nil {
		o.closeClient(client)
	}
}

// OnIceCandidate applies a remote candidate, queueing it while sid has no
// ready endpoint.
func (o *Orchestrator) OnIceCandidate(ctx context.Context, sid core.SessionID, c webrtc.ICECandidateInit) {
	var ep core.Endpoint
	o.mu.Lock()
	if part, ok := o.participantOf(sid); ok && part.ready {
		ep = part.endpoint
	}
	queued := true
	if ep == nil {
		queued = o.Candidates.Enqueue(sid, c)
	}
	o.mu.Unlock()

	if ep == nil {
		if !queued {
			log.Debug().Str("module", "orch").Str("sid", string(sid)).Msg("candidate queue full, candidate dropped")
		}
		return
	}
	if err := ep.AddICECandidate(ctx, c); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("add ice candidate")
	}
}

// Close stops every participant; used on shutdown.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	sids := make([]core.SessionID, 0, len(o.state.viewers)+1)
	if p, ok := o.currentPresenter(); ok {
		sids = append(sids, p.sid)
	}
	for sid := range o.state.viewers {
		sids = append(sids, sid)
	}
	o.mu.Unlock()

	for _, sid := range sids {
		o.Stop(ctx, sid)
	}
	o.reclaimIdle(ctx)
}

func (o *Orchestrator) watchClient(c core.MediaClient, done <-chan struct{}) {
	<-done
	o.engineLost(c)
}

// engineLost tears the broadcast down when c dropped while still in use.
// Every participant, the presenter included, is told communication stopped.
func (o *Orchestrator) engineLost(c core.MediaClient) {
	var (
		presenter core.SessionID
		notify    []core.Outbox
		viewers   []core.SessionID
	)

	o.mu.Lock()
	if o.state.client != c {
		o.mu.Unlock()
		return
	}
	o.state.client = nil
	if p, ok := o.currentPresenter(); ok {
		presenter = p.sid
		notify = append(notify, p.out)
	} else {
		for sid, v := range o.state.viewers {
			viewers = append(viewers, sid)
			notify = append(notify, v.out)
		}
	}
	o.mu.Unlock()

	log.Error().Str("module", "orch").Str("presenter", string(presenter)).Int("viewers", len(viewers)).Msg("media engine connection lost")
	o.Metrics.EngineClosed()

	ctx := context.Background()
	for _, out := range notify {
		out.SendStop()
	}
	if presenter != "" {
		o.Stop(ctx, presenter)
	}
	for _, sid := range viewers {
		o.Stop(ctx, sid)
	}
	if err := c.Close(); err != nil {
		log.Debug().Err(err).Str("module", "orch").Msg("closing lost media engine connection")
	}
}

// takeIdleClient detaches the engine connection once no participant is
// left. Caller holds o.mu.
func (o *Orchestrator) takeIdleClient() core.MediaClient {
	if _, ok := o.currentPresenter(); ok || len(o.state.viewers) > 0 {
		return nil
	}
	c := o.state.client
	o.state.client = nil
	return c
}

func (o *Orchestrator) reclaimIdle(ctx context.Context) {
	o.mu.Lock()
	client := o.takeIdleClient()
	o.mu.Unlock()
	if client != nil {
		o.closeClient(client)
	}
}

func (o *Orchestrator) closeClient(c core.MediaClient) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("closing media engine connection")
	}
	o.Metrics.EngineClosed()
	log.Info().Str("module", "orch").Msg("media engine connection closed")
}

// release runs a best-effort engine release; failures are logged only.
func (o *Orchestrator) release(ctx context.Context, sid core.SessionID, what string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Str("object", what).Msg("release failed")
	}
}
