package orch

import (
	"context"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type step int

const (
	stepReserve step = iota
	stepConnect
	stepPipeline
	stepEndpoint
	stepDrain
	stepSubscribe
	stepNegotiate
	stepLink
	stepGather
	stepActive
)

var stepNames = [...]string{
	stepReserve:   "reserve",
	stepConnect:   "connect",
	stepPipeline:  "pipeline",
	stepEndpoint:  "endpoint",
	stepDrain:     "drain",
	stepSubscribe: "subscribe",
	stepNegotiate: "negotiate",
	stepLink:      "link",
	stepGather:    "gather",
	stepActive:    "active",
}

func (s step) String() string { return stepNames[s] }

// provisioning carries one SDP offer through endpoint creation together with
// the engine objects created on the way.
type provisioning struct {
	sid   core.SessionID
	role  domain.Role
	offer string
	// closed reports the end of the requesting connection.
	closed func() error

	owner    *presenter   // must still be current at every checkpoint
	self     *participant // the entry being provisioned
	pipeline core.Pipeline
	source   core.Endpoint // presenter endpoint feeding a viewer

	created  core.Pipeline // pipeline this flow owns until handed to state
	endpoint core.Endpoint
	attached bool // endpoint handed to state
	step     step
}

// Presenter makes sid the broadcaster and returns the SDP answer for offer.
func (o *Orchestrator) Presenter(ctx context.Context, sid core.SessionID, offer string, out core.Outbox) (string, error) {
	o.Candidates.Clear(sid)

	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		o.Metrics.ObserveProvision(domain.RolePresenter.String(), app.ResultRejected)
		return "", domain.ErrSessionClosed
	}
	if cur, ok := o.currentPresenter(); ok {
		o.mu.Unlock()
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("presenter", string(cur.sid)).Msg("presenter slot taken")
		o.Stop(ctx, sid)
		o.Metrics.ObserveProvision(domain.RolePresenter.String(), app.ResultRejected)
		return "", domain.ErrRoleConflict
	}
	p := &presenter{participant: participant{sid: sid, role: domain.RolePresenter, out: out}}
	o.state.presenter = p
	o.syncMetricsLocked()
	o.mu.Unlock()

	return o.provision(ctx, &provisioning{
		sid:    sid,
		role:   domain.RolePresenter,
		offer:  offer,
		closed: ctx.Err,
		owner:  p,
		self:   &p.participant,
	})
}

// Viewer attaches sid to the active presenter's stream and returns the SDP
// answer for offer. A second request from the same session replaces the
// first one.
func (o *Orchestrator) Viewer(ctx context.Context, sid core.SessionID, offer string, out core.Outbox) (string, error) {
	o.Candidates.Clear(sid)

	o.mu.Lock()
	if ctx.Err() != nil {
		o.mu.Unlock()
		o.Metrics.ObserveProvision(domain.RoleViewer.String(), app.ResultRejected)
		return "", domain.ErrSessionClosed
	}
	p, ok := o.currentPresenter()
	if ok && p.sid == sid {
		o.mu.Unlock()
		o.Metrics.ObserveProvision(domain.RoleViewer.String(), app.ResultRejected)
		return "", domain.ErrAlreadyPresenting
	}
	if !ok || !p.active {
		o.mu.Unlock()
		o.Stop(ctx, sid)
		o.Metrics.ObserveProvision(domain.RoleViewer.String(), app.ResultRejected)
		return "", domain.ErrNoPresenter
	}
	var replaced core.Endpoint
	if prev, ok := o.state.viewers[sid]; ok {
		replaced = prev.endpoint
	}
	v := &participant{sid: sid, role: domain.RoleViewer, out: out}
	o.state.viewers[sid] = v
	pipeline, source := p.pipeline, p.endpoint
	o.syncMetricsLocked()
	o.mu.Unlock()

	if replaced != nil {
		o.release(context.WithoutCancel(ctx), sid, "replaced endpoint", replaced.Release)
	}

	return o.provision(ctx, &provisioning{
		sid:      sid,
		role:     domain.RoleViewer,
		offer:    offer,
		closed:   ctx.Err,
		owner:    p,
		self:     v,
		pipeline: pipeline,
		source:   source,
	})
}

func (o *Orchestrator) provision(ctx context.Context, f *provisioning) (string, error) {
	logger := log.With().
		Str("module", "orch").
		Str("sid", string(f.sid)).
		Str("role", f.role.String()).
		Logger()

	answer, err := o.run(ctx, f)
	if err != nil {
		logger.Warn().Err(err).Str("step", f.step.String()).Msg("provisioning aborted")
		o.abort(ctx, f)
		o.Metrics.ObserveProvision(f.role.String(), app.ResultRejected)
		return "", err
	}
	logger.Info().Str("endpoint", f.endpoint.ID()).Msg("provisioned")
	o.Metrics.ObserveProvision(f.role.String(), app.ResultAccepted)
	return answer, nil
}

func (o *Orchestrator) run(ctx context.Context, f *provisioning) (string, error) {
	if f.role == domain.RolePresenter {
		f.step = stepConnect
		client, err := o.engineClient(ctx)
		if err != nil {
			return "", o.failed(f, "connect", err)
		}
		if err := o.checkpoint(f, nil); err != nil {
			return "", err
		}

		f.step = stepPipeline
		pipeline, err := client.CreatePipeline(ctx)
		if err != nil {
			return "", o.failed(f, "create pipeline", err)
		}
		f.created = pipeline
		if err := o.checkpoint(f, func() {
			f.owner.pipeline = pipeline
			f.created = nil
		}); err != nil {
			return "", err
		}
		f.pipeline = pipeline
	}

	f.step = stepEndpoint
	endpoint, err := f.pipeline.CreateEndpoint(ctx)
	if err != nil {
		return "", o.failed(f, "create endpoint", err)
	}
	f.endpoint = endpoint
	if err := o.checkpoint(f, func() {
		f.self.endpoint = endpoint
		f.attached = true
	}); err != nil {
		return "", err
	}

	f.step = stepDrain
	if err := o.drain(ctx, f); err != nil {
		return "", err
	}

	f.step = stepSubscribe
	if err := endpoint.OnICECandidate(ctx, o.localCandidates(f.self)); err != nil {
		return "", o.failed(f, "subscribe candidates", err)
	}
	if err := o.checkpoint(f, nil); err != nil {
		return "", err
	}

	f.step = stepNegotiate
	answer, err := endpoint.ProcessOffer(ctx, f.offer)
	if err != nil {
		return "", o.failed(f, "process offer", err)
	}
	if err := o.checkpoint(f, nil); err != nil {
		return "", err
	}

	if f.role == domain.RoleViewer {
		f.step = stepLink
		if err := f.source.Connect(ctx, endpoint); err != nil {
			return "", o.failed(f, "connect", err)
		}
		if err := o.checkpoint(f, nil); err != nil {
			return "", err
		}
	}

	f.step = stepGather
	if err := endpoint.GatherCandidates(ctx); err != nil {
		return "", o.failed(f, "gather candidates", err)
	}

	f.step = stepActive
	if err := o.checkpoint(f, func() { f.self.active = true }); err != nil {
		return "", err
	}
	return answer, nil
}

// current reports whether f may continue: it still owns its entry and the
// requesting connection is open. Caller holds o.mu.
func (o *Orchestrator) current(f *provisioning) bool {
	return o.owns(f) && f.closed() == nil
}

// owns reports whether the entry f provisions is still the registered one.
// Caller holds o.mu.
func (o *Orchestrator) owns(f *provisioning) bool {
	p, ok := o.currentPresenter()
	if !ok || p != f.owner {
		return false
	}
	if f.role == domain.RoleViewer {
		return o.state.viewers[f.sid] == f.self
	}
	return true
}

// invalidated explains why f may not continue. Caller holds o.mu.
func (o *Orchestrator) invalidated(f *provisioning) error {
	if p, ok := o.currentPresenter(); !ok || p != f.owner {
		return domain.ErrNoPresenter
	}
	if o.owns(f) {
		return domain.ErrSessionClosed
	}
	return domain.ErrSuperseded
}

// checkpoint re-validates f after a suspension point and, if it is still
// current, applies commit under the same lock.
func (o *Orchestrator) checkpoint(f *provisioning, commit func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(f) {
		return o.invalidated(f)
	}
	if commit != nil {
		commit()
	}
	return nil
}

// failed converts an engine failure. When f was invalidated meanwhile the
// invalidation wins: the engine error is most likely a consequence of it.
func (o *Orchestrator) failed(f *provisioning, op string, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.current(f) {
		return o.invalidated(f)
	}
	return domain.NewEngineError(op, err)
}

// drain forwards queued candidates until the queue stays empty, then lets
// new candidates bypass it.
func (o *Orchestrator) drain(ctx context.Context, f *provisioning) error {
	for {
		o.Candidates.DrainInto(ctx, f.sid, f.endpoint)

		o.mu.Lock()
		if !o.current(f) {
			err := o.invalidated(f)
			o.mu.Unlock()
			return err
		}
		if o.Candidates.Len(f.sid) == 0 {
			f.self.ready = true
			o.mu.Unlock()
			return nil
		}
		o.mu.Unlock()
	}
}

// localCandidates pushes engine-discovered candidates to the owner of part.
// Events for a torn-down participant are dropped.
func (o *Orchestrator) localCandidates(part *participant) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		o.mu.Lock()
		live := o.registered(part)
		o.mu.Unlock()
		if !live {
			log.Debug().Str("module", "orch").Str("sid", string(part.sid)).Msg("candidate for stopped session dropped")
			return
		}
		part.out.SendCandidate(c)
	}
}

// abort releases whatever f built. If f still owns its session entry the
// regular teardown runs, also when the connection is already gone; otherwise
// only the objects nobody else took over are freed.
func (o *Orchestrator) abort(ctx context.Context, f *provisioning) {
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	owned := o.owns(f)
	o.mu.Unlock()

	if owned {
		o.Stop(ctx, f.sid)
		return
	}
	if f.created != nil {
		o.release(ctx, f.sid, "orphan pipeline", f.created.Release)
	}
	if f.endpoint != nil && !f.attached {
		o.release(ctx, f.sid, "orphan endpoint", f.endpoint.Release)
	}
	o.reclaimIdle(ctx)
}

// engineClient returns the shared engine connection, dialing it on first use.
func (o *Orchestrator) engineClient(ctx context.Context) (core.MediaClient, error) {
	o.mu.Lock()
	if c := o.state.client; c != nil {
		o.mu.Unlock()
		return c, nil
	}
	o.mu.Unlock()

	v, err, _ := o.dial.Do("engine", func() (any, error) {
		o.mu.Lock()
		if c := o.state.client; c != nil {
			o.mu.Unlock()
			return c, nil
		}
		o.mu.Unlock()

		c, err := o.Engine.Connect(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "orch").Msg("media engine connect")
			return nil, err
		}
		o.mu.Lock()
		o.state.client = c
		o.mu.Unlock()
		if n, ok := c.(core.ClosedNotifier); ok {
			go o.watchClient(c, n.Done())
		}
		o.Metrics.EngineOpened()
		log.Info().Str("module", "orch").Msg("media engine connected")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(core.MediaClient), nil
}
