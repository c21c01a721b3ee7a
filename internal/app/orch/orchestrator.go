// Package orch coordinates the single presenter, its viewers and the shared
// media engine connection.
//
// All broadcast state lives in one struct guarded by one mutex. Engine calls
// are never made while holding it; instead every provisioning step re-checks
// that the presenter (and, for viewers, the viewer entry) it started with is
// still current, and aborts with cleanup otherwise.
package orch

import (
	"sync"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"golang.org/x/sync/singleflight"
)

type Orchestrator struct {
	Engine     core.MediaEngine
	Candidates *app.CandidateQueue
	Metrics    *app.Metrics

	mu    sync.Mutex
	state broadcast
	dial  singleflight.Group
}

func New(engine core.MediaEngine, metrics *app.Metrics) *Orchestrator {
	return &Orchestrator{
		Engine:     engine,
		Candidates: app.NewCandidateQueue(),
		Metrics:    metrics,
		state: broadcast{
			viewers: make(map[core.SessionID]*participant),
		},
	}
}

// participant is one negotiated side of the broadcast.
type participant struct {
	sid      core.SessionID
	role     domain.Role
	out      core.Outbox
	endpoint core.Endpoint
	ready    bool // queue drained, candidates go straight to endpoint
	active   bool
}

type presenter struct {
	participant
	pipeline core.Pipeline
}

type broadcast struct {
	presenter  *presenter
	viewers    map[core.SessionID]*participant
	conference domain.ConferenceID
	client     core.MediaClient
}

// currentPresenter is the only presence query. Caller holds o.mu.
func (o *Orchestrator) currentPresenter() (*presenter, bool) {
	p := o.state.presenter
	return p, p != nil
}

// participantOf finds sid in either role. Caller holds o.mu.
func (o *Orchestrator) participantOf(sid core.SessionID) (*participant, bool) {
	if p, ok := o.currentPresenter(); ok && p.sid == sid {
		return &p.participant, true
	}
	v, ok := o.state.viewers[sid]
	return v, ok
}

// registered reports whether part is still the live entry for its session.
// Caller holds o.mu.
func (o *Orchestrator) registered(part *participant) bool {
	cur, ok := o.participantOf(part.sid)
	return ok && cur == part
}

func (o *Orchestrator) syncMetricsLocked() {
	_, ok := o.currentPresenter()
	o.Metrics.SetParticipants(ok, len(o.state.viewers))
}

// Status is a read-only view for APIs.
type Status struct {
	PresenterActive bool                `json:"presenterActive"`
	Presenter       core.SessionID      `json:"presenter,omitempty"`
	Viewers         int                 `json:"viewers"`
	ConferenceID    domain.ConferenceID `json:"conferenceId,omitempty"`
	EngineConnected bool                `json:"engineConnected"`
}

func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		Viewers:         len(o.state.viewers),
		ConferenceID:    o.state.conference,
		EngineConnected: o.state.client != nil,
	}
	if p, ok := o.currentPresenter(); ok {
		st.PresenterActive = p.active
		st.Presenter = p.sid
	}
	return st
}

// RoleOf reports what sid is currently doing.
func (o *Orchestrator) RoleOf(sid core.SessionID) domain.Role {
	o.mu.Lock()
	defer o.mu.Unlock()
	if part, ok := o.participantOf(sid); ok {
		return part.role
	}
	return domain.RoleNone
}
