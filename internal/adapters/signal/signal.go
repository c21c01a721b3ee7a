package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendQueue  int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 32
	}
	return o
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *RateLimiter
	Metrics  *app.Metrics
	Opts     Options
}

func NewSignalWSController(o *orch.Orchestrator, reg *app.Registry, policy app.Policy, limiter *RateLimiter, metrics *app.Metrics, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:     o,
		Registry: reg,
		Policy:   policy,
		Limiter:  limiter,
		Metrics:  metrics,
		Opts:     opts.withDefaults(),
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*wsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn, queue int) *wsSignalConn {
	return &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, queue),
	}
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// session is the per-connection state handed to handlers.
type session struct {
	sid  core.SessionID
	conn *wsSignalConn
}

// sessionOutbox delivers orchestrator pushes to one connection.
type sessionOutbox struct {
	ctl *SignalWSController
	s   *session
}

var _ core.Outbox = sessionOutbox{}

func (o sessionOutbox) SendCandidate(c webrtc.ICECandidateInit) {
	o.ctl.send(o.s, &candidatePush{envelope: newEnvelope(msgIceCandidate), Candidate: c})
}

func (o sessionOutbox) SendStop() {
	e := newEnvelope(msgStopCommunication)
	o.ctl.send(o.s, &e)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves one signaling session until
// the socket closes or ctx ends.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	s := &session{sid: sid, conn: newWsSignalConn(ws, ctl.Opts.SendQueue)}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.BindSignal(sid, s.conn, cancel)

	start := newEnvelope(msgSessionStart)
	ctl.send(s, &start)

	go ctl.writePump(ctx, s)
	go ctl.readPump(ctx, cancel, s)
}

// send tags v and queues it. A full queue is resolved by the policy.
func (ctl *SignalWSController) send(s *session, v outbound) {
	v.tag(s.sid, ctl.Orch.ConferenceID())
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	err = s.conn.TrySend(b)
	switch {
	case err == nil:
	case errors.Is(err, ErrBackpressure):
		ctl.Metrics.Dropped(v.kind())
		action := app.KickSession
		if ctl.Policy != nil {
			action = ctl.Policy.OnBackPressure(s.sid, v.kind())
		}
		log.Warn().Str("module", "signal").Str("sid", string(s.sid)).Str("kind", v.kind()).Msg("send queue full")
		if action == app.KickSession {
			ctl.Registry.Cancel(s.sid)
		}
	default:
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Str("kind", v.kind()).Msg("send dropped")
	}
}
