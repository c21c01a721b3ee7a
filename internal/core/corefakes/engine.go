// Package corefakes provides an in-memory media engine for tests.
package corefakes

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/pion/webrtc/v4"
)

// Engine operation names, as recorded by Calls and accepted by FailOn/Block.
const (
	OpConnect          = "connect"
	OpClose            = "close"
	OpCreatePipeline   = "pipeline.create"
	OpReleasePipeline  = "pipeline.release"
	OpCreateEndpoint   = "endpoint.create"
	OpProcessOffer     = "endpoint.offer"
	OpAddCandidate     = "endpoint.candidate"
	OpSubscribe        = "endpoint.subscribe"
	OpGatherCandidates = "endpoint.gather"
	OpConnectEndpoint  = "endpoint.connect"
	OpReleaseEndpoint  = "endpoint.release"
)

type gate struct {
	reached chan struct{}
	release chan struct{}
}

// Engine is a scriptable core.MediaEngine.
type Engine struct {
	mu        sync.Mutex
	seq       int
	calls     []string
	failures  map[string]error
	gates     map[string]*gate
	clients   []*Client
	endpoints []*Endpoint
}

func NewEngine() *Engine {
	return &Engine{
		failures: make(map[string]error),
		gates:    make(map[string]*gate),
	}
}

// FailOn makes every following call of op fail with err. A nil err clears it.
func (e *Engine) FailOn(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, op)
		return
	}
	e.failures[op] = err
}

// Block parks the next call of op. reached is closed once the call is parked;
// the call resumes after release is invoked.
func (e *Engine) Block(op string) (reached <-chan struct{}, release func()) {
	g := &gate{reached: make(chan struct{}), release: make(chan struct{})}
	e.mu.Lock()
	e.gates[op] = g
	e.mu.Unlock()
	var once sync.Once
	return g.reached, func() { once.Do(func() { close(g.release) }) }
}

func (e *Engine) before(ctx context.Context, op, id string) error {
	e.mu.Lock()
	e.calls = append(e.calls, op+" "+id)
	g := e.gates[op]
	delete(e.gates, op)
	err := e.failures[op]
	e.mu.Unlock()

	if g != nil {
		close(g.reached)
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (e *Engine) nextID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return fmt.Sprintf("%s%d", prefix, e.seq)
}

// Calls returns every recorded "op id" pair in call order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Count returns how many times op was called.
func (e *Engine) Count(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (e *Engine) Clients() []*Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Client(nil), e.clients...)
}

func (e *Engine) Endpoints() []*Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Endpoint(nil), e.endpoints...)
}

func (e *Engine) Connect(ctx context.Context) (core.MediaClient, error) {
	id := e.nextID("client-")
	if err := e.before(ctx, OpConnect, id); err != nil {
		return nil, err
	}
	c := &Client{engine: e, id: id, done: make(chan struct{})}
	e.mu.Lock()
	e.clients = append(e.clients, c)
	e.mu.Unlock()
	return c, nil
}

type Client struct {
	engine *Engine
	id     string
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed int
}

var _ core.ClosedNotifier = (*Client)(nil)

// Done is closed by Drop and Close.
func (c *Client) Done() <-chan struct{} { return c.done }

// Drop simulates the engine connection going away on its own.
func (c *Client) Drop() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) ID() string { return c.id }

// Closed reports how many times Close was called.
func (c *Client) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	id := c.engine.nextID("pipeline-")
	if err := c.engine.before(ctx, OpCreatePipeline, id); err != nil {
		return nil, err
	}
	return &Pipeline{engine: c.engine, id: id}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.Drop()
	return c.engine.before(context.Background(), OpClose, c.id)
}

type Pipeline struct {
	engine *Engine
	id     string

	mu       sync.Mutex
	released int
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *Pipeline) CreateEndpoint(ctx context.Context) (core.Endpoint, error) {
	id := p.engine.nextID("endpoint-")
	if err := p.engine.before(ctx, OpCreateEndpoint, id); err != nil {
		return nil, err
	}
	ep := &Endpoint{engine: p.engine, id: id, pipeline: p}
	p.engine.mu.Lock()
	p.engine.endpoints = append(p.engine.endpoints, ep)
	p.engine.mu.Unlock()
	return ep, nil
}

func (p *Pipeline) Release(ctx context.Context) error {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
	return p.engine.before(ctx, OpReleasePipeline, p.id)
}

// Endpoint records everything applied to it.
type Endpoint struct {
	engine   *Engine
	id       string
	pipeline *Pipeline

	mu         sync.Mutex
	offer      string
	candidates []webrtc.ICECandidateInit
	sinks      []string
	onICE      func(webrtc.ICECandidateInit)
	gathering  bool
	released   int
}

func (ep *Endpoint) ID() string { return ep.id }

func (ep *Endpoint) Pipeline() *Pipeline { return ep.pipeline }

// Answer is the SDP answer the fake produces for offer.
func Answer(offer string) string { return "answer:" + offer }

func (ep *Endpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := ep.engine.before(ctx, OpProcessOffer, ep.id); err != nil {
		return "", err
	}
	ep.mu.Lock()
	ep.offer = offer
	ep.mu.Unlock()
	return Answer(offer), nil
}

func (ep *Endpoint) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if err := ep.engine.before(ctx, OpAddCandidate, ep.id); err != nil {
		return err
	}
	ep.mu.Lock()
	ep.candidates = append(ep.candidates, c)
	ep.mu.Unlock()
	return nil
}

func (ep *Endpoint) OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error {
	if err := ep.engine.before(ctx, OpSubscribe, ep.id); err != nil {
		return err
	}
	ep.mu.Lock()
	ep.onICE = fn
	ep.mu.Unlock()
	return nil
}

func (ep *Endpoint) GatherCandidates(ctx context.Context) error {
	if err := ep.engine.before(ctx, OpGatherCandidates, ep.id); err != nil {
		return err
	}
	ep.mu.Lock()
	ep.gathering = true
	ep.mu.Unlock()
	return nil
}

func (ep *Endpoint) Connect(ctx context.Context, sink core.Endpoint) error {
	if err := ep.engine.before(ctx, OpConnectEndpoint, ep.id+"->"+sink.ID()); err != nil {
		return err
	}
	ep.mu.Lock()
	ep.sinks = append(ep.sinks, sink.ID())
	ep.mu.Unlock()
	return nil
}

func (ep *Endpoint) Release(ctx context.Context) error {
	ep.mu.Lock()
	ep.released++
	ep.mu.Unlock()
	return ep.engine.before(ctx, OpReleaseEndpoint, ep.id)
}

// Discover simulates the engine finding a local candidate.
func (ep *Endpoint) Discover(c webrtc.ICECandidateInit) {
	ep.mu.Lock()
	fn := ep.onICE
	ep.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (ep *Endpoint) Offer() string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.offer
}

func (ep *Endpoint) Candidates() []webrtc.ICECandidateInit {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), ep.candidates...)
}

func (ep *Endpoint) Sinks() []string {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]string(nil), ep.sinks...)
}

func (ep *Endpoint) Gathering() bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.gathering
}

func (ep *Endpoint) Released() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.released
}
