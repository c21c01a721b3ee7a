package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/dkeye/one2many/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Pipeline groups endpoints that can exchange media through its relays.
type Pipeline struct {
	id     string
	client *Client
	relays *sfu.RelayManager

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	released  bool
}

func newPipeline(c *Client) *Pipeline {
	return &Pipeline{
		id:        "pipeline-" + uuid.NewString(),
		client:    c,
		relays:    sfu.NewRelayManager(),
		endpoints: make(map[string]*Endpoint),
	}
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) CreateEndpoint(_ context.Context) (core.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrClosed
	}
	pc, err := p.client.engine.api.NewPeerConnection(p.client.engine.pcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ep := newEndpoint(p, pc)
	p.endpoints[ep.id] = ep
	log.Debug().Str("module", "webrtc").Str("pipeline", p.id).Str("endpoint", ep.id).Msg("endpoint created")
	return ep, nil
}

func (p *Pipeline) forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.endpoints, id)
}

// Release closes every endpoint of the pipeline and stops its relays.
func (p *Pipeline) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	endpoints := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		endpoints = append(endpoints, ep)
	}
	p.endpoints = nil
	p.mu.Unlock()

	var errs []error
	for _, ep := range endpoints {
		errs = append(errs, ep.Release(ctx))
	}
	p.relays.StopAll()
	p.client.forget(p.id)
	log.Info().Str("module", "webrtc").Str("pipeline", p.id).Int("endpoints", len(endpoints)).Msg("pipeline released")
	return errors.Join(errs...)
}
