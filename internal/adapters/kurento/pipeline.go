package kurento

import (
	"context"
	"encoding/json"

	"github.com/dkeye/one2many/internal/core"
	"github.com/pion/webrtc/v4"
)

// Pipeline is a remote MediaPipeline.
type Pipeline struct {
	client *Client
	id     string
}

func (p *Pipeline) ID() string { return p.id }

func (p *Pipeline) CreateEndpoint(ctx context.Context) (core.Endpoint, error) {
	var id string
	err := p.client.call(ctx, methodCreate, createParams{
		Type:              typeWebRtcEndpoint,
		ConstructorParams: map[string]any{"mediaPipeline": p.id},
		Properties:        map[string]any{},
		SessionID:         p.client.session(),
	}, &id)
	if err != nil {
		return nil, err
	}
	return &Endpoint{client: p.client, id: id}, nil
}

// Release frees the pipeline and every endpoint inside it.
func (p *Pipeline) Release(ctx context.Context) error {
	return p.client.release(ctx, p.id)
}

// Endpoint is a remote WebRtcEndpoint.
type Endpoint struct {
	client *Client
	id     string
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) invoke(ctx context.Context, op string, params map[string]any, out any) error {
	return e.client.call(ctx, methodInvoke, invokeParams{
		Object:          e.id,
		Operation:       op,
		OperationParams: params,
		SessionID:       e.client.session(),
	}, out)
}

func (e *Endpoint) ProcessOffer(ctx context.Context, offer string) (string, error) {
	var answer string
	if err := e.invoke(ctx, "processOffer", map[string]any{"offer": offer}, &answer); err != nil {
		return "", err
	}
	return answer, nil
}

func (e *Endpoint) AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	return e.invoke(ctx, "addIceCandidate", map[string]any{"candidate": toKurento(c)}, nil)
}

func (e *Endpoint) OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error {
	return e.client.subscribe(ctx, e.id, eventIceCandidate, func(data json.RawMessage) {
		var ev iceCandidateFound
		if err := json.Unmarshal(data, &ev); err != nil {
			e.client.logger.Warn().Err(err).Str("endpoint", e.id).Msg("bad IceCandidateFound")
			return
		}
		fn(ev.Candidate.toInit())
	})
}

func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	return e.invoke(ctx, "gatherCandidates", nil, nil)
}

func (e *Endpoint) Connect(ctx context.Context, sink core.Endpoint) error {
	return e.invoke(ctx, "connect", map[string]any{"sink": sink.ID()}, nil)
}

func (e *Endpoint) Release(ctx context.Context) error {
	return e.client.release(ctx, e.id)
}
