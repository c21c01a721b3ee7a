package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaEngine opens the shared connection to a media-processing engine.
type MediaEngine interface {
	Connect(ctx context.Context) (MediaClient, error)
}

// MediaClient is one live connection to the engine.
type MediaClient interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
	// Close drops the connection; engine objects created through it are gone.
	Close() error
}

// ClosedNotifier is implemented by clients whose connection can drop on its
// own. Done is closed once the connection is gone.
type ClosedNotifier interface {
	Done() <-chan struct{}
}

// Pipeline is an engine-side processing graph owning endpoints.
type Pipeline interface {
	ID() string
	CreateEndpoint(ctx context.Context) (Endpoint, error)
	// Release frees the pipeline and every endpoint it owns.
	Release(ctx context.Context) error
}

// Endpoint is one participant's negotiated media connection.
type Endpoint interface {
	ID() string
	// ProcessOffer applies the remote SDP offer and returns the SDP answer.
	ProcessOffer(ctx context.Context, offer string) (string, error)
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(ctx context.Context, fn func(webrtc.ICECandidateInit)) error
	GatherCandidates(ctx context.Context) error
	// Connect makes media flow from this endpoint into sink.
	Connect(ctx context.Context, sink Endpoint) error
	Release(ctx context.Context) error
}
