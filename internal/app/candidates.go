package app

import (
	"context"
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CandidateSink receives remote ICE candidates.
type CandidateSink interface {
	AddICECandidate(ctx context.Context, c webrtc.ICECandidateInit) error
}

// DefaultQueueLimit bounds the candidates held for one session.
const DefaultQueueLimit = 128

// CandidateQueue holds remote ICE candidates that arrived before the
// session's endpoint existed. Order is preserved per session.
type CandidateQueue struct {
	// Limit caps each session's queue; zero means unbounded.
	Limit int

	mu      sync.Mutex
	pending map[core.SessionID][]webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{
		Limit:   DefaultQueueLimit,
		pending: make(map[core.SessionID][]webrtc.ICECandidateInit),
	}
}

// Enqueue appends c to the queue of sid. It reports false and drops c when
// that queue is full.
func (q *CandidateQueue) Enqueue(sid core.SessionID, c webrtc.ICECandidateInit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Limit > 0 && len(q.pending[sid]) >= q.Limit {
		return false
	}
	q.pending[sid] = append(q.pending[sid], c)
	log.Debug().Str("module", "app.candidates").Str("sid", string(sid)).Int("queued", len(q.pending[sid])).Msg("candidate queued")
	return true
}

// DrainInto removes every queued candidate of sid and forwards them to sink
// in arrival order. A failing candidate is logged and skipped; the rest are
// still delivered.
func (q *CandidateQueue) DrainInto(ctx context.Context, sid core.SessionID, sink CandidateSink) {
	q.mu.Lock()
	batch := q.pending[sid]
	delete(q.pending, sid)
	q.mu.Unlock()

	for _, c := range batch {
		if err := sink.AddICECandidate(ctx, c); err != nil {
			log.Warn().Err(err).Str("module", "app.candidates").Str("sid", string(sid)).Msg("queued candidate rejected")
		}
	}
	if len(batch) > 0 {
		log.Debug().Str("module", "app.candidates").Str("sid", string(sid)).Int("drained", len(batch)).Msg("candidates drained")
	}
}

func (q *CandidateQueue) Clear(sid core.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, sid)
}

func (q *CandidateQueue) Len(sid core.SessionID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[sid])
}
