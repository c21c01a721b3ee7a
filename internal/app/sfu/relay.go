package sfu

import (
	"context"
	"errors"
	"io"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// RTPReader is the receiving half of a published track.
// *webrtc.TrackRemote implements it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Relay fans packets of one published track out to its subscribers.
// Subscribers may attach before the source is known.
type Relay struct {
	Key RelayKey

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRelay(key RelayKey) *Relay {
	return &Relay{
		Key:       key,
		outTracks: make(map[string]*OutTrack),
	}
}

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, src RTPReader, done chan struct{}, logger *zerolog.Logger) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("relay source ended")
			} else {
				logger.Error().Err(err).Msg("relay read RTP error, stopping")
			}
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for dst, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("dst", dst).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dst := range dirty {
		if ot, ok := r.outTracks[dst]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, dst)
		}
	}
}

// start (re)binds the relay to src; subscribers are kept.
func (r *Relay) start(ctx context.Context, src RTPReader, logger *zerolog.Logger) {
	relayCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.mu.Lock()
	if r.cancel != nil {
		logger.Info().Msg("replacing relay source")
		r.cancel()
	}
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(relayCtx, src, done, logger)
}

func (r *Relay) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Relay) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancel != nil
}

// Done is closed when the current read loop exits. Nil before start.
func (r *Relay) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.done
}

func (r *Relay) AddOutTrack(dst string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.outTracks[dst]; ok && old != ot {
		old.MarkDelete()
	}
	r.outTracks[dst] = ot
}

func (r *Relay) outTrack(dst string) (*OutTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[dst]
	return ot, ok
}

func (r *Relay) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ot := range r.outTracks {
		if ot.GetState() != TrackStateDelete {
			n++
		}
	}
	return n
}
