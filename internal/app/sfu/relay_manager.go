package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RelayKey identifies one published track: the publishing endpoint and the
// media kind it carries.
type RelayKey struct {
	Source string
	Kind   webrtc.RTPCodecType
}

func (k RelayKey) String() string { return k.Source + "/" + k.Kind.String() }

type RelayManager struct {
	mu     sync.RWMutex
	relays map[RelayKey]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[RelayKey]*Relay),
	}
}

func (m *RelayManager) relay(key RelayKey) *Relay {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relays[key]
	if !ok {
		r = NewRelay(key)
		m.relays[key] = r
	}
	return r
}

// StartRelay binds the published track for key to src and starts forwarding.
func (m *RelayManager) StartRelay(ctx context.Context, key RelayKey, src RTPReader) {
	logger := log.With().
		Str("module", "relay").
		Str("relay", key.String()).
		Logger()

	logger.Info().Msg("starting relay loop")
	m.relay(key).start(ctx, src, &logger)
}

// AddSubscriber attaches a muted OutTrack for dst to the relay of key.
// The relay is created on demand so viewers can attach before media flows.
func (m *RelayManager) AddSubscriber(key RelayKey, dst string, track RTPWriter) *OutTrack {
	ot := NewMutedOutTrack(track)
	m.relay(key).AddOutTrack(dst, ot)
	return ot
}

// Unmute lets packets flow to every OutTrack of dst.
func (m *RelayManager) Unmute(dst string) {
	for _, r := range m.snapshot() {
		if ot, ok := r.outTrack(dst); ok {
			ot.MarkOk()
		}
	}
}

// RemoveSubscriber marks every OutTrack of dst as TrackStateDelete.
func (m *RelayManager) RemoveSubscriber(dst string) {
	for _, r := range m.snapshot() {
		if ot, ok := r.outTrack(dst); ok {
			ot.MarkDelete()
		}
	}
}

// StopSource stops and removes every relay published by source.
func (m *RelayManager) StopSource(source string) {
	m.mu.Lock()
	var stopped []*Relay
	for key, r := range m.relays {
		if key.Source == source {
			stopped = append(stopped, r)
			delete(m.relays, key)
		}
	}
	m.mu.Unlock()

	for _, r := range stopped {
		r.stop()
	}
}

// StopAll stops every relay.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[RelayKey]*Relay)
	m.mu.Unlock()

	for _, r := range relays {
		r.stop()
	}
}

// HasRelay reports whether a running relay exists for key.
func (m *RelayManager) HasRelay(key RelayKey) bool {
	m.mu.RLock()
	r, ok := m.relays[key]
	m.mu.RUnlock()
	return ok && r.Running()
}

// Relay returns the relay for key, if any.
func (m *RelayManager) Relay(key RelayKey) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[key]
	return r, ok
}

func (m *RelayManager) snapshot() []*Relay {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Relay, 0, len(m.relays))
	for _, r := range m.relays {
		out = append(out, r)
	}
	return out
}
