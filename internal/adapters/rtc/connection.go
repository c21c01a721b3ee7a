package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/dkeye/one2many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Endpoint is one PeerConnection inside a pipeline. It publishes whatever the
// remote side sends and subscribes its receive-only sections to another
// endpoint through Connect.
type Endpoint struct {
	id       string
	pipeline *Pipeline
	pc       *webrtc.PeerConnection
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	onICE     func(webrtc.ICECandidateInit)
	gathering bool
	pending   []webrtc.ICECandidateInit
	local     map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP
	remote    map[webrtc.RTPCodecType]webrtc.SSRC
	upstream  *Endpoint
	connected bool
	released  bool
}

var _ core.Endpoint = (*Endpoint)(nil)

func newEndpoint(p *Pipeline, pc *webrtc.PeerConnection) *Endpoint {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		id:       "endpoint-" + uuid.NewString(),
		pipeline: p,
		pc:       pc,
		ctx:      ctx,
		cancel:   cancel,
		local:    make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP),
		remote:   make(map[webrtc.RTPCodecType]webrtc.SSRC),
	}
	e.start()
	return e
}

func (e *Endpoint) start() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("endpoint", e.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("endpoint", e.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateConnected {
			e.mu.Lock()
			e.connected = true
			e.mu.Unlock()
			e.pipeline.relays.Unmute(e.id)
		}
	})

	e.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		e.emit(cand.ToJSON())
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("endpoint", e.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		e.mu.Lock()
		e.remote[track.Kind()] = track.SSRC()
		e.mu.Unlock()
		e.pipeline.relays.StartRelay(e.ctx, sfu.RelayKey{Source: e.id, Kind: track.Kind()}, track)
	})
}

// emit hands a local candidate to the subscriber once gathering was
// requested; earlier ones are held back.
func (e *Endpoint) emit(c webrtc.ICECandidateInit) {
	e.mu.Lock()
	fn := e.onICE
	if !e.gathering || fn == nil || e.released {
		if !e.released {
			e.pending = append(e.pending, c)
		}
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn(c)
}

func (e *Endpoint) ID() string { return e.id }

// ProcessOffer applies the remote offer and returns the local answer. ICE
// candidates trickle separately.
func (e *Endpoint) ProcessOffer(_ context.Context, offer string) (string, error) {
	kinds, err := receiveOnlyKinds(offer)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	for _, kind := range kinds {
		if err := e.addLocalTrack(kind); err != nil {
			return "", err
		}
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return e.pc.LocalDescription().SDP, nil
}

func (e *Endpoint) addLocalTrack(kind webrtc.RTPCodecType) error {
	track, err := webrtc.NewTrackLocalStaticRTP(codecFor(kind), kind.String(), "one2many")
	if err != nil {
		return fmt.Errorf("new %s track: %w", kind, err)
	}
	sender, err := e.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add %s track: %w", kind, err)
	}
	e.mu.Lock()
	e.local[kind] = track
	e.mu.Unlock()
	go e.readRTCP(sender, kind)
	return nil
}

// readRTCP drains subscriber feedback and forwards keyframe requests to the
// publishing endpoint.
func (e *Endpoint) readRTCP(sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				e.mu.Lock()
				up := e.upstream
				e.mu.Unlock()
				if up != nil {
					up.requestKeyframe(kind)
				}
			}
		}
	}
}

func (e *Endpoint) requestKeyframe(kind webrtc.RTPCodecType) {
	e.mu.Lock()
	ssrc, ok := e.remote[kind]
	e.mu.Unlock()
	if !ok {
		return
	}
	if err := e.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}}); err != nil {
		log.Debug().Err(err).Str("module", "webrtc").Str("endpoint", e.id).Msg("PLI write failed")
	}
}

func (e *Endpoint) AddICECandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(c)
}

func (e *Endpoint) OnICECandidate(_ context.Context, fn func(webrtc.ICECandidateInit)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICE = fn
	return nil
}

// GatherCandidates releases local candidates found so far and lets later
// ones through immediately. Gathering itself starts with the answer.
func (e *Endpoint) GatherCandidates(_ context.Context) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return ErrClosed
	}
	e.gathering = true
	fn := e.onICE
	var batch []webrtc.ICECandidateInit
	if fn != nil {
		batch, e.pending = e.pending, nil
	}
	e.mu.Unlock()

	for _, c := range batch {
		fn(c)
	}
	return nil
}

// Connect feeds the media published by e into sink's receive-only tracks.
func (e *Endpoint) Connect(_ context.Context, sink core.Endpoint) error {
	dst, ok := sink.(*Endpoint)
	if !ok || dst.pipeline != e.pipeline {
		return fmt.Errorf("rtc: endpoint %s is not in pipeline %s", sink.ID(), e.pipeline.id)
	}

	dst.mu.Lock()
	tracks := make(map[webrtc.RTPCodecType]*webrtc.TrackLocalStaticRTP, len(dst.local))
	for kind, t := range dst.local {
		tracks[kind] = t
	}
	dst.upstream = e
	dst.mu.Unlock()

	if len(tracks) == 0 {
		log.Warn().Str("module", "webrtc").Str("endpoint", dst.id).Msg("sink negotiated no receive-only media")
	}
	for kind, t := range tracks {
		e.pipeline.relays.AddSubscriber(sfu.RelayKey{Source: e.id, Kind: kind}, dst.id, t)
	}

	dst.mu.Lock()
	connected := dst.connected
	dst.mu.Unlock()
	if connected {
		e.pipeline.relays.Unmute(dst.id)
	}

	e.requestKeyframe(webrtc.RTPCodecTypeVideo)
	return nil
}

// Release closes the PeerConnection and detaches it from every relay.
func (e *Endpoint) Release(_ context.Context) error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.pending = nil
	e.mu.Unlock()

	e.cancel()
	e.pipeline.relays.RemoveSubscriber(e.id)
	e.pipeline.relays.StopSource(e.id)
	e.pipeline.forget(e.id)

	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("endpoint", e.id).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("endpoint", e.id).Msg("closed")
	return nil
}
