package rtc

import (
	"context"
	"testing"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T) (*Client, *Pipeline) {
	t.Helper()
	eng, err := NewEngine(Config{ICEServers: []string{"stun:127.0.0.1:3478"}})
	require.NoError(t, err)
	mc, err := eng.Connect(context.Background())
	require.NoError(t, err)
	client := mc.(*Client)
	t.Cleanup(func() { _ = client.Close() })

	pl, err := client.CreatePipeline(context.Background())
	require.NoError(t, err)
	return client, pl.(*Pipeline)
}

// browserOffer builds an offer the way a browser peer would: a presenter
// sends audio and video, a viewer only receives them.
func browserOffer(t *testing.T, dir webrtc.RTPTransceiverDirection) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if dir == webrtc.RTPTransceiverDirectionRecvonly {
			_, err = pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: dir})
		} else {
			var track *webrtc.TrackLocalStaticRTP
			track, err = webrtc.NewTrackLocalStaticRTP(codecFor(kind), kind.String(), "browser")
			require.NoError(t, err)
			_, err = pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{Direction: dir})
		}
		require.NoError(t, err)
	}
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer.SDP
}

func answerDirections(t *testing.T, answer string) map[string]webrtc.RTPTransceiverDirection {
	t.Helper()
	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal([]byte(answer)))
	out := make(map[string]webrtc.RTPTransceiverDirection)
	for _, md := range desc.MediaDescriptions {
		out[md.MediaName.Media] = direction(md)
	}
	return out
}

func TestReceiveOnlyKinds(t *testing.T) {
	kinds, err := receiveOnlyKinds(browserOffer(t, webrtc.RTPTransceiverDirectionRecvonly))
	require.NoError(t, err)
	assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}, kinds)

	kinds, err = receiveOnlyKinds(browserOffer(t, webrtc.RTPTransceiverDirectionSendonly))
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = receiveOnlyKinds("not an sdp")
	assert.Error(t, err)
}

func TestEndpoint_AnswersPresenterAndViewer(t *testing.T) {
	_, pl := newTestPipeline(t)
	ctx := context.Background()

	src, err := pl.CreateEndpoint(ctx)
	require.NoError(t, err)
	answer, err := src.ProcessOffer(ctx, browserOffer(t, webrtc.RTPTransceiverDirectionSendonly))
	require.NoError(t, err)
	for media, dir := range answerDirections(t, answer) {
		assert.Equal(t, webrtc.RTPTransceiverDirectionRecvonly, dir, media)
	}

	sink, err := pl.CreateEndpoint(ctx)
	require.NoError(t, err)
	answer, err = sink.ProcessOffer(ctx, browserOffer(t, webrtc.RTPTransceiverDirectionRecvonly))
	require.NoError(t, err)
	for media, dir := range answerDirections(t, answer) {
		assert.Equal(t, webrtc.RTPTransceiverDirectionSendonly, dir, media)
	}

	require.NoError(t, src.Connect(ctx, sink))
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		r, ok := pl.relays.Relay(sfu.RelayKey{Source: src.ID(), Kind: kind})
		require.True(t, ok, kind.String())
		assert.Equal(t, 1, r.Subscribers())
	}

	require.NoError(t, sink.Release(ctx))
	require.NoError(t, sink.Release(ctx))
	r, _ := pl.relays.Relay(sfu.RelayKey{Source: src.ID(), Kind: webrtc.RTPCodecTypeVideo})
	assert.Zero(t, r.Subscribers())
}

func TestEndpoint_ProcessOfferRejectsGarbage(t *testing.T) {
	_, pl := newTestPipeline(t)
	ep, err := pl.CreateEndpoint(context.Background())
	require.NoError(t, err)
	_, err = ep.ProcessOffer(context.Background(), "v=0 garbage")
	assert.Error(t, err)
}

func TestEndpoint_ConnectAcrossPipelines(t *testing.T) {
	client, pl := newTestPipeline(t)
	other, err := client.CreatePipeline(context.Background())
	require.NoError(t, err)

	a, err := pl.CreateEndpoint(context.Background())
	require.NoError(t, err)
	b, err := other.CreateEndpoint(context.Background())
	require.NoError(t, err)
	assert.Error(t, a.Connect(context.Background(), b))
}

func TestEndpoint_CandidatesHeldUntilGathering(t *testing.T) {
	_, pl := newTestPipeline(t)
	ep, err := pl.CreateEndpoint(context.Background())
	require.NoError(t, err)
	e := ep.(*Endpoint)

	var got []webrtc.ICECandidateInit
	require.NoError(t, e.OnICECandidate(context.Background(), func(c webrtc.ICECandidateInit) { got = append(got, c) }))

	c1 := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host"}
	c2 := webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 2122260223 10.0.0.1 50001 typ host"}
	e.emit(c1)
	assert.Empty(t, got)

	require.NoError(t, e.GatherCandidates(context.Background()))
	e.emit(c2)
	assert.Equal(t, []webrtc.ICECandidateInit{c1, c2}, got)

	require.NoError(t, e.Release(context.Background()))
	assert.ErrorIs(t, e.GatherCandidates(context.Background()), ErrClosed)
}

func TestClient_CloseReleasesPipelines(t *testing.T) {
	client, pl := newTestPipeline(t)
	_, err := pl.CreateEndpoint(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	_, err = pl.CreateEndpoint(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = client.CreatePipeline(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, client.Close())
}
