// Package rtc is an in-process media engine built on pion: pipelines are
// relay groups and endpoints are PeerConnections.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("rtc: closed")

type Config struct {
	ICEServers []string
	PortMin    uint16
	PortMax    uint16
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Engine implements core.MediaEngine. Every Connect returns an independent
// client sharing one webrtc.API.
type Engine struct {
	api   *webrtc.API
	pcCfg webrtc.Configuration
}

var _ core.MediaEngine = (*Engine)(nil)

func NewEngine(cfg Config) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI factory: %w", err)
	}
	interceptorRegistry.Add(pli)

	se := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set WebRTC port range: %w", err)
		}
	}

	pcCfg := DefaultWebRTCConfig()
	if len(cfg.ICEServers) > 0 {
		pcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		pcCfg: pcCfg,
	}, nil
}

// registerCodecs pins one codec per kind so relayed packets always match
// what every subscriber negotiated.
func registerCodecs(m *webrtc.MediaEngine) error {
	videoFeedback := []webrtc.RTCPFeedback{
		{Type: webrtc.TypeRTCPFBNACK},
		{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
		{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
		{Type: webrtc.TypeRTCPFBGoogREMB},
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     webrtc.MimeTypeVP8,
			ClockRate:    90000,
			RTCPFeedback: videoFeedback,
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return err
	}
	return m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
}

func codecFor(kind webrtc.RTPCodecType) webrtc.RTPCodecCapability {
	if kind == webrtc.RTPCodecTypeAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func (e *Engine) Connect(_ context.Context) (core.MediaClient, error) {
	c := &Client{
		id:        "client-" + uuid.NewString(),
		engine:    e,
		pipelines: make(map[string]*Pipeline),
	}
	log.Info().Str("module", "webrtc").Str("client", c.id).Msg("engine client opened")
	return c, nil
}

// Client owns the pipelines created through it.
type Client struct {
	id     string
	engine *Engine

	mu        sync.Mutex
	pipelines map[string]*Pipeline
	closed    bool
}

func (c *Client) CreatePipeline(_ context.Context) (core.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	p := newPipeline(c)
	c.pipelines[p.id] = p
	return p, nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pipelines, id)
}

// Close releases every pipeline still open. Calling it twice is harmless.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pipelines := make([]*Pipeline, 0, len(c.pipelines))
	for _, p := range c.pipelines {
		pipelines = append(pipelines, p)
	}
	c.pipelines = nil
	c.mu.Unlock()

	var errs []error
	for _, p := range pipelines {
		errs = append(errs, p.Release(context.Background()))
	}
	log.Info().Str("module", "webrtc").Str("client", c.id).Int("pipelines", len(pipelines)).Msg("engine client closed")
	return errors.Join(errs...)
}
