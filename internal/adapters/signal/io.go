package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, s *session) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		// unblocks readPump
		_ = s.conn.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump ctx done")
			return
		case data, ok := <-s.conn.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump channel closed")
				return
			}
			if err := s.conn.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := s.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := s.conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, s *session) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("readPump closing")
		// cancel before Stop: provisioning still in flight either sees the
		// cancellation at its next checkpoint or is torn down by Stop
		cancel()
		ctl.Orch.Stop(context.WithoutCancel(ctx), s.sid)
		ctl.Registry.Unbind(s.sid)
		ctl.Limiter.Forget(s.sid)
		s.conn.Close()
	}()

	pongWait := ctl.Opts.PingPeriod * 10 / 9
	s.conn.conn.SetReadLimit(ctl.Opts.ReadLimit)
	_ = s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.conn.SetPongHandler(func(string) error {
		return s.conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(ctx, s, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, s *session, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(s.sid)).Msg("bad message")
		var im *invalidMessage
		if errors.As(err, &im) {
			ctl.send(s, &errorResponse{envelope: newEnvelope(msgError), Message: im.text})
		}
		return
	}

	switch m := msg.(type) {
	case presenterRequest:
		// provisioning runs concurrently so candidates keep flowing in
		go ctl.handlePresenter(ctx, s, m)
	case viewerRequest:
		go ctl.handleViewer(ctx, s, m)
	case stopRequest:
		ctl.handleStop(ctx, s)
	case iceCandidateRequest:
		ctl.handleCandidate(ctx, s, m)
	case startConferenceRequest:
		ctl.handleStartConference(s)
	case stopConferenceRequest:
		ctl.handleStopConference(s)
	case pingRequest:
		ctl.handlePing(s)
	}
}
