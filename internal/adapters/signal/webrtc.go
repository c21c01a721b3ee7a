package signal

import (
	"context"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

type provisionFunc func(ctx context.Context, sid core.SessionID, offer string, out core.Outbox) (string, error)

func (ctl *SignalWSController) handlePresenter(ctx context.Context, s *session, m presenterRequest) {
	ctl.handleCall(ctx, s, msgPresenterResponse, m.SDPOffer, ctl.Orch.Presenter)
}

func (ctl *SignalWSController) handleViewer(ctx context.Context, s *session, m viewerRequest) {
	ctl.handleCall(ctx, s, msgViewerResponse, m.SDPOffer, ctl.Orch.Viewer)
}

func (ctl *SignalWSController) handleCall(ctx context.Context, s *session, respID, offer string, provision provisionFunc) {
	resp := &callResponse{envelope: newEnvelope(respID)}

	if !ctl.Limiter.Allow(s.sid) {
		log.Warn().Str("module", "signal").Str("sid", string(s.sid)).Str("kind", respID).Msg("rate limited")
		resp.Response = responseRejected
		resp.Message = domain.Reason(domain.ErrRateLimited)
		ctl.send(s, resp)
		return
	}

	answer, err := provision(ctx, s.sid, offer, sessionOutbox{ctl: ctl, s: s})
	if err != nil {
		resp.Response = responseRejected
		resp.Message = domain.Reason(err)
	} else {
		resp.Response = responseAccepted
		resp.SDPAnswer = answer
	}
	ctl.send(s, resp)
}

func (ctl *SignalWSController) handleStop(ctx context.Context, s *session) {
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("stop")
	ctl.Orch.Stop(ctx, s.sid)
}

func (ctl *SignalWSController) handleCandidate(ctx context.Context, s *session, m iceCandidateRequest) {
	ctl.Orch.OnIceCandidate(ctx, s.sid, m.Candidate)
}
