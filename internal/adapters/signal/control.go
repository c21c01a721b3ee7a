package signal

import (
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(s *session) {
	resp := newEnvelope(msgPong)
	ctl.send(s, &resp)
}

func (ctl *SignalWSController) handleStartConference(s *session) {
	resp := &conferenceResponse{envelope: newEnvelope(msgConferenceStarted), Success: true}
	id, err := ctl.Orch.StartConference()
	if err != nil {
		resp.Success = false
		resp.Error = domain.Reason(err)
	} else {
		log.Info().Str("module", "signal").Str("sid", string(s.sid)).Str("conference", string(id)).Msg("conference started")
	}
	ctl.send(s, resp)
}

func (ctl *SignalWSController) handleStopConference(s *session) {
	resp := &conferenceResponse{envelope: newEnvelope(msgConferenceEnded), Success: true}
	if err := ctl.Orch.StopConference(); err != nil {
		resp.Success = false
		resp.Error = domain.Reason(err)
	} else {
		log.Info().Str("module", "signal").Str("sid", string(s.sid)).Msg("conference ended")
	}
	ctl.send(s, resp)
}
