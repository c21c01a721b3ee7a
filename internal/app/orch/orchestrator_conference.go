package orch

import (
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) StartConference() (domain.ConferenceID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.conference != "" {
		return "", domain.ErrConferenceActive
	}
	o.state.conference = domain.NewConferenceID()
	log.Info().Str("module", "orch").Str("conference", string(o.state.conference)).Msg("conference started")
	return o.state.conference, nil
}

func (o *Orchestrator) StopConference() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.conference == "" {
		return domain.ErrNoConference
	}
	log.Info().Str("module", "orch").Str("conference", string(o.state.conference)).Msg("conference ended")
	o.state.conference = ""
	return nil
}

// ConferenceID returns the active conference or "".
func (o *Orchestrator) ConferenceID() domain.ConferenceID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.conference
}
