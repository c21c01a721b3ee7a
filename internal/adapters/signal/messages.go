package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Inbound message ids.
const (
	msgPresenter       = "presenter"
	msgViewer          = "viewer"
	msgStop            = "stop"
	msgOnIceCandidate  = "onIceCandidate"
	msgStartConference = "startConference"
	msgStopConference  = "stopConference"
	msgPing            = "ping"
)

// Outbound message ids.
const (
	msgSessionStart      = "sessionStart"
	msgPresenterResponse = "presenterResponse"
	msgViewerResponse    = "viewerResponse"
	msgIceCandidate      = "iceCandidate"
	msgStopCommunication = "stopCommunication"
	msgConferenceStarted = "conferenceStarted"
	msgConferenceEnded   = "conferenceEnded"
	msgPong              = "pong"
	msgError             = "error"
)

const (
	responseAccepted = "accepted"
	responseRejected = "rejected"
)

// inbound is the closed set of client messages.
type inbound interface {
	id() string
}

type presenterRequest struct {
	SDPOffer string `json:"sdpOffer"`
}

type viewerRequest struct {
	SDPOffer string `json:"sdpOffer"`
}

type stopRequest struct{}

type iceCandidateRequest struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type startConferenceRequest struct{}

type stopConferenceRequest struct{}

type pingRequest struct{}

func (presenterRequest) id() string       { return msgPresenter }
func (viewerRequest) id() string          { return msgViewer }
func (stopRequest) id() string            { return msgStop }
func (iceCandidateRequest) id() string    { return msgOnIceCandidate }
func (startConferenceRequest) id() string { return msgStartConference }
func (stopConferenceRequest) id() string  { return msgStopConference }
func (pingRequest) id() string            { return msgPing }

// parseInbound decodes one client frame. Any failure wraps domain.ErrProtocol
// and carries a client-facing text.
func parseInbound(data []byte) (inbound, error) {
	var env struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, protocolError(string(truncate(data, 64)), err)
	}

	var (
		msg inbound
		err error
	)
	switch env.ID {
	case msgPresenter:
		var m presenterRequest
		err = json.Unmarshal(data, &m)
		if err == nil && m.SDPOffer == "" {
			err = fmt.Errorf("missing sdpOffer")
		}
		msg = m
	case msgViewer:
		var m viewerRequest
		err = json.Unmarshal(data, &m)
		if err == nil && m.SDPOffer == "" {
			err = fmt.Errorf("missing sdpOffer")
		}
		msg = m
	case msgStop:
		msg = stopRequest{}
	case msgOnIceCandidate:
		var m iceCandidateRequest
		err = json.Unmarshal(data, &m)
		msg = m
	case msgStartConference:
		msg = startConferenceRequest{}
	case msgStopConference:
		msg = stopConferenceRequest{}
	case msgPing:
		msg = pingRequest{}
	default:
		return nil, protocolError(env.ID, fmt.Errorf("unknown message id %q", env.ID))
	}
	if err != nil {
		return nil, protocolError(env.ID, err)
	}
	return msg, nil
}

type invalidMessage struct {
	text string
	err  error
}

func (e *invalidMessage) Error() string { return e.err.Error() }
func (e *invalidMessage) Unwrap() []error {
	return []error{domain.ErrProtocol, e.err}
}

func protocolError(what string, err error) error {
	return &invalidMessage{text: "Invalid message " + what, err: err}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// envelope tags every outbound message with the receiving session and the
// current conference.
type envelope struct {
	ID           string              `json:"id"`
	SessionID    core.SessionID      `json:"sessionId"`
	ConferenceID domain.ConferenceID `json:"conferenceId,omitempty"`
}

type callResponse struct {
	envelope
	Response  string `json:"response"`
	SDPAnswer string `json:"sdpAnswer,omitempty"`
	Message   string `json:"message,omitempty"`
}

type conferenceResponse struct {
	envelope
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type candidatePush struct {
	envelope
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type errorResponse struct {
	envelope
	Message string `json:"message"`
}

// outbound is anything the controller can tag and send.
type outbound interface {
	tag(sid core.SessionID, conf domain.ConferenceID)
	kind() string
}

func (e *envelope) tag(sid core.SessionID, conf domain.ConferenceID) {
	e.SessionID = sid
	e.ConferenceID = conf
}

func (e *envelope) kind() string { return e.ID }

func newEnvelope(id string) envelope { return envelope{ID: id} }
