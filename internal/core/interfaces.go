package core

import "github.com/pion/webrtc/v4"

type SessionID string

//go:generate mockgen -destination=mocks/mock_outbox.go -package=mocks . Outbox

// Outbox pushes unsolicited messages to the client owning a session.
// Implementations must tolerate calls after the client went away.
type Outbox interface {
	SendCandidate(webrtc.ICECandidateInit)
	SendStop()
}
