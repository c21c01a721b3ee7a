package app

import "github.com/dkeye/one2many/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	KickSession
)

// Policy decides what happens when a client cannot keep up with outbound messages.
type Policy interface {
	OnBackPressure(sid core.SessionID, kind string) BackpressureAction
}

type SimplePolicy struct{}

// OnBackPressure always kicks the session.
func (SimplePolicy) OnBackPressure(sid core.SessionID, kind string) BackpressureAction {
	return KickSession
}
