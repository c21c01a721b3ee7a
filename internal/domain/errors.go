package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoleConflict      = errors.New("role conflict")
	ErrAlreadyPresenting = errors.New("already presenting")
	ErrNoPresenter       = errors.New("no presenter")
	ErrSuperseded        = errors.New("request superseded")
	ErrSessionClosed     = errors.New("session closed")
	ErrConferenceActive  = errors.New("conference already active")
	ErrNoConference      = errors.New("no active conference")
	ErrProtocol          = errors.New("protocol error")
	ErrRateLimited       = errors.New("rate limited")
)

// Client-facing rejection texts.
const (
	MsgRoleConflict      = "Another user is currently acting as presenter. Try again later ..."
	MsgAlreadyPresenting = "You are already acting as presenter"
	MsgNoPresenter       = "No active presenter. Try again later..."
	MsgSuperseded        = "Request was stopped or replaced by a newer one"
	MsgSessionClosed     = "Session closed"
	MsgConferenceActive  = "Another conference is currently ongoing"
	MsgNoConference      = "No active conference"
	MsgRateLimited       = "Too many requests"
)

// EngineError wraps any failure reported by the media engine.
type EngineError struct {
	Op  string
	Err error
}

func NewEngineError(op string, err error) *EngineError {
	return &EngineError{Op: op, Err: err}
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("media engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Reason converts err into the short message shown to the client.
func Reason(err error) string {
	var ee *EngineError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoleConflict):
		return MsgRoleConflict
	case errors.Is(err, ErrAlreadyPresenting):
		return MsgAlreadyPresenting
	case errors.Is(err, ErrNoPresenter):
		return MsgNoPresenter
	case errors.Is(err, ErrSuperseded):
		return MsgSuperseded
	case errors.Is(err, ErrSessionClosed):
		return MsgSessionClosed
	case errors.Is(err, ErrConferenceActive):
		return MsgConferenceActive
	case errors.Is(err, ErrNoConference):
		return MsgNoConference
	case errors.Is(err, ErrRateLimited):
		return MsgRateLimited
	case errors.As(err, &ee):
		return ee.Error()
	default:
		return err.Error()
	}
}
