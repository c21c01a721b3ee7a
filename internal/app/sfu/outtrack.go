package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

func (s TrackState) String() string {
	switch s {
	case TrackStateOk:
		return "ok"
	case TrackStateMuted:
		return "muted"
	case TrackStateDelete:
		return "delete"
	}
	return "unknown"
}

// RTPWriter is the sending half of a subscriber track.
// *webrtc.TrackLocalStaticRTP implements it.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack represents a single outgoing track to a subscriber.
type OutTrack struct {
	Track RTPWriter
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track RTPWriter) *OutTrack {
	return &OutTrack{Track: track}
}

// NewMutedOutTrack returns an OutTrack that drops packets until MarkOk.
func NewMutedOutTrack(track RTPWriter) *OutTrack {
	ot := NewOutTrack(track)
	ot.MarkMuted()
	return ot
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

// MarkOk unmutes the track. A deleted track stays deleted.
func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
