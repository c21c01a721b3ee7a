// Package kurento talks to a Kurento Media Server over its JSON-RPC 2.0
// WebSocket protocol.
package kurento

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

const jsonrpcVersion = "2.0"

const (
	methodCreate    = "create"
	methodInvoke    = "invoke"
	methodSubscribe = "subscribe"
	methodRelease   = "release"
	methodPing      = "ping"
	methodOnEvent   = "onEvent"
)

const (
	typeMediaPipeline  = "MediaPipeline"
	typeWebRtcEndpoint = "WebRtcEndpoint"
	eventIceCandidate  = "IceCandidateFound"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is any frame the server sends: a response carries ID and
// Result/Error, a notification carries Method and Params.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  *result         `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type result struct {
	Value     json.RawMessage `json:"value,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// RPCError is an error reported by the media server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("kurento: %s (code %d)", e.Message, e.Code)
}

type createParams struct {
	Type              string         `json:"type"`
	ConstructorParams map[string]any `json:"constructorParams"`
	Properties        map[string]any `json:"properties"`
	SessionID         string         `json:"sessionId,omitempty"`
}

type invokeParams struct {
	Object          string         `json:"object"`
	Operation       string         `json:"operation"`
	OperationParams map[string]any `json:"operationParams,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
}

type subscribeParams struct {
	Type      string `json:"type"`
	Object    string `json:"object"`
	SessionID string `json:"sessionId,omitempty"`
}

type releaseParams struct {
	Object    string `json:"object"`
	SessionID string `json:"sessionId,omitempty"`
}

type pingParams struct {
	Interval int64 `json:"interval"`
}

type eventParams struct {
	Value struct {
		Object string          `json:"object"`
		Type   string          `json:"type"`
		Data   json.RawMessage `json:"data"`
	} `json:"value"`
}

type iceCandidateFound struct {
	Source    string       `json:"source"`
	Candidate iceCandidate `json:"candidate"`
}

// iceCandidate is Kurento's IceCandidate complex type.
type iceCandidate struct {
	Module        string `json:"__module__,omitempty"`
	Type          string `json:"__type__,omitempty"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

func toKurento(c webrtc.ICECandidateInit) iceCandidate {
	kc := iceCandidate{Module: "kurento", Type: "IceCandidate", Candidate: c.Candidate}
	if c.SDPMid != nil {
		kc.SDPMid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		kc.SDPMLineIndex = int(*c.SDPMLineIndex)
	}
	return kc
}

func (c iceCandidate) toInit() webrtc.ICECandidateInit {
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
}
