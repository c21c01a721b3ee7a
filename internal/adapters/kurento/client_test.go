package kurento

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbound struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeKMS answers the subset of the Kurento protocol the client speaks.
type fakeKMS struct {
	mu      sync.Mutex
	seq     int
	calls   []string
	params  []json.RawMessage
	silent  map[string]bool // methods left unanswered
	failing map[string]bool // operations answered with an error
	conns   []*websocket.Conn
}

func newFakeKMS(t *testing.T) (*fakeKMS, string) {
	k := &fakeKMS{silent: map[string]bool{}, failing: map[string]bool{}}
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		k.mu.Lock()
		k.conns = append(k.conns, conn)
		k.mu.Unlock()
		k.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return k, "ws" + strings.TrimPrefix(srv.URL, "http") + "/kurento"
}

func (k *fakeKMS) serve(conn *websocket.Conn) {
	var writeMu sync.Mutex
	send := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(v)
	}
	reply := func(id uint64, value any) {
		send(map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"value": value, "sessionId": "kms-session"}})
	}
	for {
		var req inbound
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		var p struct {
			Type            string         `json:"type"`
			Object          string         `json:"object"`
			Operation       string         `json:"operation"`
			OperationParams map[string]any `json:"operationParams"`
		}
		_ = json.Unmarshal(req.Params, &p)

		name := req.Method
		if p.Operation != "" {
			name += "." + p.Operation
		}
		k.mu.Lock()
		k.calls = append(k.calls, name)
		k.params = append(k.params, req.Params)
		silent := k.silent[req.Method]
		failing := k.failing[p.Operation]
		k.seq++
		seq := k.seq
		k.mu.Unlock()

		if silent {
			continue
		}
		if failing {
			send(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": 40001, "message": "SDP parse error"}})
			continue
		}
		switch req.Method {
		case methodCreate:
			reply(req.ID, fmt.Sprintf("%s-%d", p.Type, seq))
		case methodSubscribe:
			reply(req.ID, fmt.Sprintf("sub-%d", seq))
		case methodPing:
			reply(req.ID, "pong")
		case methodInvoke:
			switch p.Operation {
			case "processOffer":
				reply(req.ID, "answer:"+p.OperationParams["offer"].(string))
			case "gatherCandidates":
				reply(req.ID, nil)
				send(map[string]any{
					"jsonrpc": "2.0",
					"method":  methodOnEvent,
					"params": map[string]any{"value": map[string]any{
						"object": p.Object,
						"type":   eventIceCandidate,
						"data": map[string]any{
							"source": p.Object,
							"type":   eventIceCandidate,
							"candidate": map[string]any{
								"__module__": "kurento", "__type__": "IceCandidate",
								"candidate": "candidate:1 1 UDP 2013266431 10.0.0.5 40000 typ host",
								"sdpMid":    "0", "sdpMLineIndex": 0,
							},
						},
					}},
				})
			default:
				reply(req.ID, nil)
			}
		default:
			reply(req.ID, nil)
		}
	}
}

func (k *fakeKMS) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

func (k *fakeKMS) lastParams() json.RawMessage {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.params[len(k.params)-1]
}

func (k *fakeKMS) dropAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, c := range k.conns {
		_ = c.Close()
	}
}

func TestClient_BroadcastFlow(t *testing.T) {
	kms, uri := newFakeKMS(t)
	eng := &Engine{URI: uri, CallTimeout: 2 * time.Second}
	ctx := context.Background()

	mc, err := eng.Connect(ctx)
	require.NoError(t, err)
	defer mc.Close()

	pl, err := mc.CreatePipeline(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MediaPipeline-1", pl.ID())

	src, err := pl.CreateEndpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "WebRtcEndpoint-2", src.ID())

	var params struct {
		SessionID         string         `json:"sessionId"`
		ConstructorParams map[string]any `json:"constructorParams"`
	}
	require.NoError(t, json.Unmarshal(kms.lastParams(), &params))
	assert.Equal(t, "kms-session", params.SessionID)
	assert.Equal(t, "MediaPipeline-1", params.ConstructorParams["mediaPipeline"])

	found := make(chan webrtc.ICECandidateInit, 1)
	require.NoError(t, src.OnICECandidate(ctx, func(c webrtc.ICECandidateInit) { found <- c }))

	answer, err := src.ProcessOffer(ctx, "v=0 offer")
	require.NoError(t, err)
	assert.Equal(t, "answer:v=0 offer", answer)

	mid := "0"
	idx := uint16(0)
	require.NoError(t, src.AddICECandidate(ctx, webrtc.ICECandidateInit{Candidate: "candidate:9", SDPMid: &mid, SDPMLineIndex: &idx}))
	var add struct {
		OperationParams struct {
			Candidate iceCandidate `json:"candidate"`
		} `json:"operationParams"`
	}
	require.NoError(t, json.Unmarshal(kms.lastParams(), &add))
	assert.Equal(t, "candidate:9", add.OperationParams.Candidate.Candidate)
	assert.Equal(t, "IceCandidate", add.OperationParams.Candidate.Type)

	require.NoError(t, src.GatherCandidates(ctx))
	select {
	case c := <-found:
		assert.Contains(t, c.Candidate, "10.0.0.5")
		require.NotNil(t, c.SDPMid)
		assert.Equal(t, "0", *c.SDPMid)
	case <-time.After(2 * time.Second):
		t.Fatal("IceCandidateFound was not delivered")
	}

	sink, err := pl.CreateEndpoint(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Connect(ctx, sink))
	require.NoError(t, sink.Release(ctx))
	require.NoError(t, pl.Release(ctx))

	assert.Equal(t, []string{
		"create", "create", "subscribe",
		"invoke.processOffer", "invoke.addIceCandidate", "invoke.gatherCandidates",
		"create", "invoke.connect", "release", "release",
	}, kms.Calls())
}

func TestClient_ServerError(t *testing.T) {
	kms, uri := newFakeKMS(t)
	kms.failing["processOffer"] = true
	mc, err := (&Engine{URI: uri}).Connect(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	pl, err := mc.CreatePipeline(context.Background())
	require.NoError(t, err)
	ep, err := pl.CreateEndpoint(context.Background())
	require.NoError(t, err)

	_, err = ep.ProcessOffer(context.Background(), "bad")
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 40001, rpcErr.Code)
	assert.Contains(t, err.Error(), "SDP parse error")
}

func TestClient_PendingCallFailsWhenConnectionDrops(t *testing.T) {
	kms, uri := newFakeKMS(t)
	kms.silent[methodCreate] = true
	mc, err := (&Engine{URI: uri}).Connect(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	errc := make(chan error, 1)
	go func() {
		_, err := mc.CreatePipeline(context.Background())
		errc <- err
	}()

	require.Eventually(t, func() bool { return len(kms.Calls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	kms.dropAll()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed")
	}
	_, err = mc.CreatePipeline(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	select {
	case <-mc.(*Client).Done():
	default:
		t.Fatal("Done not closed after the connection dropped")
	}
}

type stopRecorder struct {
	mu    sync.Mutex
	stops int
}

func (r *stopRecorder) SendCandidate(webrtc.ICECandidateInit) {}

func (r *stopRecorder) SendStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *stopRecorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func TestClient_DropEndsBroadcast(t *testing.T) {
	kms, uri := newFakeKMS(t)
	o := orch.New(&Engine{URI: uri, CallTimeout: 2 * time.Second}, nil)
	ctx := context.Background()

	pOut, vOut := &stopRecorder{}, &stopRecorder{}
	_, err := o.Presenter(ctx, "p", "v=0 p", pOut)
	require.NoError(t, err)
	_, err = o.Viewer(ctx, "v", "v=0 v", vOut)
	require.NoError(t, err)
	require.True(t, o.Snapshot().EngineConnected)

	kms.dropAll()

	require.Eventually(t, func() bool {
		st := o.Snapshot()
		return st.Presenter == "" && st.Viewers == 0 && !st.EngineConnected &&
			pOut.Stops() == 1 && vOut.Stops() == 1
	}, 3*time.Second, 10*time.Millisecond)

	// the next presenter dials a fresh connection
	_, err = o.Presenter(ctx, "q", "v=0 q", &stopRecorder{})
	require.NoError(t, err)
	assert.True(t, o.Snapshot().PresenterActive)
	o.Close(ctx)
}

func TestClient_CallTimeout(t *testing.T) {
	kms, uri := newFakeKMS(t)
	kms.silent[methodCreate] = true
	mc, err := (&Engine{URI: uri, CallTimeout: 50 * time.Millisecond}).Connect(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	_, err = mc.CreatePipeline(context.Background())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_Keepalive(t *testing.T) {
	kms, uri := newFakeKMS(t)
	mc, err := (&Engine{URI: uri, PingPeriod: 20 * time.Millisecond}).Connect(context.Background())
	require.NoError(t, err)
	defer mc.Close()

	require.Eventually(t, func() bool {
		for _, c := range kms.Calls() {
			if c == methodPing {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_DialFailure(t *testing.T) {
	_, err := (&Engine{URI: "ws://127.0.0.1:1/kurento"}).Connect(context.Background())
	assert.Error(t, err)
}
