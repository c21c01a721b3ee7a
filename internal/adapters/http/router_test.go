package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dkeye/one2many/internal/adapters/signal"
	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/config"
	"github.com/dkeye/one2many/internal/core/corefakes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerEnv struct {
	r    *gin.Engine
	orch *orch.Orchestrator
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>one2many</html>"), 0o600))

	cfg := &config.Config{Mode: "test", StaticPath: static, WSPath: "/one2many", Secret: "s3cret"}
	metrics := app.NewMetrics()
	o := orch.New(corefakes.NewEngine(), metrics)
	ctl := signal.NewSignalWSController(o, app.NewRegistry(), app.SimplePolicy{}, nil, metrics, signal.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &routerEnv{r: SetupRouter(ctx, cfg, ctl, metrics), orch: o}
}

func (e *routerEnv) get(path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	e.r.ServeHTTP(w, req)
	return w
}

func TestRouter_IndexSetsClientToken(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "one2many")

	var token *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == clientTokenCookie {
			token = c
		}
	}
	require.NotNil(t, token)
	assert.NotEmpty(t, token.Value)
	assert.True(t, token.HttpOnly)

	// an existing token is kept
	w = env.get("/", &http.Cookie{Name: clientTokenCookie, Value: "known"})
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, clientTokenCookie, c.Name)
	}
}

func TestRouter_Status(t *testing.T) {
	env := newRouterEnv(t)

	w := env.get("/api/status")
	require.Equal(t, http.StatusOK, w.Code)
	var st statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.False(t, st.PresenterActive)
	assert.Zero(t, st.Viewers)

	id, err := env.orch.StartConference()
	require.NoError(t, err)
	_, err = env.orch.Presenter(context.Background(), "p", "O1", nopOutbox{})
	require.NoError(t, err)

	w = env.get("/api/status")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.PresenterActive)
	assert.True(t, st.EngineConnected)
	assert.Equal(t, string(id), st.ConferenceID)
}

func TestRouter_Metrics(t *testing.T) {
	env := newRouterEnv(t)
	_, err := env.orch.Viewer(context.Background(), "v", "O1", nopOutbox{})
	require.Error(t, err)

	w := env.get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `one2many_provisions_total{result="rejected",role="viewer"} 1`)
}

func TestRouter_WebSocketPath(t *testing.T) {
	env := newRouterEnv(t)
	srv := httptest.NewServer(env.r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/one2many"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	assert.Equal(t, "sessionStart", m["id"])
	assert.NotEmpty(t, m["sessionId"])

	assert.Equal(t, http.StatusNotFound, env.get("/api/ws/signal").Code)
}

type nopOutbox struct{}

func (nopOutbox) SendCandidate(webrtc.ICECandidateInit) {}
func (nopOutbox) SendStop()                             {}
