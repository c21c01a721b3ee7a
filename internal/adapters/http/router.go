package http

import (
	"context"
	"net/http"

	"github.com/dkeye/one2many/internal/adapters/signal"
	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenCookie = "ct"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long-lived token cookie.
// It only correlates logs; signaling sessions are keyed per socket.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type statusResponse struct {
	PresenterActive bool   `json:"presenterActive"`
	Viewers         int    `json:"viewers"`
	ConferenceID    string `json:"conferenceId,omitempty"`
	EngineConnected bool   `json:"engineConnected"`
	Sessions        int    `json:"sessions"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, metrics *app.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	secret := cfg.Secret
	if secret == "" {
		log.Warn().Str("module", "adapters.http").Msg("no session secret configured, using a random one")
		secret = uuid.NewString()
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions("one2many", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("ws", cfg.WSPath).Msg("router setup")

	r.GET(cfg.WSPath, func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		st := ctl.Orch.Snapshot()
		c.JSON(http.StatusOK, statusResponse{
			PresenterActive: st.PresenterActive,
			Viewers:         st.Viewers,
			ConferenceID:    string(st.ConferenceID),
			EngineConnected: st.EngineConnected,
			Sessions:        ctl.Registry.Count(),
		})
	})

	if reg := metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	return r
}
