package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

const (
	clientTokenCookie = "ct"
	clientTokenKey    = "client_token"
	sessionStoreName  = "VideoSessions"
)

// Deps are the application services the HTTP layer drives.
type Deps struct {
	Registry  *app.Registry
	Tokens    core.TokenSource
	Limiter   *app.ConnectRateLimiter
	Providers app.ProviderConfig
	Policy    app.Policy
	// DefaultProvider is reported for clients that have no controller yet.
	DefaultProvider domain.ProviderName
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func clientID(c *gin.Context) app.ClientID {
	return app.ClientID(c.GetString(clientTokenKey))
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions(sessionStoreName, store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": deps.Registry.Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	h := &sessionAPI{deps: deps}
	api.GET("/session", h.snapshot)
	api.POST("/session/connect", h.connect)
	api.POST("/session/disconnect", h.disconnect)
	api.PUT("/session/microphone", h.microphone)
	api.PUT("/session/camera", h.camera)
	api.PUT("/session/provider", h.provider)

	events := &eventStream{
		registry:   deps.Registry,
		policy:     deps.Policy,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws events endpoint hit")
		events.handle(ctx, c)
	})

	return r
}
