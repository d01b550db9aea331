package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app"
	"github.com/dkeye/videoroom/internal/domain"
)

type ConnectRequest struct {
	SessionID string `json:"session_id"`
	RoomURL   string `json:"room_url"`
	Name      string `json:"name"`
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type ProviderRequest struct {
	Name string `json:"name"`
}

type SessionResponse struct {
	app.Snapshot
	SessionID string `json:"session_id,omitempty"`
}

type sessionAPI struct {
	deps Deps
}

func (h *sessionAPI) respond(c *gin.Context, ctrl *app.SessionController) {
	sess := sessions.Default(c)
	sid, _ := sess.Get("session_id").(string)
	c.JSON(http.StatusOK, SessionResponse{Snapshot: ctrl.Snapshot(), SessionID: sid})
}

// snapshot never creates a controller; an unknown client gets the idle read model.
func (h *sessionAPI) snapshot(c *gin.Context) {
	if ctrl, ok := h.deps.Registry.Get(clientID(c)); ok {
		h.respond(c, ctrl)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Snapshot: app.Snapshot{
		Provider: h.deps.DefaultProvider,
		State:    domain.StateDisconnected,
		Remotes:  []domain.Participant{},
	}})
}

func (h *sessionAPI) connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid session_id"})
		return
	}
	if req.RoomURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrMissingRoomURL.Error()})
		return
	}

	id := clientID(c)
	if h.deps.Limiter != nil && !h.deps.Limiter.Allow(id) {
		log.Warn().Str("module", "adapters.http").Str("client", string(id)).Msg("connect rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connect attempts"})
		return
	}
	if h.deps.Tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no token source configured"})
		return
	}

	ctx := c.Request.Context()
	token, err := h.deps.Tokens.Token(ctx, bearer(c), req.SessionID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("session_id", req.SessionID).Msg("token fetch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	ctrl := h.deps.Registry.GetOrCreate(id)
	if err := ctrl.Connect(ctx, token, domain.JoinOptions{URL: req.RoomURL, Name: req.Name}); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	sess := sessions.Default(c)
	sess.Set("session_id", req.SessionID)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
	h.respond(c, ctrl)
}

func (h *sessionAPI) disconnect(c *gin.Context) {
	ctrl := h.deps.Registry.GetOrCreate(clientID(c))
	if err := ctrl.Disconnect(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	sess := sessions.Default(c)
	sess.Delete("session_id")
	_ = sess.Save()
	h.respond(c, ctrl)
}

func (h *sessionAPI) microphone(c *gin.Context) {
	h.toggle(c, (*app.SessionController).SetMicrophoneEnabled)
}

func (h *sessionAPI) camera(c *gin.Context) {
	h.toggle(c, (*app.SessionController).SetCameraEnabled)
}

func (h *sessionAPI) toggle(c *gin.Context, set func(*app.SessionController, context.Context, bool) error) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid enabled"})
		return
	}
	ctrl := h.deps.Registry.GetOrCreate(clientID(c))
	if err := set(ctrl, c.Request.Context(), *req.Enabled); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.respond(c, ctrl)
}

func (h *sessionAPI) provider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}

	name := app.ResolveProviderName(req.Name)
	p, err := app.NewProvider(name, h.deps.Providers)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctrl := h.deps.Registry.GetOrCreate(clientID(c))
	if err := ctrl.SetProvider(c.Request.Context(), p); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("leave on provider swap")
	}
	h.respond(c, ctrl)
}

func bearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoRoom):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingRoomURL), errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
