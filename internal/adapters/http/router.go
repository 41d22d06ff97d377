package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openmentor/livesession/internal/adapters/signal"
	"github.com/openmentor/livesession/internal/chat"
	"github.com/openmentor/livesession/internal/config"
	"github.com/openmentor/livesession/internal/relay"
)

// ClientTokenMiddleware pins a per-browser connection id in a cookie so
// reconnects keep a stable ConnID within a session window.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, relaySrv *relay.Server, chatCtl *chat.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LiveSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Int("port", cfg.Port).Msg("router setup")

	api := r.Group("/api")

	wsCtl := signal.NewWSController(relaySrv, cfg)
	api.GET("/ws/signal", func(c *gin.Context) {
		wsCtl.HandleSignal(ctx, c)
	})

	live := api.Group("/live")
	live.GET("/events", chatCtl.OptionalAuth(), chatCtl.ListEvents)
	live.POST("/events", chatCtl.Protect(), chatCtl.CreateEvent)
	live.GET("/events/:id/chat", chatCtl.OptionalAuth(), chatCtl.GetChat)
	live.POST("/events/:id/chat", chatCtl.Protect(), chatCtl.PostChat)

	return r
}
