package http

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/busboard/internal/adapters/signal"
	"github.com/dkeye/busboard/internal/app"
	"github.com/dkeye/busboard/internal/config"
	"github.com/dkeye/busboard/internal/domain"
	"github.com/dkeye/busboard/internal/storage"
)

const sessionName = "BusboardSession"

// Authenticator checks a username and password.
type Authenticator interface {
	Verify(username, password string) (domain.User, error)
}

// Deps are the collaborators the router serves.
type Deps struct {
	Hub      *app.Hub
	Auth     Authenticator
	Media    *storage.Client
	Signal   *signal.SignalWSController
	Gatherer prometheus.Gatherer
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags a browser with a long-lived token so its
// connections can be correlated in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// NoCacheMiddleware keeps browsers from caching anything but the login
// page and static assets.
func NoCacheMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/login") && !strings.HasPrefix(p, "/static") {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	r.Use(NoCacheMiddleware())

	h := &handlers{
		hub:   d.Hub,
		auth:  d.Auth,
		media: d.Media,
		audio: cfg.Audio,
	}

	r.Static("/static", cfg.StaticPath)
	r.GET("/login", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "login.html"))
	})
	r.POST("/login", h.loginForm)
	r.GET("/logout", h.logoutPage)

	pages := r.Group("/", h.requireSession(true))
	pages.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "index.html"))
	})
	pages.GET("/viewer", func(c *gin.Context) {
		c.File(filepath.Join(cfg.StaticPath, "viewer.html"))
	})

	audio := r.Group("/audio", h.requireSession(false))
	audio.GET("/announcement", h.streamRef(h.audio.Announcement))
	audio.GET("/booking", h.streamRef(h.audio.Booking))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.POST("/auth/login", h.loginJSON)
	api.POST("/auth/logout", h.logoutJSON)

	authed := api.Group("", h.requireSession(false))
	authed.GET("/auth/me", h.me)
	authed.GET("/state", h.state)
	authed.POST("/media", h.uploadMedia)
	authed.GET("/media/*ref", h.getMedia)
	authed.DELETE("/media/*ref", h.deleteMedia)

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws endpoint hit")
		d.Signal.HandleSignal(ctx, c, sessionCredentials(c))
	})

	r.GET("/health", h.health)
	if cfg.MetricsPath != "" && d.Gatherer != nil {
		r.GET(cfg.MetricsPath, gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
