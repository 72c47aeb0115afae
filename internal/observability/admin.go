package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/danmuck/mtsession/internal/auth"
)

const version = "0.1.0"

// AdminHooks connect the admin surface to a running session without importing it.
type AdminHooks struct {
	// Status returns a JSON-encodable snapshot.
	Status func() any
	Ready  func() bool
	// Restart cycles the session. Nil disables the route.
	Restart func(ctx context.Context) error
}

type AdminConfig struct {
	Name        string
	Addr        string
	CORSOrigins []string
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
}

// Admin serves health, readiness, session status and prometheus metrics.
type Admin struct {
	cfg      AdminConfig
	hooks    AdminHooks
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
	srv      *http.Server
}

func NewAdmin(cfg AdminConfig, hooks AdminHooks) *Admin {
	RegisterMetrics()
	if cfg.Name == "" {
		cfg.Name = "sessionctl"
	}
	logger := ComponentLogger("admin")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(logger))
	r.Use(RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{cfg: cfg, hooks: hooks, router: r, log: logger, appeared: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler { return a.router }

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(a.appeared).String(),
			"component": a.cfg.Name,
			"version":   version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		ready := a.hooks.Ready != nil && a.hooks.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "component": a.cfg.Name})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/session", func(c *gin.Context) {
		if a.hooks.Status == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session attached"})
			return
		}
		c.JSON(http.StatusOK, a.hooks.Status())
	})

	if a.hooks.Restart != nil {
		handlers := []gin.HandlerFunc{}
		if a.cfg.Token != "" {
			handlers = append(handlers, auth.Require(auth.StaticToken{Token: a.cfg.Token}))
		}
		handlers = append(handlers, func(c *gin.Context) {
			if err := a.hooks.Restart(c.Request.Context()); err != nil {
				a.log.Error().Err(err).Msg("admin restart failed")
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			a.log.Info().Msg("session restarted from admin")
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		a.router.POST("/session/restart", handlers...)
	}
}

// Serve blocks until ctx ends, then shuts the listener down gracefully.
func (a *Admin) Serve(ctx context.Context) error {
	a.srv = &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("admin listening")
		errc <- a.srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
