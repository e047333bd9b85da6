package frontend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/charlink/internal/auth"
	"github.com/danmuck/charlink/internal/link"
	"github.com/danmuck/charlink/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// AdminConfig configures the operator HTTP surface. An empty ListenAddr
// disables it.
type AdminConfig struct {
	ListenAddr   string
	CorsOrigins  []string
	Token        string
	QueryTimeout time.Duration
}

// Admin serves health, readiness, link status and metrics for one front-end.
type Admin struct {
	node      string
	link      *link.Supervisor
	router    *gin.Engine
	validator auth.Validator
	timeout   time.Duration
	started   time.Time
}

func NewAdmin(node string, cfg AdminConfig, sup *link.Supervisor) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AdminRequests(log.Logger, node, func() string { return sup.Status().State }))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		node:    node,
		link:    sup,
		router:  r,
		timeout: cfg.QueryTimeout,
		started: time.Now(),
	}
	if a.timeout <= 0 {
		a.timeout = 2 * time.Second
	}
	if strings.TrimSpace(cfg.Token) != "" {
		a.validator = auth.StaticToken{Token: strings.TrimSpace(cfg.Token)}
	}
	a.registerRoutes()
	return a
}

func (a *Admin) Router() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"node":    a.node,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		st := a.link.Status()
		ready := st.State == link.Ready.String()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready": ready,
			"state": st.State,
			"node":  a.node,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guarded := a.router.Group("/", a.requireToken())
	guarded.GET("/link", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.link.Status())
	})
	guarded.GET("/zones", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), a.timeout)
		defer cancel()
		zones, err := a.link.Zones(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"zones": zones})
	})
	guarded.GET("/sessions", func(c *gin.Context) {
		attached, online := a.link.Sessions().Counts()
		c.JSON(http.StatusOK, gin.H{"attached": attached, "online": online})
	})
}

// requireToken guards operator routes when a token is configured.
func (a *Admin) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.validator == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || a.validator.Validate(token) != nil {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("frontend.Admin unauthorized")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
