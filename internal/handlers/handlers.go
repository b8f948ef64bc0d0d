package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"logingate/internal/audit"
	"logingate/internal/config"
	"logingate/internal/metrics"
	"logingate/internal/middleware"
	"logingate/internal/models"
	"logingate/internal/service"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Auth      *service.AuthService
	Sessions  *service.SessionManager
	Remember  *service.RememberService
	Publisher audit.Publisher
	Metrics   *metrics.Metrics
	Limiter   *middleware.IPRateLimiter
	DB        Pinger
	Cache     redis.UniversalClient
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	cookies     middleware.Cookies
	authService *service.AuthService
	sessions    *service.SessionManager
	remember    *service.RememberService
	publisher   audit.Publisher
	metrics     *metrics.Metrics
	limiter     *middleware.IPRateLimiter
	db          Pinger
	cache       redis.UniversalClient
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Dependencies) HandlerSet {
	return HandlerSet{
		log:         log,
		cfg:         cfg,
		cookies:     middleware.NewCookies(cfg.Security),
		authService: deps.Auth,
		sessions:    deps.Sessions,
		remember:    deps.Remember,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		limiter:     deps.Limiter,
		db:          deps.DB,
		cache:       deps.Cache,
	}
}

func (h HandlerSet) Register(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	router.GET("/login", h.LoginPage)
	router.POST("/login", middleware.RateLimit(h.limiter), h.Login)
	router.GET("/logout", h.Logout)
	router.GET("/reset_password", h.ResetPassword)

	protected := router.Group("/")
	protected.Use(middleware.Session(h.sessions, h.remember, h.cookies, h.publisher, h.log))
	{
		protected.GET("/", h.Dashboard)

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRoles(models.RoleAdmin))
		admin.GET("", h.AdminDashboard)
	}

	router.NoRoute(h.NotFound)
}

func (h HandlerSet) NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
}
