package rest

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
	"github.com/fraser-stanley/spooky-stock/internal/service/monitor"
	"github.com/fraser-stanley/spooky-stock/internal/service/ratelimit"
	"github.com/fraser-stanley/spooky-stock/internal/service/stock"
	"github.com/fraser-stanley/spooky-stock/internal/service/sweeper"
	"github.com/fraser-stanley/spooky-stock/internal/service/webhook"
)

const defaultReservationTTL = 30 * time.Minute

// Options задает параметры HTTP-сервера.
type Options struct {
	Logger         *log.Entry
	Limiter        *ratelimit.Limiter
	CronSecret     string
	WebhookSecret  string
	ReservationTTL time.Duration
}

// Option настраивает Server.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithLimiter включает rate limiting для checkout-инициации.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(opts *Options) {
		opts.Limiter = limiter
	}
}

// WithCronSecret задает shared secret для internal/cron endpoint'ов.
func WithCronSecret(secret string) Option {
	return func(opts *Options) {
		opts.CronSecret = secret
	}
}

// WithWebhookSecret задает signing secret платёжного провайдера.
func WithWebhookSecret(secret string) Option {
	return func(opts *Options) {
		opts.WebhookSecret = secret
	}
}

// WithReservationTTL задает время жизни резерва.
func WithReservationTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.ReservationTTL = ttl
	}
}

// Server — HTTP-обвязка ядра: checkout-операции, webhook платёжного
// провайдера и internal endpoint'ы для cron-вызовов.
type Server struct {
	engine       *stock.Engine
	coordinator  *webhook.Coordinator
	sweep        *sweeper.Sweeper
	monitor      *monitor.Monitor
	products     domain.ProductRepository
	reservations domain.ReservationRepository
	outbox       domain.OutboxRepository
	errorLog     domain.ErrorLogRepository
	limiter      *ratelimit.Limiter

	logger         *log.Entry
	cronSecret     string
	webhookSecret  string
	reservationTTL time.Duration
}

// NewServer создает Server поверх собранных сервисов.
func NewServer(
	engine *stock.Engine,
	coordinator *webhook.Coordinator,
	sweep *sweeper.Sweeper,
	mon *monitor.Monitor,
	products domain.ProductRepository,
	reservations domain.ReservationRepository,
	outbox domain.OutboxRepository,
	errorLog domain.ErrorLogRepository,
	options ...Option,
) *Server {
	opts := Options{ReservationTTL: defaultReservationTTL}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "rest-server")
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = defaultReservationTTL
	}

	return &Server{
		engine:         engine,
		coordinator:    coordinator,
		sweep:          sweep,
		monitor:        mon,
		products:       products,
		reservations:   reservations,
		outbox:         outbox,
		errorLog:       errorLog,
		limiter:        opts.Limiter,
		logger:         logger,
		cronSecret:     opts.CronSecret,
		webhookSecret:  opts.WebhookSecret,
		reservationTTL: opts.ReservationTTL,
	}
}

// Router собирает gin-маршруты сервера.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		checkout := api.Group("/checkout")
		checkout.POST("/reserve", s.rateLimited(), s.handleReserve)
		checkout.POST("/release", s.handleRelease)

		api.GET("/stock/:productID", s.handleStock)
		api.POST("/webhooks/stripe", s.handleStripeWebhook)

		internal := api.Group("/internal", s.requireCronSecret())
		internal.POST("/cleanup-reservations", s.handleCleanupReservations)
		internal.POST("/stock-monitor", s.handleStockMonitor)
		internal.POST("/emergency-cleanup", s.handleEmergencyCleanup)
	}

	return router
}

// clientIdentity определяет клиента для rate limiting: явный заголовок
// фронта, иначе адрес.
func clientIdentity(c *gin.Context) string {
	if id := c.GetHeader("x-client-id"); id != "" {
		return id
	}
	return c.ClientIP()
}

func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		if !s.limiter.Allow(clientIdentity(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   domain.ErrRateLimited.Error(),
			})
			return
		}
		c.Next()
	}
}

func (s *Server) requireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cronSecret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "cron secret is not configured"})
			return
		}
		provided := c.GetHeader("x-cron-secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cronSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
