// Package httpapi exposes quoting over HTTP: stateless quotes, keyed
// sessions that follow a customer through the booking form, and receipts.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"quote-engine/internal/dispatch"
	"quote-engine/internal/quote"
	"quote-engine/internal/tier"
	"quote-engine/pkg/api"
)

// Sessions is implemented by *session.Manager.
type Sessions interface {
	NewID() string
	Open(ctx context.Context, id string) (*quote.Store, error)
	// Acquire is Open plus exclusive access until release is called.
	Acquire(ctx context.Context, id string) (store *quote.Store, release func(), err error)
	Save(ctx context.Context, id string, store *quote.Store) error
	Drop(ctx context.Context, id string) error
}

// Limiter is implemented by *redis.Client from pkg/redis.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// TrustedProxies may set X-Forwarded-For. Nil trusts none and the
	// client IP is the peer address.
	TrustedProxies []string

	// Limiter is optional. Limit requests per Window are allowed per client IP.
	Limiter Limiter
	Limit   int64
	Window  time.Duration
}

type Server struct {
	dispatcher *dispatch.Dispatcher
	evaluator  *tier.Evaluator
	sessions   Sessions
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

func NewServer(dispatcher *dispatch.Dispatcher, evaluator *tier.Evaluator, sessions Sessions, opts Options, logger *zap.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		evaluator:  evaluator,
		sessions:   sessions,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	if err := router.SetTrustedProxies(s.opts.TrustedProxies); err != nil {
		s.logger.Warn("Ignoring invalid trusted proxies", zap.Strings("proxies", s.opts.TrustedProxies), zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), s.requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(s.opts.AllowedOrigins) == 0 || (len(s.opts.AllowedOrigins) == 1 && s.opts.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.opts.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := router.Group("/v1", s.timeout(), s.rateLimit())
	{
		v1.GET("/capabilities", s.capabilities)
		v1.POST("/quotes", s.createQuote)

		v1.POST("/sessions", s.createSession)
		v1.GET("/sessions/:id", s.getSession)
		v1.PATCH("/sessions/:id", s.patchSession)
		v1.POST("/sessions/:id/confirm", s.confirmSession)
		v1.GET("/sessions/:id/receipt", s.sessionReceipt)
		v1.DELETE("/sessions/:id", s.checkoutSession)
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) timeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// rateLimit fails open when the limiter itself errors.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Limiter == nil || s.opts.Limit <= 0 {
			c.Next()
			return
		}
		allowed, err := s.opts.Limiter.Allow(c.Request.Context(), c.ClientIP(), s.opts.Limit, s.opts.Window)
		if err != nil {
			s.logger.Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
