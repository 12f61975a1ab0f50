// Package adminhttp is the optional admin/metrics HTTP surface shared by
// tlsrpt-collectd and tlsrpt-reportd: a health check and a Prometheus
// /metrics endpoint, rate-limited per client like the reference HTTP
// receiver's admin surface.
package adminhttp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"go.uber.org/zap"

	"github.com/andreasschulze/tlsrpt-reporter/internal/config"
	"github.com/andreasschulze/tlsrpt-reporter/internal/timeutil"
)

// Server is the admin HTTP surface: /health, /metrics and a root index
// listing them, nothing else.
// Neither collectd nor reportd accept report data over HTTP.
type Server struct {
	cfg    config.HTTPConfig
	name   string
	logger *zap.Logger
	server *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs an admin server for one daemon. name identifies the
// daemon in the root endpoint's response ("tlsrpt-collectd" or
// "tlsrpt-reportd").
func New(cfg config.HTTPConfig, name string, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		name:     name,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully. It returns nil if cfg.Enabled is false.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(s.recoveryMiddleware())
	router.Use(s.rateLimitMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/", s.handleRoot)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin http server starting", zap.String("address", addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in admin http handler", zap.Any("error", r))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				c.Abort()
			}
		}()
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RateLimit <= 0 {
			c.Next()
			return
		}
		ip := c.ClientIP()
		limiter := s.getLimiter(ip)
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) getLimiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(s.cfg.RateLimit)/60.0), s.cfg.RateBurst)
		s.limiters[ip] = l
	}
	return l
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": timeutil.Now().Format(time.RFC3339)})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":   s.name,
		"endpoints": map[string]string{"health": "/health", "metrics": "/metrics"},
	})
}
