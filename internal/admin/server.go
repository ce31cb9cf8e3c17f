// Package admin exposes a local HTTP control surface for one link.
package admin

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/linkctl/internal/auth"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol/frame"
	"github.com/danmuck/linkctl/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Link is the part of session.Link the admin API drives.
type Link interface {
	State() session.State
	Stats() session.Stats
	Connect(ctx context.Context) error
	Disconnect() error
	Send(ctx context.Context, payload []byte) error
}

type Options struct {
	CORSOrigins []string
	// SendTimeout bounds POST /link/send and /link/connect writes.
	SendTimeout time.Duration
	// Limits caps the POST /link/send body and should match the link's
	// Limits. Zero takes the default; a negative MaxPayloadBytes reads the
	// whole body.
	Limits frame.Limits
	// Token, when set, is required as a bearer token on POST routes.
	Token string
}

func DefaultOptions() Options {
	return Options{
		SendTimeout: 2 * time.Second,
		Limits:      frame.DefaultLimits(),
	}
}

type Server struct {
	node    string
	link    Link
	opts    Options
	router  *gin.Engine
	started time.Time
}

func NewServer(node string, link Link, opts Options) *Server {
	def := DefaultOptions()
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = def.Limits
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logging.Component("admin")))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		node:    node,
		link:    link,
		opts:    opts,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"node":   s.node,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/link", func(c *gin.Context) {
		s.respondLink(c, http.StatusOK)
	})

	control := s.router.Group("/link", requireToken(auth.ForToken(s.opts.Token)))

	control.POST("/connect", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.SendTimeout)
		defer cancel()
		if err := s.link.Connect(ctx); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		s.respondLink(c, http.StatusAccepted)
	})

	control.POST("/disconnect", func(c *gin.Context) {
		if err := s.link.Disconnect(); err != nil {
			// the link is disconnected either way; report the failed Leave
			c.JSON(http.StatusOK, gin.H{
				"state":       s.link.State().String(),
				"leave_error": err.Error(),
			})
			return
		}
		s.respondLink(c, http.StatusOK)
	})

	control.POST("/send", func(c *gin.Context) {
		body, err := s.readPayload(c.Request.Body)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, frame.ErrPayloadTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.SendTimeout)
		defer cancel()
		if err := s.link.Send(ctx, body); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent", "bytes": len(body)})
	})
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := auth.BearerToken(c.GetHeader("Authorization"))
		if err := v.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// readPayload reads at most one byte past the cap so an oversize body is
// rejected without buffering all of it.
func (s *Server) readPayload(body io.Reader) ([]byte, error) {
	limit := s.opts.Limits.MaxPayloadBytes
	if limit < 0 {
		return io.ReadAll(body)
	}
	payload, err := io.ReadAll(io.LimitReader(body, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if err := frame.CheckPayload(payload, s.opts.Limits); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Server) respondLink(c *gin.Context, status int) {
	c.JSON(status, gin.H{
		"node":  s.node,
		"state": s.link.State().String(),
		"stats": s.link.Stats(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrLeaving):
		return http.StatusConflict
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// Serve listens on addr until ctx ends, then shuts the server down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	log := logging.Component("admin")
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("admin.Server.Serve shutdown failed")
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
