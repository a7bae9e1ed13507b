// Package admin serves the astmd operational HTTP endpoints.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arloliu/go-astm/gateway"
)

// SessionLister reports the active gateway connections.
type SessionLister interface {
	Sessions() []gateway.SessionInfo
	Addr() net.Addr
}

// Server is the admin HTTP server.
type Server struct {
	srv *http.Server
}

// NewRouter registers /healthz, /readyz, /sessions and, when metrics is not
// nil, /metrics.
func NewRouter(sessions SessionLister, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if sessions == nil || sessions.Addr() != nil {
			c.String(http.StatusOK, "ready")
			return
		}
		c.String(http.StatusServiceUnavailable, "not-ready")
	})

	r.GET("/sessions", func(c *gin.Context) {
		list := []gateway.SessionInfo{}
		if sessions != nil {
			list = sessions.Sessions()
		}
		c.JSON(http.StatusOK, gin.H{"count": len(list), "sessions": list})
	})

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	return r
}

// New creates an admin server on addr.
func New(addr string, sessions SessionLister, metrics http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(sessions, metrics),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
