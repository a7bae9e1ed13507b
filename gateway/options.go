package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/logger"
)

// Default gateway values.
const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultReconnectInitial = 5 * time.Second
	DefaultReconnectMax     = 60 * time.Second
)

// ServerOption configures a Server.
type ServerOption interface {
	applyServer(*Server) error
}

type serverOptFunc func(*Server) error

func (f serverOptFunc) applyServer(s *Server) error { return f(s) }

// WithSessionOptions sets the options of every session the server runs.
func WithSessionOptions(opts ...e1381.SessionOption) ServerOption {
	return serverOptFunc(func(s *Server) error {
		s.sessOpts = append(s.sessOpts, opts...)

		return nil
	})
}

// WithMaxConns limits concurrent connections. Excess connections are closed
// right after accept. Zero means unlimited.
func WithMaxConns(n int) ServerOption {
	return serverOptFunc(func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("gateway: max conns %d must not be negative", n)
		}
		s.maxConns = n

		return nil
	})
}

// WithAcceptRate limits accepted connections to perSec with the given burst.
// Connections over the rate are closed right after accept.
func WithAcceptRate(perSec float64, burst int) ServerOption {
	return serverOptFunc(func(s *Server) error {
		if perSec <= 0 || burst <= 0 {
			return fmt.Errorf("gateway: accept rate %v/s burst %d must be positive", perSec, burst)
		}
		s.acceptRate, s.acceptBurst = perSec, burst

		return nil
	})
}

// WithPush sends a message as initiator on every new connection before
// serving it.
func WithPush(fn PushFunc) ServerOption {
	return serverOptFunc(func(s *Server) error {
		s.push = fn

		return nil
	})
}

// WithServerLogger sets the server logger. Sessions use it too unless a
// session logger is set through WithSessionOptions.
func WithServerLogger(l logger.Logger) ServerOption {
	return serverOptFunc(func(s *Server) error {
		if l == nil {
			return errors.New("gateway: logger must not be nil")
		}
		s.logger = l

		return nil
	})
}

// WithServerMetrics sets the metrics shared by all sessions of the server.
func WithServerMetrics(m *e1381.Metrics) ServerOption {
	return serverOptFunc(func(s *Server) error {
		s.metrics = m

		return nil
	})
}

// ClientOption configures a Client.
type ClientOption interface {
	applyClient(*Client) error
}

type clientOptFunc func(*Client) error

func (f clientOptFunc) applyClient(c *Client) error { return f(c) }

// WithClientSessionOptions sets the options of every session the client runs.
func WithClientSessionOptions(opts ...e1381.SessionOption) ClientOption {
	return clientOptFunc(func(c *Client) error {
		c.sessOpts = append(c.sessOpts, opts...)

		return nil
	})
}

// WithDialTimeout sets the connect timeout.
func WithDialTimeout(d time.Duration) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if d <= 0 {
			return errors.New("gateway: dial timeout must be positive")
		}
		c.dialTimeout = d

		return nil
	})
}

// WithReconnect sets the reconnect backoff of Listen: the first delay and
// the cap of the doubling sequence.
func WithReconnect(initial, maxDelay time.Duration) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if initial <= 0 || maxDelay < initial {
			return fmt.Errorf("gateway: reconnect delays %v..%v invalid", initial, maxDelay)
		}
		c.backoffInitial, c.backoffMax = initial, maxDelay

		return nil
	})
}

// WithClientLogger sets the client logger.
func WithClientLogger(l logger.Logger) ClientOption {
	return clientOptFunc(func(c *Client) error {
		if l == nil {
			return errors.New("gateway: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}

// WithClientMetrics sets the metrics shared by all sessions of the client.
func WithClientMetrics(m *e1381.Metrics) ClientOption {
	return clientOptFunc(func(c *Client) error {
		c.metrics = m

		return nil
	})
}

// sessionConfig builds the session config: logger and metrics first so that
// explicit session options win.
func sessionConfig(l logger.Logger, m *e1381.Metrics, opts []e1381.SessionOption) (*e1381.SessionConfig, error) {
	base := []e1381.SessionOption{e1381.WithLogger(l)}
	if m != nil {
		base = append(base, e1381.WithMetrics(m))
	}

	return e1381.NewSessionConfig(append(base, opts...)...)
}
