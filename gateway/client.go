package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/internal/pool"
	"github.com/arloliu/go-astm/logger"
)

// Client dials an E1381 peer.
type Client struct {
	addr string

	sessOpts       []e1381.SessionOption
	dialTimeout    time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration
	logger         logger.Logger
	metrics        *e1381.Metrics

	cfg *e1381.SessionConfig
}

// NewClient creates a client for the peer at addr (host:port).
func NewClient(addr string, opts ...ClientOption) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("gateway: invalid address %q: %w", addr, err)
	}

	c := &Client{
		addr:           addr,
		dialTimeout:    DefaultDialTimeout,
		backoffInitial: DefaultReconnectInitial,
		backoffMax:     DefaultReconnectMax,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.applyClient(c); err != nil {
			return nil, err
		}
	}

	cfg, err := sessionConfig(c.logger, c.metrics, c.sessOpts)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg

	return c, nil
}

// Send connects, transmits msg as initiator and waits for the optional
// reply. The connection is closed afterwards.
func (c *Client) Send(ctx context.Context, msg e1381.Message) (e1381.Message, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	sess, err := e1381.NewSession(e1381.NewStream(conn), e1381.RoleInitiator, c.cfg)
	if err != nil {
		return nil, err
	}

	return sess.Exchange(ctx, msg)
}

// Listen connects and serves the connection as responder, passing every
// message to h. When the connection ends it reconnects with exponential
// backoff. Listen returns when ctx ends.
func (c *Client) Listen(ctx context.Context, h Handler) error {
	if h == nil {
		h = Discard
	}

	backoff := &pool.Backoff{Initial: c.backoffInitial, Max: c.backoffMax}

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			// A successful connect starts the next outage from the first delay.
			backoff.Reset()

			received := c.serve(ctx, conn, h)
			c.logger.Info("gateway: connection ended", "address", c.addr, "received", received)
		} else {
			c.logger.Warn("gateway: connect failed", "address", c.addr, "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		c.logger.Info("gateway: reconnecting", "address", c.addr, "delay", delay)

		if err := pool.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// serve runs responder sessions until the connection ends and returns the
// number of messages received.
func (c *Client) serve(ctx context.Context, conn net.Conn, h Handler) int {
	defer conn.Close()

	// Closing the connection unblocks the session when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	info := ConnInfo{
		ConnID:    uuid.NewString(),
		Peer:      conn.RemoteAddr().String(),
		Connected: time.Now(),
	}
	log := c.logger.With("connID", info.ConnID, "peer", info.Peer)
	log.Info("gateway: connected")

	st := e1381.NewStream(conn)
	received := 0

	for ctx.Err() == nil {
		sess, err := e1381.NewSession(st, e1381.RoleResponder, c.cfg)
		if err != nil {
			log.Error("gateway: failed to create session", "error", err)

			return received
		}
		info.SessionID = sess.ID()

		msg, err := sess.Serve(ctx, func(ctx context.Context, msg e1381.Message) (e1381.Message, error) {
			reply, herr := h.HandleMessage(ctx, info, msg)
			if herr != nil {
				log.Error("gateway: handler failed", "sessionID", info.SessionID, "error", herr)

				return nil, nil
			}

			return reply, nil
		})
		if !msg.IsEmpty() {
			received++
		}

		if err != nil && !errors.Is(err, e1381.ErrCaptureFailed) {
			if errors.Is(err, e1381.ErrIdleTimeout) || errors.Is(err, e1381.ErrStreamClosed) {
				log.Info("gateway: connection ended", "reason", err)
			} else {
				log.Warn("gateway: session failed", "sessionID", sess.ID(), "error", err)
			}

			return received
		}
	}

	return received
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}

	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", c.addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetNoDelay(true)
	}

	return conn, nil
}
