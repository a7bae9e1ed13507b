package gateway

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/internal/pool"
	"github.com/arloliu/go-astm/logger"
)

// ErrServerClosed is returned by Start after Shutdown.
var ErrServerClosed = errors.New("gateway: server closed")

// acceptRetryDelay is the pause after a failed Accept.
const acceptRetryDelay = 50 * time.Millisecond

// Server accepts E1381 connections and serves them as responder.
type Server struct {
	addr    string
	handler Handler

	sessOpts    []e1381.SessionOption
	maxConns    int
	acceptRate  float64
	acceptBurst int
	push        PushFunc
	logger      logger.Logger
	metrics     *e1381.Metrics

	cfg     *e1381.SessionConfig
	limiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc

	conns    *xsync.MapOf[string, *serverConn]
	wg       sync.WaitGroup
	shutdown atomic.Bool
	rejected atomic.Uint64
}

// serverConn is one accepted connection.
type serverConn struct {
	id        string
	conn      net.Conn
	peer      string
	connected time.Time
	session   atomic.Pointer[e1381.Session]
	sessions  atomic.Uint64
}

// SessionInfo is a snapshot of one active connection.
type SessionInfo struct {
	ConnID    string    `json:"connId"`
	Peer      string    `json:"peer"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	Connected time.Time `json:"connected"`
	Sessions  uint64    `json:"sessions"`
}

// NewServer creates a server listening on addr once started.
// A nil handler discards every message.
func NewServer(addr string, handler Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		handler = Discard
	}

	s := &Server{
		addr:    addr,
		handler: handler,
		logger:  logger.GetLogger(),
		conns:   xsync.NewMapOf[string, *serverConn](),
	}

	for _, opt := range opts {
		if err := opt.applyServer(s); err != nil {
			return nil, err
		}
	}

	cfg, err := sessionConfig(s.logger, s.metrics, s.sessOpts)
	if err != nil {
		return nil, err
	}
	s.cfg = cfg

	if s.acceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.acceptRate), s.acceptBurst)
	}

	return s, nil
}

// Start opens the listener and accepts connections in the background until
// Shutdown is called or ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.logger.Error("gateway: failed to listen", "address", s.addr, "error", err)

		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("gateway: listening", "address", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)

	// Ending ctx stops the server the same way Shutdown does.
	context.AfterFunc(ctx, func() { s.stop() })

	return nil
}

// Addr returns the listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Sessions returns a snapshot of the active connections, oldest first.
func (s *Server) Sessions() []SessionInfo {
	out := make([]SessionInfo, 0, s.conns.Size())

	s.conns.Range(func(_ string, sc *serverConn) bool {
		info := SessionInfo{
			ConnID:    sc.id,
			Peer:      sc.peer,
			Connected: sc.connected,
			Sessions:  sc.sessions.Load(),
		}

		if sess := sc.session.Load(); sess != nil {
			info.SessionID = sess.ID()
			info.Role = sess.Role().String()
			info.State = sess.State().String()
		}

		out = append(out, info)

		return true
	})

	slices.SortFunc(out, func(a, b SessionInfo) int {
		return a.Connected.Compare(b.Connected)
	})

	return out
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	return s.conns.Size()
}

// Rejected returns the number of connections closed by the connection or
// accept-rate limits.
func (s *Server) Rejected() uint64 {
	return s.rejected.Load()
}

// Shutdown stops accepting, closes every connection and waits for the
// connection goroutines to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gateway: server stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) stop() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	ln, cancel := s.listener, s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if ln != nil {
		_ = ln.Close()
	}

	// Closing unblocks any read in progress.
	s.conns.Range(func(_ string, sc *serverConn) bool {
		_ = sc.conn.Close()

		return true
	})
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() || ctx.Err() != nil {
				return
			}

			s.logger.Warn("gateway: accept failed", "error", err)

			if pool.Sleep(ctx, acceptRetryDelay) != nil {
				return
			}

			continue
		}

		if !s.admit(conn) {
			continue
		}

		sc := &serverConn{
			id:        uuid.NewString(),
			conn:      conn,
			peer:      conn.RemoteAddr().String(),
			connected: time.Now(),
		}
		s.conns.Store(sc.id, sc)

		// A connection accepted while stopping must not outlive Shutdown.
		if s.shutdown.Load() {
			s.conns.Delete(sc.id)
			_ = conn.Close()

			return
		}

		s.wg.Add(1)
		go s.serveConn(ctx, sc)
	}
}

// admit applies the accept-rate and connection limits.
func (s *Server) admit(conn net.Conn) bool {
	reason := ""

	switch {
	case s.limiter != nil && !s.limiter.Allow():
		reason = "accept rate exceeded"
	case s.maxConns > 0 && s.conns.Size() >= s.maxConns:
		reason = "connection limit reached"
	default:
		return true
	}

	s.rejected.Add(1)
	s.logger.Warn("gateway: rejecting connection",
		"remoteAddr", conn.RemoteAddr().String(),
		"reason", reason)
	_ = conn.Close()

	return false
}

// serveConn runs sessions back to back on one connection.
func (s *Server) serveConn(ctx context.Context, sc *serverConn) {
	defer s.wg.Done()
	defer s.conns.Delete(sc.id)
	defer sc.conn.Close()

	log := s.logger.With("connID", sc.id, "peer", sc.peer)
	log.Info("gateway: connection accepted")

	st := e1381.NewStream(sc.conn)

	if s.push != nil {
		if err := s.pushMessage(ctx, st, sc, log); err != nil {
			log.Info("gateway: connection closed", "sessions", sc.sessions.Load(), "reason", err)

			return
		}
	}

	for ctx.Err() == nil {
		sess, err := e1381.NewSession(st, e1381.RoleResponder, s.cfg)
		if err != nil {
			log.Error("gateway: failed to create session", "error", err)

			return
		}
		sc.session.Store(sess)

		info := sc.info(sess)
		var handlerErr error

		msg, err := sess.Serve(ctx, func(ctx context.Context, msg e1381.Message) (e1381.Message, error) {
			reply, herr := s.handler.HandleMessage(ctx, info, msg)
			if herr != nil {
				handlerErr = herr
				log.Error("gateway: handler failed", "sessionID", sess.ID(), "error", herr)

				return nil, nil
			}

			return reply, nil
		})
		sc.sessions.Add(1)

		if !s.keepServing(log, sess, msg, err, handlerErr) {
			log.Info("gateway: connection closed", "sessions", sc.sessions.Load())

			return
		}
	}
}

// keepServing decides whether the connection survives a finished session.
func (s *Server) keepServing(log logger.Logger, sess *e1381.Session, msg e1381.Message, err, handlerErr error) bool {
	switch {
	case err == nil:
		log.Debug("gateway: session done",
			"sessionID", sess.ID(),
			"records", len(msg.Records()),
			"handlerFailed", handlerErr != nil)

		return true

	case errors.Is(err, e1381.ErrCaptureFailed):
		// The message was received; the sink error is already logged.
		return true

	case errors.Is(err, e1381.ErrIdleTimeout):
		log.Info("gateway: peer idle, closing connection", "sessionID", sess.ID())

		return false

	case errors.Is(err, e1381.ErrStreamClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		log.Debug("gateway: session ended", "sessionID", sess.ID(), "error", err)

		return false

	default:
		log.Warn("gateway: session failed, closing connection", "sessionID", sess.ID(), "error", err)

		return false
	}
}

// pushMessage sends the push message as initiator.
func (s *Server) pushMessage(ctx context.Context, st *e1381.Stream, sc *serverConn, log logger.Logger) error {
	sess, err := e1381.NewSession(st, e1381.RoleInitiator, s.cfg)
	if err != nil {
		return err
	}
	sc.session.Store(sess)

	msg := s.push(ctx, sc.info(sess))
	if msg.IsEmpty() {
		return nil
	}

	if err := sess.Send(ctx, msg); err != nil {
		log.Warn("gateway: push failed", "sessionID", sess.ID(), "error", err)

		return err
	}

	sc.sessions.Add(1)

	return nil
}

func (sc *serverConn) info(sess *e1381.Session) ConnInfo {
	return ConnInfo{
		ConnID:    sc.id,
		SessionID: sess.ID(),
		Peer:      sc.peer,
		Connected: sc.connected,
	}
}
