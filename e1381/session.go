package e1381

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-astm/logger"
)

// driver runs one role's state machine to completion.
//
// The initiator and responder roles are the two implementations. Both share
// the session's stream, codec and error handling; only the byte sequencing
// differs.
type driver interface {
	drive(ctx context.Context, s *Session) (Message, error)
}

// ReplyFunc produces the turnaround reply for a received message. Returning
// an empty message means no reply.
type ReplyFunc func(ctx context.Context, msg Message) (Message, error)

// Session is one E1381 exchange over one connected stream.
//
// A session runs exactly one handshake-transfer-EOT cycle in its role,
// optionally followed by one turnaround cycle in the opposite role, and is
// then discarded. No state carries over to the next session on the same
// stream.
//
// Session methods that drive the protocol must not be called concurrently.
// The observers (ID, Role, State, Peer) are safe to call from any goroutine.
type Session struct {
	id      string
	stream  *Stream
	cfg     *SessionConfig
	logger  logger.Logger
	metrics *Metrics

	mu         sync.RWMutex
	role       Role
	state      State
	turnedOver bool
	retryCount int
	started    time.Time

	// lastProgress is the time of the last protocol event (ENQ, frame, EOT).
	// The responder idle timeout is measured against it.
	lastProgress time.Time
}

// NewSession creates a session bound to st in the given role.
//
// If cfg is nil, a default configuration is used.
func NewSession(st *Stream, role Role, cfg *SessionConfig) (*Session, error) {
	if st == nil {
		return nil, errors.New("e1381: stream is nil")
	}

	if role != RoleInitiator && role != RoleResponder {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}

	if cfg == nil {
		var err error
		if cfg, err = NewSessionConfig(); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	st.SetWriteTimeout(cfg.writeTimeout)

	s := &Session{
		id:      id,
		stream:  st,
		cfg:     cfg,
		metrics: cfg.metrics,
		role:    role,
		state:   StateIdle,
		started: time.Now(),
	}
	s.logger = cfg.logger.With("sessionID", id, "peer", st.Peer())

	return s, nil
}

// ID returns the unique session ID.
func (s *Session) ID() string { return s.id }

// Peer returns the remote address of the stream, or "" when unknown.
func (s *Session) Peer() string { return s.stream.Peer() }

// Started returns the session creation time.
func (s *Session) Started() time.Time { return s.started }

// Role returns the current role.
func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.role
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// RetryCount returns the retransmissions of the frame last sent.
func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.retryCount
}

// TurnedAround reports whether the turnaround has been used.
func (s *Session) TurnedAround() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.turnedOver
}

// Send transmits msg. The session must be an idle initiator.
func (s *Session) Send(ctx context.Context, msg Message) error {
	if err := s.checkStart(RoleInitiator); err != nil {
		return err
	}

	_, err := s.run(ctx, &initiatorDriver{msg: msg})

	return err
}

// Receive waits for the peer to open an exchange and returns the
// reassembled message. The session must be an idle responder.
//
// A peer that opens with EOT yields an empty message and no error.
func (s *Session) Receive(ctx context.Context) (Message, error) {
	if err := s.checkStart(RoleResponder); err != nil {
		return nil, err
	}

	return s.run(ctx, &responderDriver{openWindow: s.cfg.idleTimeout})
}

// Turnaround swaps the session role so that the same stream can carry the
// reply. It is only valid once the current exchange is Done and can be used
// once per session.
func (s *Session) Turnaround() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.turnedOver {
		return ErrTurnaroundUsed
	}

	if s.state != StateDone {
		return fmt.Errorf("%w: turnaround in %s", ErrInvalidState, s.state)
	}

	prev := s.role
	s.role = prev.Opposite()
	s.state = StateIdle
	s.retryCount = 0
	s.turnedOver = true

	s.logger.Debug("e1381: turnaround", "from", prev, "to", s.role)

	return nil
}

// Exchange sends msg as initiator, turns around and waits for the reply.
//
// The reply wait is bounded by the read timeout. A peer that stays silent
// or closes the connection instead of opening a reply yields an empty reply
// and no error, since a reply is optional.
func (s *Session) Exchange(ctx context.Context, msg Message) (Message, error) {
	if err := s.Send(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.Turnaround(); err != nil {
		return nil, err
	}

	reply, err := s.run(ctx, &responderDriver{openWindow: s.cfg.readTimeout})
	if err != nil && isNoReply(err) {
		s.logger.Debug("e1381: no reply after turnaround", "error", err)

		return Message{}, nil
	}

	return reply, err
}

// Serve receives one message as responder and, when reply returns a
// non-empty message, turns around and sends it on the same stream.
//
// The received message is returned even when sending the reply fails.
func (s *Session) Serve(ctx context.Context, reply ReplyFunc) (Message, error) {
	msg, err := s.Receive(ctx)
	if err != nil && !errors.Is(err, ErrCaptureFailed) {
		return msg, err
	}

	if reply == nil || msg.IsEmpty() {
		return msg, err
	}

	resp, rerr := reply(ctx, msg)
	if rerr != nil {
		return msg, fmt.Errorf("e1381: reply: %w", rerr)
	}

	if resp.IsEmpty() {
		return msg, err
	}

	if terr := s.Turnaround(); terr != nil {
		return msg, terr
	}

	s.logger.Info("e1381: sending reply after turnaround", "records", len(resp.Records()))

	if serr := s.Send(ctx, resp); serr != nil {
		return msg, serr
	}

	return msg, err
}

// --- State machine plumbing ---

func (s *Session) checkStart(role Role) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.role != role {
		return fmt.Errorf("%w: %s session cannot act as %s", ErrInvalidRole, s.role, role)
	}

	if s.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrInvalidState, s.state)
	}

	return nil
}

func (s *Session) run(ctx context.Context, d driver) (Message, error) {
	s.metrics.incActiveSessions()
	defer s.metrics.decActiveSessions()

	// Cancellation unblocks a pending read by expiring its deadline.
	s.stream.resume()
	stop := context.AfterFunc(ctx, s.stream.interrupt)
	defer stop()

	s.touch()

	return d.drive(ctx, s)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setRetryCount(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
}

// touch records protocol progress for the idle timeout.
func (s *Session) touch() {
	s.lastProgress = time.Now()
}

// sinceProgress returns the time elapsed since the last protocol progress.
func (s *Session) sinceProgress() time.Duration {
	return time.Since(s.lastProgress)
}

// fail moves the session into a terminal state and wraps err with the
// diagnostic context of the failure.
func (s *Session) fail(terminal State, err error) error {
	s.mu.Lock()
	se := &SessionError{
		Role:   s.role,
		State:  s.state,
		Recent: s.stream.reader.Recent(),
		Err:    err,
	}
	s.state = terminal
	s.mu.Unlock()

	if terminal == StateIdleTimeoutClose {
		s.metrics.incIdleTimeoutCount()
		s.logger.Info("e1381: idle timeout, closing session",
			"idleTimeout", s.cfg.idleTimeout,
			"state", se.State)

		return se
	}

	s.metrics.incSessionErrCount()
	s.logger.Warn("e1381: session aborted",
		"role", se.Role,
		"state", se.State,
		"terminal", terminal,
		"recent", fmt.Sprintf("% X", se.Recent),
		"error", err)

	return se
}

// ioErr prefers the context error when the context ended the read.
func (s *Session) ioErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}

func (s *Session) writeControl(b byte) error {
	if err := s.stream.WriteByte(b); err != nil {
		return err
	}

	s.logger.Debug("e1381: >>> " + ControlName(b))

	return nil
}

// isNoReply reports whether err means the peer never opened a reply.
func isNoReply(err error) bool {
	var se *SessionError
	if !errors.As(err, &se) || se.State != StateAwaitEnq {
		return false
	}

	return errors.Is(err, ErrIdleTimeout) || errors.Is(err, ErrStreamClosed)
}
