package e1381

import (
	"errors"
	"fmt"
)

// Sentinel errors for the E1381 protocol.
var (
	// Handshake and frame errors.
	ErrHandshakeRejected = errors.New("e1381: handshake rejected")
	ErrChecksumMismatch  = errors.New("e1381: checksum mismatch")
	ErrMalformedFrame    = errors.New("e1381: malformed frame")
	ErrInvalidFrame      = errors.New("e1381: invalid frame")
	ErrFrameSequence     = errors.New("e1381: unexpected frame number")
	ErrNakLimit          = errors.New("e1381: NAK retry limit exceeded")

	// Stream errors.
	ErrReadTimeout  = errors.New("e1381: read timeout")
	ErrIdleTimeout  = errors.New("e1381: idle timeout")
	ErrStreamClosed = errors.New("e1381: stream closed")
	ErrScanLimit    = errors.New("e1381: scan limit exceeded")

	// Session usage errors.
	ErrInvalidRole    = errors.New("e1381: operation not valid for session role")
	ErrInvalidState   = errors.New("e1381: operation not valid in session state")
	ErrTurnaroundUsed = errors.New("e1381: turnaround already used")

	// ErrCaptureFailed is returned together with a received message when
	// the capture sink rejected it. The message itself is valid.
	ErrCaptureFailed = errors.New("e1381: capture failed")
)

// SessionError is returned for every fatal session condition.
//
// It records the role and state at the time of failure together with the
// last bytes seen on the stream, which is usually what is needed to diagnose
// an interoperability issue with a real instrument.
type SessionError struct {
	Role   Role
	State  State
	Recent []byte
	Err    error
}

func (e *SessionError) Error() string {
	if len(e.Recent) == 0 {
		return fmt.Sprintf("%v (role=%s state=%s)", e.Err, e.Role, e.State)
	}

	return fmt.Sprintf("%v (role=%s state=%s recent=% X)", e.Err, e.Role, e.State, e.Recent)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
