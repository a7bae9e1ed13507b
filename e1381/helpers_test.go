package e1381

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/logger"
)

// peerTimeout bounds every read and write done by the simulated peer.
const peerTimeout = 2 * time.Second

// newTestConfig creates a SessionConfig with short timeouts suitable for tests.
func newTestConfig(t *testing.T, opts ...SessionOption) *SessionConfig {
	t.Helper()

	defaults := []SessionOption{
		WithReadTimeout(500 * time.Millisecond),
		WithWriteTimeout(time.Second),
		WithIdleTimeout(MinIdleTimeout),
		WithLogger(logger.NewSlogWriter(logger.ErrorLevel, false, io.Discard)),
	}

	cfg, err := NewSessionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

// newTestSession creates a session over the local end of net.Pipe().
// Returns the session and a peer driving the remote end.
func newTestSession(t *testing.T, role Role, cfg *SessionConfig) (*Session, *testPeer) {
	t.Helper()

	local, remote := newPipeConn(t)

	s, err := NewSession(NewStream(local), role, cfg)
	require.NoError(t, err)

	return s, newTestPeer(t, remote)
}

// newPipeConn creates a net.Pipe pair and registers cleanup.
func newPipeConn(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	local, remote := net.Pipe()
	t.Cleanup(func() {
		_ = local.Close()
		_ = remote.Close()
	})

	return local, remote
}

// testPeer plays the other side of the link, one step at a time.
type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *StreamReader
}

func newTestPeer(t *testing.T, conn net.Conn) *testPeer {
	r := NewStreamReader(conn)
	r.SetTimeout(peerTimeout)

	return &testPeer{t: t, conn: conn, r: r}
}

// write sends raw bytes, failing the test on error.
func (p *testPeer) write(data ...byte) {
	p.t.Helper()

	_ = p.conn.SetWriteDeadline(time.Now().Add(peerTimeout))
	if _, err := p.conn.Write(data); err != nil {
		p.t.Fatalf("peer write % X: %v", data, err)
	}
}

// writeFrame encodes and sends one frame.
func (p *testPeer) writeFrame(number int, payload string, term byte) {
	p.t.Helper()

	wire, err := EncodeFrame(number, []byte(payload), term)
	require.NoError(p.t, err)
	p.write(wire...)
}

// expect reads one byte and requires it to be want.
func (p *testPeer) expect(want byte) {
	p.t.Helper()

	b, err := p.r.ReadByte()
	require.NoError(p.t, err, "peer waiting for %s", ControlName(want))
	require.Equal(p.t, ControlName(want), ControlName(b))
}

// readFrame reads one complete frame and requires a valid checksum.
func (p *testPeer) readFrame() *Frame {
	p.t.Helper()

	p.expect(STX)

	f, sum, err := DecodeFrame(p.r, DefaultMaxScanLength)
	require.NoError(p.t, err)
	require.Equal(p.t, f.Checksum(), sum, "checksum of %s", f)

	return f
}

// expectSilence requires that nothing arrives within d.
func (p *testPeer) expectSilence(d time.Duration) {
	p.t.Helper()

	p.r.SetTimeout(d)
	defer p.r.SetTimeout(peerTimeout)

	b, err := p.r.ReadByte()
	require.ErrorIs(p.t, err, ErrReadTimeout, "unexpected byte %s", ControlName(b))
}

// runAsync runs fn in a goroutine and returns its result channel.
func runAsync[T any](fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{v, err}
	}()

	return ch
}

type result[T any] struct {
	val T
	err error
}

// await waits for an async result.
func await[T any](t *testing.T, ch <-chan result[T]) (T, error) {
	t.Helper()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session")
	}

	var zero T

	return zero, nil
}

// sendAsync runs Session.Send in a goroutine.
func sendAsync(s *Session, ctx context.Context, msg Message) <-chan result[struct{}] {
	return runAsync(func() (struct{}, error) {
		return struct{}{}, s.Send(ctx, msg)
	})
}

// receiveAsync runs Session.Receive in a goroutine.
func receiveAsync(s *Session, ctx context.Context) <-chan result[Message] {
	return runAsync(func() (Message, error) {
		return s.Receive(ctx)
	})
}

// sessionErr extracts the SessionError wrapped in err.
func sessionErr(t *testing.T, err error) *SessionError {
	t.Helper()

	var se *SessionError
	require.ErrorAs(t, err, &se)

	return se
}
