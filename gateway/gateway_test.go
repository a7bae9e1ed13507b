package gateway

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/logger"
)

var (
	testResult = e1381.NewMessage(`H|\^&|||GeneXpert`, `R|1|^^^HBV|42|IU/mL`, `L|1|N`)
	testAck    = e1381.NewMessage(`H|\^&|||LIS`, `L|1|N`)
)

func quietLogger() logger.Logger {
	return logger.NewSlogWriter(logger.ErrorLevel, false, io.Discard)
}

// collector is a Handler recording every message.
type collector struct {
	mu    sync.Mutex
	msgs  []e1381.Message
	infos []ConnInfo
	reply e1381.Message
}

func (c *collector) HandleMessage(_ context.Context, info ConnInfo, msg e1381.Message) (e1381.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgs = append(c.msgs, msg)
	c.infos = append(c.infos, info)

	return c.reply, nil
}

func (c *collector) messages() []e1381.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]e1381.Message(nil), c.msgs...)
}

func startServer(t *testing.T, h Handler, opts ...ServerOption) *Server {
	t.Helper()

	base := []ServerOption{
		WithServerLogger(quietLogger()),
		WithSessionOptions(e1381.WithReadTimeout(time.Second)),
	}

	srv, err := NewServer("127.0.0.1:0", h, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return srv
}

func newTestClient(t *testing.T, addr string, opts ...ClientOption) *Client {
	t.Helper()

	base := []ClientOption{
		WithClientLogger(quietLogger()),
		WithDialTimeout(time.Second),
		WithClientSessionOptions(e1381.WithReadTimeout(time.Second)),
	}

	c, err := NewClient(addr, append(base, opts...)...)
	require.NoError(t, err)

	return c
}

func dialRaw(t *testing.T, srv *Server) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// expectClosed requires the server to close conn within d.
func expectClosed(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, err := conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestServer_SendWithReply(t *testing.T) {
	require := require.New(t)

	metrics := &e1381.Metrics{}
	h := &collector{reply: testAck}
	srv := startServer(t, h, WithServerMetrics(metrics))
	client := newTestClient(t, srv.Addr().String())

	reply, err := client.Send(context.Background(), testResult)
	require.NoError(err)
	require.Equal(testAck.Records(), reply.Records())

	msgs := h.messages()
	require.Len(msgs, 1)
	require.Equal(testResult.Records(), msgs[0].Records())
	h.mu.Lock()
	info := h.infos[0]
	h.mu.Unlock()
	require.NotEmpty(info.SessionID)
	require.NotEmpty(info.ConnID)

	require.EqualValues(1, metrics.MsgRecvCount.Load())
	require.Eventually(func() bool { return metrics.MsgSendCount.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_SendWithoutReply(t *testing.T) {
	require := require.New(t)

	h := &collector{}
	srv := startServer(t, h)
	client := newTestClient(t, srv.Addr().String(),
		WithClientSessionOptions(e1381.WithReadTimeout(200*time.Millisecond)))

	reply, err := client.Send(context.Background(), testResult)
	require.NoError(err)
	require.True(reply.IsEmpty())
	require.Eventually(func() bool { return len(h.messages()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_SessionsBackToBack(t *testing.T) {
	require := require.New(t)

	h := &collector{}
	srv := startServer(t, h)
	conn := dialRaw(t, srv)

	cfg, err := e1381.NewSessionConfig(e1381.WithLogger(quietLogger()))
	require.NoError(err)

	st := e1381.NewStream(conn)
	for i := range 3 {
		sess, err := e1381.NewSession(st, e1381.RoleInitiator, cfg)
		require.NoError(err)
		require.NoError(sess.Send(context.Background(), e1381.NewMessage("H|\\^&", "L|"+string(rune('1'+i)))), "session %d", i)
	}

	require.Eventually(func() bool {
		sessions := srv.Sessions()
		return len(sessions) == 1 && sessions[0].Sessions == 3 && sessions[0].State == "AWAIT_ENQ"
	}, 2*time.Second, 10*time.Millisecond)

	require.Len(h.messages(), 3)
	require.Equal("responder", srv.Sessions()[0].Role)
}

func TestServer_CaptureSink(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	var captured []e1381.Capture
	sink := e1381.CaptureSinkFunc(func(_ context.Context, c e1381.Capture) error {
		mu.Lock()
		defer mu.Unlock()
		captured = append(captured, c)

		return nil
	})

	srv := startServer(t, Discard, WithSessionOptions(e1381.WithCaptureSink(sink)))
	client := newTestClient(t, srv.Addr().String(),
		WithClientSessionOptions(e1381.WithReadTimeout(200*time.Millisecond), e1381.WithFramePerRecord(true)))

	_, err := client.Send(context.Background(), testResult)
	require.NoError(err)

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(captured) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(testResult.CaptureBytes(), captured[0].Data)
}

func TestServer_IdleConnectionClosed(t *testing.T) {
	srv := startServer(t, Discard, WithSessionOptions(
		e1381.WithReadTimeout(e1381.MinReadTimeout),
		e1381.WithIdleTimeout(e1381.MinIdleTimeout),
	))

	conn := dialRaw(t, srv)
	expectClosed(t, conn, 3*time.Second)

	require.Eventually(t, func() bool { return len(srv.Sessions()) == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_MaxConns(t *testing.T) {
	require := require.New(t)

	srv := startServer(t, Discard, WithMaxConns(1))

	dialRaw(t, srv)
	require.Eventually(func() bool { return len(srv.Sessions()) == 1 }, time.Second, 10*time.Millisecond)

	second := dialRaw(t, srv)
	expectClosed(t, second, time.Second)
	require.EqualValues(1, srv.Rejected())
}

func TestServer_AcceptRate(t *testing.T) {
	require := require.New(t)

	srv := startServer(t, Discard, WithAcceptRate(0.01, 1))

	dialRaw(t, srv)
	second := dialRaw(t, srv)
	expectClosed(t, second, time.Second)

	require.EqualValues(1, srv.Rejected())
}

func TestServer_Push(t *testing.T) {
	require := require.New(t)

	push := func(_ context.Context, info ConnInfo) e1381.Message {
		return e1381.NewMessage("H|\\^&", "O|1|"+info.Peer, "L|1|N")
	}

	srv := startServer(t, Discard, WithPush(push))
	conn := dialRaw(t, srv)

	cfg, err := e1381.NewSessionConfig(e1381.WithLogger(quietLogger()))
	require.NoError(err)

	sess, err := e1381.NewSession(e1381.NewStream(conn), e1381.RoleResponder, cfg)
	require.NoError(err)

	msg, err := sess.Receive(context.Background())
	require.NoError(err)
	require.Equal("O|1|"+conn.LocalAddr().String(), msg.Records()[1])
}

func TestServer_Shutdown(t *testing.T) {
	require := require.New(t)

	srv, err := NewServer("127.0.0.1:0", Discard, WithServerLogger(quietLogger()))
	require.NoError(err)
	require.NoError(srv.Start(context.Background()))

	conn := dialRaw(t, srv)
	require.Eventually(func() bool { return len(srv.Sessions()) == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(srv.Shutdown(ctx))

	expectClosed(t, conn, time.Second)
	require.Empty(srv.Sessions())
	require.ErrorIs(srv.Start(context.Background()), ErrServerClosed)
}

func TestServer_ContextStops(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", Discard, WithServerLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))

	conn := dialRaw(t, srv)
	cancel()
	expectClosed(t, conn, time.Second)

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	require.NoError(t, srv.Shutdown(shutdownCtx))
}

func TestServer_InvalidOptions(t *testing.T) {
	_, err := NewServer(":0", nil, WithMaxConns(-1))
	require.Error(t, err)

	_, err = NewServer(":0", nil, WithAcceptRate(0, 1))
	require.Error(t, err)

	_, err = NewServer(":0", nil, WithSessionOptions(e1381.WithRetryLimit(-1)))
	require.Error(t, err)

	_, err = NewServer(":0", nil, WithServerLogger(nil))
	require.Error(t, err)
}

func TestClient_InvalidOptions(t *testing.T) {
	_, err := NewClient("no-port")
	require.Error(t, err)

	_, err = NewClient("127.0.0.1:1", WithReconnect(time.Second, time.Millisecond))
	require.Error(t, err)

	_, err = NewClient("127.0.0.1:1", WithDialTimeout(0))
	require.Error(t, err)
}

func TestClient_SendDialFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := newTestClient(t, addr)
	_, err = client.Send(context.Background(), testResult)
	require.ErrorContains(t, err, "dial")
}

func TestClient_ListenReconnects(t *testing.T) {
	require := require.New(t)

	// The instrument acts as TCP server and pushes one message per
	// connection, then hangs up.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg, err := e1381.NewSessionConfig(e1381.WithLogger(quietLogger()))
	require.NoError(err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			sess, err := e1381.NewSession(e1381.NewStream(conn), e1381.RoleInitiator, cfg)
			if err == nil {
				assert.NoError(t, sess.Send(context.Background(), testResult))
			}
			_ = conn.Close()
		}
	}()

	h := &collector{}
	client := newTestClient(t, ln.Addr().String(), WithReconnect(20*time.Millisecond, 50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx, h) }()

	require.Eventually(func() bool { return len(h.messages()) >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}

	require.Equal(testResult.Records(), h.messages()[0].Records())
}

func TestClient_ListenResetsBackoffOnConnect(t *testing.T) {
	// The peer accepts and hangs up at once, so no message is ever received.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var accepts atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			_ = conn.Close()
		}
	}()

	// Without a reset the delays would double: 40, 80, 160, 320 ms, ...
	client := newTestClient(t, ln.Addr().String(), WithReconnect(40*time.Millisecond, 5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx, nil) }()

	require.Eventually(t, func() bool { return accepts.Load() >= 8 }, 1500*time.Millisecond, 10*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
