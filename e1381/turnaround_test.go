package e1381

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExchange_QueryAndReply(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleInitiator, newTestConfig(t))

	query := NewMessage(`H|\^&`, `Q|1|^SPEC001||^^^ALL`, `L|1|N`)
	done := runAsync(func() (Message, error) {
		return s.Exchange(context.Background(), query)
	})

	// Peer receives the query.
	peer.expect(ENQ)
	peer.write(ACK)
	f := peer.readFrame()
	require.Equal([]byte(query), f.Payload)
	peer.write(ACK)
	peer.expect(EOT)

	// Peer answers on the same connection.
	peer.write(ENQ)
	peer.expect(ACK)
	peer.writeFrame(1, "H|\\^&\rO|1|SPEC001||^^^HBV\rL|1|F", ETX)
	peer.expect(ACK)
	peer.write(EOT)

	reply, err := await(t, done)
	require.NoError(err)
	require.Equal([]string{`H|\^&`, `O|1|SPEC001||^^^HBV`, `L|1|F`}, reply.Records())
	require.True(s.TurnedAround())
	require.Equal(RoleResponder, s.Role())
	require.Equal(StateDone, s.State())
}

func TestExchange_NoReply(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleInitiator, newTestConfig(t, WithReadTimeout(MinReadTimeout)))

	done := runAsync(func() (Message, error) {
		return s.Exchange(context.Background(), NewMessage("L|1"))
	})

	peer.expect(ENQ)
	peer.write(ACK)
	peer.readFrame()
	peer.write(ACK)
	peer.expect(EOT)

	reply, err := await(t, done)
	require.NoError(err)
	require.True(reply.IsEmpty())
}

func TestExchange_PeerClosesAfterEOT(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleInitiator, newTestConfig(t))

	done := runAsync(func() (Message, error) {
		return s.Exchange(context.Background(), NewMessage("L|1"))
	})

	peer.expect(ENQ)
	peer.write(ACK)
	peer.readFrame()
	peer.write(ACK)
	peer.expect(EOT)
	require.NoError(peer.conn.Close())

	reply, err := await(t, done)
	require.NoError(err)
	require.True(reply.IsEmpty())
}

func TestExchange_SendFails(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleInitiator, newTestConfig(t))

	done := runAsync(func() (Message, error) {
		return s.Exchange(context.Background(), NewMessage("L|1"))
	})

	peer.expect(ENQ)
	peer.write(NAK)

	_, err := await(t, done)
	require.ErrorIs(err, ErrHandshakeRejected)
	require.False(s.TurnedAround())
}

func TestServe_WithReply(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleResponder, newTestConfig(t))

	var asked Message
	reply := func(_ context.Context, msg Message) (Message, error) {
		asked = msg
		return NewMessage(`H|\^&`, `R|1|^^^HBV|42`, `L|1|N`), nil
	}

	done := runAsync(func() (Message, error) {
		return s.Serve(context.Background(), reply)
	})

	peer.write(ENQ)
	peer.expect(ACK)
	peer.writeFrame(1, "Q|1|^SPEC001", ETX)
	peer.expect(ACK)
	peer.write(EOT)

	// Reply arrives as initiator traffic.
	peer.expect(ENQ)
	peer.write(ACK)
	f := peer.readFrame()
	require.Contains(string(f.Payload), "R|1|^^^HBV|42")
	peer.write(ACK)
	peer.expect(EOT)

	msg, err := await(t, done)
	require.NoError(err)
	require.Equal(Message("Q|1|^SPEC001"), msg)
	require.Equal(msg, asked)
	require.Equal(RoleInitiator, s.Role())
	require.True(s.TurnedAround())
}

func TestServe_EmptyReply(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleResponder, newTestConfig(t))

	done := runAsync(func() (Message, error) {
		return s.Serve(context.Background(), func(context.Context, Message) (Message, error) {
			return nil, nil
		})
	})

	peer.write(ENQ)
	peer.expect(ACK)
	peer.writeFrame(1, "R|1", ETX)
	peer.expect(ACK)
	peer.write(EOT)

	msg, err := await(t, done)
	require.NoError(err)
	require.Equal(Message("R|1"), msg)
	require.False(s.TurnedAround())
	peer.expectSilence(MinReadTimeout)
}

func TestServe_ReplyError(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleResponder, newTestConfig(t))
	replyErr := errors.New("lookup failed")

	done := runAsync(func() (Message, error) {
		return s.Serve(context.Background(), func(context.Context, Message) (Message, error) {
			return nil, replyErr
		})
	})

	peer.write(ENQ)
	peer.expect(ACK)
	peer.writeFrame(1, "Q|1", ETX)
	peer.expect(ACK)
	peer.write(EOT)

	msg, err := await(t, done)
	require.ErrorIs(err, replyErr)
	require.Equal(Message("Q|1"), msg)
}

func TestTurnaround_Rules(t *testing.T) {
	require := require.New(t)

	s, peer := newTestSession(t, RoleResponder, newTestConfig(t))

	err := s.Turnaround()
	require.ErrorIs(err, ErrInvalidState)

	done := receiveAsync(s, context.Background())
	peer.write(EOT)
	_, err = await(t, done)
	require.NoError(err)

	require.NoError(s.Turnaround())
	require.Equal(RoleInitiator, s.Role())
	require.Equal(StateIdle, s.State())

	require.ErrorIs(s.Turnaround(), ErrTurnaroundUsed)

	// The turned-around session cannot receive again.
	_, err = s.Receive(context.Background())
	require.ErrorIs(err, ErrInvalidRole)
}
