package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/go-astm/e1381"
)

// NATS header names set on every capture message.
const (
	HeaderSession  = "Astm-Session"
	HeaderPeer     = "Astm-Peer"
	HeaderReceived = "Astm-Received"
)

// MsgPublisher is the subset of a NATS connection used by NATSSink.
// *nats.Conn implements it.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink publishes every capture to a subject.
type NATSSink struct {
	conn    MsgPublisher
	subject string
}

var _ e1381.CaptureSink = (*NATSSink)(nil)

func NewNATSSink(conn MsgPublisher, subject string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject}
}

// DialNATS connects to a NATS server with reconnects enabled.
func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("capture: nats connect: %w", err)
	}

	return nc, nil
}

func (s *NATSSink) Append(ctx context.Context, c e1381.Capture) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := nats.NewMsg(s.subject)
	msg.Header.Set(HeaderSession, c.SessionID)
	msg.Header.Set(HeaderPeer, c.Peer)
	msg.Header.Set(HeaderReceived, c.Received.UTC().Format(time.RFC3339Nano))
	msg.Data = c.Data

	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("capture: publish %s: %w", s.subject, err)
	}

	return nil
}
