package gateway

import (
	"context"
	"time"

	"github.com/arloliu/go-astm/e1381"
)

// ConnInfo describes the connection a message arrived on.
type ConnInfo struct {
	ConnID    string
	SessionID string
	Peer      string
	Connected time.Time
}

// Handler processes a received message. A non-empty returned message is
// sent back to the peer after a turnaround.
//
// Handlers are called concurrently for different connections.
type Handler interface {
	HandleMessage(ctx context.Context, info ConnInfo, msg e1381.Message) (e1381.Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, info ConnInfo, msg e1381.Message) (e1381.Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, info ConnInfo, msg e1381.Message) (e1381.Message, error) {
	return f(ctx, info, msg)
}

// PushFunc returns a message to send as initiator right after a connection
// is established. An empty message sends nothing.
type PushFunc func(ctx context.Context, info ConnInfo) e1381.Message

// StaticReply returns a Handler that answers every message with reply.
func StaticReply(reply e1381.Message) Handler {
	return HandlerFunc(func(context.Context, ConnInfo, e1381.Message) (e1381.Message, error) {
		return reply, nil
	})
}

// Discard is a Handler that never replies.
var Discard Handler = HandlerFunc(func(context.Context, ConnInfo, e1381.Message) (e1381.Message, error) {
	return nil, nil
})
