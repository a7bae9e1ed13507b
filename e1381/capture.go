package e1381

import (
	"context"
	"time"
)

// Capture is one validated inbound message handed to a CaptureSink.
type Capture struct {
	SessionID string
	Peer      string
	Received  time.Time

	// Data holds the message records, each terminated by CR.
	Data []byte
}

// CaptureSink is an append-only sink for received messages.
//
// Implementations must be safe for concurrent use: every session of a server
// appends to the same sink. The capture package provides file, Redis and
// NATS sinks.
type CaptureSink interface {
	Append(ctx context.Context, c Capture) error
}

// CaptureSinkFunc adapts a function to CaptureSink.
type CaptureSinkFunc func(ctx context.Context, c Capture) error

// Append calls f.
func (f CaptureSinkFunc) Append(ctx context.Context, c Capture) error {
	return f(ctx, c)
}
