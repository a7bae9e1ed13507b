package capture

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-astm/e1381"
	"github.com/arloliu/go-astm/internal/queue"
	"github.com/arloliu/go-astm/logger"
)

// ErrBufferFull is returned by AsyncSink.Append when the buffer is full.
var ErrBufferFull = errors.New("capture: buffer full")

// DefaultAppendTimeout bounds one append to the wrapped sink.
const DefaultAppendTimeout = 5 * time.Second

// AsyncSink buffers captures and appends them to another sink from a
// background goroutine, so that a slow network sink does not delay the
// acknowledgement of the last frame.
//
// Append fails only when the buffer is full or the sink is closed. Failures
// of the wrapped sink are logged and counted.
type AsyncSink struct {
	sink    e1381.CaptureSink
	q       *queue.Bounded[e1381.Capture]
	logger  logger.Logger
	timeout time.Duration

	// mu orders Append against Close: once closed is set no capture
	// enters the queue, so the final drain sees every accepted one.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ e1381.CaptureSink = (*AsyncSink)(nil)

// NewAsyncSink starts a background writer for sink holding up to capacity
// pending captures. A nil l uses the default logger.
func NewAsyncSink(sink e1381.CaptureSink, capacity int, l logger.Logger) *AsyncSink {
	if l == nil {
		l = logger.GetLogger()
	}

	s := &AsyncSink{
		sink:    sink,
		q:       queue.NewBounded[e1381.Capture](capacity),
		logger:  l,
		timeout: DefaultAppendTimeout,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go s.run()

	return s
}

// Append queues c.
func (s *AsyncSink) Append(_ context.Context, c e1381.Capture) error {
	c.Data = slices.Clone(c.Data)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	if !s.q.Push(c) {
		s.dropped.Add(1)

		return ErrBufferFull
	}

	return nil
}

// Pending returns the number of queued captures.
func (s *AsyncSink) Pending() int { return s.q.Len() }

// Dropped returns the number of captures refused because the buffer was full.
func (s *AsyncSink) Dropped() uint64 { return s.dropped.Load() }

// Failed returns the number of captures the wrapped sink rejected.
func (s *AsyncSink) Failed() uint64 { return s.failed.Load() }

// Close stops accepting captures and waits until the queued ones are
// written. It does not close the wrapped sink.
func (s *AsyncSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
	})
	<-s.done

	return nil
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for {
		select {
		case <-s.q.Ready():
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *AsyncSink) drain() {
	for {
		c, ok := s.q.Pop()
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.sink.Append(ctx, c)
		cancel()

		if err != nil {
			s.failed.Add(1)
			s.logger.Error("capture: async append failed",
				"sessionID", c.SessionID,
				"peer", c.Peer,
				"bytes", len(c.Data),
				"error", err)
		}
	}
}
