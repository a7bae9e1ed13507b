package e1381

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// recentSize is the number of trailing bytes kept for diagnostics.
const recentSize = 32

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamReader is a buffered reader providing the three read primitives the
// protocol needs: one byte, exactly N bytes, and until a stop byte.
//
// Every read is bounded by the reader's timeout when the underlying source
// supports read deadlines (net.Conn does). A timeout surfaces as
// ErrReadTimeout, an end of stream as ErrStreamClosed.
//
// This type is NOT goroutine-safe, consistent with the half-duplex nature of
// the protocol: only the session driving the stream reads from it.
type StreamReader struct {
	src     io.Reader
	br      *bufio.Reader
	dl      readDeadliner
	timeout time.Duration
	cutoff  time.Time // no read deadline is armed past cutoff, when set

	// interrupted makes every read fail immediately until cleared.
	interrupted atomic.Bool

	mu           sync.Mutex // guards lastActivity and recent for observers
	lastActivity time.Time
	recent       []byte
}

// NewStreamReader creates a StreamReader over src.
func NewStreamReader(src io.Reader) *StreamReader {
	r := &StreamReader{
		src:          src,
		br:           bufio.NewReader(src),
		lastActivity: time.Now(),
		recent:       make([]byte, 0, recentSize),
	}

	if dl, ok := src.(readDeadliner); ok {
		r.dl = dl
	}

	return r
}

// SetTimeout sets the deadline applied to each subsequent read call.
// Zero disables deadlines.
func (r *StreamReader) SetTimeout(d time.Duration) {
	r.timeout = d
}

// SetCutoff caps every subsequent read deadline at t. The zero time removes
// the cap.
func (r *StreamReader) SetCutoff(t time.Time) {
	r.cutoff = t
}

// Timeout returns the per-read timeout.
func (r *StreamReader) Timeout() time.Duration {
	return r.timeout
}

// LastActivity returns the time the last byte of any kind was read.
func (r *StreamReader) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActivity
}

// Recent returns a copy of the last bytes read, oldest first.
func (r *StreamReader) Recent() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, len(r.recent))
	copy(out, r.recent)

	return out
}

// ReadByte reads a single byte.
func (r *StreamReader) ReadByte() (byte, error) {
	if err := r.arm(); err != nil {
		return 0, err
	}

	b, err := r.br.ReadByte()
	if err != nil {
		return 0, classifyReadErr(err)
	}

	r.observe(b)

	return b, nil
}

// ReadFull reads exactly n bytes.
//
// On TCP a single Read may return several bytes, so the timeout is the
// deadline for each Read call rather than for the whole slice: the timer
// restarts whenever data arrives.
func (r *StreamReader) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)

	for read := 0; read < n; {
		if err := r.arm(); err != nil {
			return buf[:read], err
		}

		m, err := r.br.Read(buf[read:])
		for _, b := range buf[read : read+m] {
			r.observe(b)
		}
		read += m

		if err != nil {
			if read == n && errors.Is(err, io.EOF) {
				break
			}

			return buf[:read], classifyReadErr(err)
		}
	}

	return buf, nil
}

// ReadUntil reads until one of stops has been read and returns the data
// including the stop byte.
//
// If max bytes are read without seeing a stop byte, ReadUntil returns the
// data read so far together with ErrScanLimit. This bounds memory use
// against a peer that never terminates a frame.
func (r *StreamReader) ReadUntil(stops []byte, max int) ([]byte, error) {
	buf := make([]byte, 0, 64)

	for len(buf) < max {
		b, err := r.ReadByte()
		if err != nil {
			return buf, err
		}

		buf = append(buf, b)

		for _, s := range stops {
			if b == s {
				return buf, nil
			}
		}
	}

	return buf, fmt.Errorf("%w: %d bytes", ErrScanLimit, max)
}

// Buffered returns the number of bytes that can be read without blocking.
func (r *StreamReader) Buffered() int {
	return r.br.Buffered()
}

func (r *StreamReader) arm() error {
	if r.dl == nil || r.br.Buffered() > 0 {
		return nil
	}

	interrupted := r.interrupted.Load()

	var deadline time.Time
	switch {
	case interrupted:
		deadline = time.Now()
	case r.timeout > 0:
		deadline = time.Now().Add(r.timeout)
	}

	if !r.cutoff.IsZero() && (deadline.IsZero() || r.cutoff.Before(deadline)) {
		deadline = r.cutoff
	}

	if err := r.dl.SetReadDeadline(deadline); err != nil {
		return classifyReadErr(err)
	}

	// An interrupt between the load above and SetReadDeadline set its own
	// deadline first and was just overwritten.
	if !interrupted && r.interrupted.Load() {
		if err := r.dl.SetReadDeadline(time.Now()); err != nil {
			return classifyReadErr(err)
		}
	}

	return nil
}

func (r *StreamReader) observe(b byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActivity = time.Now()

	if len(r.recent) == recentSize {
		copy(r.recent, r.recent[1:])
		r.recent = r.recent[:recentSize-1]
	}
	r.recent = append(r.recent, b)
}

// classifyReadErr maps I/O errors onto the protocol error taxonomy.
func classifyReadErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrReadTimeout) || errors.Is(err, ErrStreamClosed) {
		return err
	}

	if isTimeoutError(err) {
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}

	if isClosedError(err) {
		return fmt.Errorf("%w: %w", ErrStreamClosed, err)
	}

	return err
}

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isClosedError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Stream couples a StreamReader with the write side of one connection.
//
// A connection has exactly one Stream. Sessions that run back to back on the
// same connection share it so that no buffered byte is lost between them.
type Stream struct {
	rw           io.ReadWriter
	reader       *StreamReader
	wdl          writeDeadliner
	writeTimeout time.Duration
	peer         string
}

// NewStream wraps a connected, bidirectional byte stream.
func NewStream(rw io.ReadWriter) *Stream {
	st := &Stream{
		rw:     rw,
		reader: NewStreamReader(rw),
	}

	if wdl, ok := rw.(writeDeadliner); ok {
		st.wdl = wdl
	}

	if c, ok := rw.(net.Conn); ok && c.RemoteAddr() != nil {
		st.peer = c.RemoteAddr().String()
	}

	return st
}

// Reader returns the stream's reader.
func (st *Stream) Reader() *StreamReader {
	return st.reader
}

// Peer returns the remote address, or "" when unknown.
func (st *Stream) Peer() string {
	return st.peer
}

// SetWriteTimeout sets the deadline applied to each write.
func (st *Stream) SetWriteTimeout(d time.Duration) {
	st.writeTimeout = d
}

// WriteByte writes a single control byte.
func (st *Stream) WriteByte(b byte) error {
	return st.Write([]byte{b})
}

// Write writes all of data.
func (st *Stream) Write(data []byte) error {
	if st.wdl != nil && st.writeTimeout > 0 {
		if err := st.wdl.SetWriteDeadline(time.Now().Add(st.writeTimeout)); err != nil {
			return classifyReadErr(err)
		}
	}

	for written := 0; written < len(data); {
		n, err := st.rw.Write(data[written:])
		written += n

		if err != nil {
			return classifyReadErr(err)
		}
	}

	return nil
}

// Close closes the underlying stream if it implements io.Closer.
// Closing unblocks any read in progress.
func (st *Stream) Close() error {
	if c, ok := st.rw.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// interrupt forces a blocked read, and every later one, to return
// immediately until resume is called.
func (st *Stream) interrupt() {
	st.reader.interrupted.Store(true)
	if st.reader.dl != nil {
		_ = st.reader.dl.SetReadDeadline(time.Now())
	}
}

func (st *Stream) resume() {
	st.reader.interrupted.Store(false)
}
