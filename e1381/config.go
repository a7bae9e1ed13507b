package e1381

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// Default session values.
const (
	DefaultReadTimeout  = 10 * time.Second  // reply to ENQ / frame, next byte in frame
	DefaultWriteTimeout = 10 * time.Second  // single write
	DefaultIdleTimeout  = 120 * time.Second // responder inactivity window

	DefaultRetryLimit       = 6    // NAK retransmissions per frame
	DefaultMaxScanLength    = 8192 // bytes scanned for ETX/ETB
	DefaultFrameNumberStart = 1
)

// Range limits for session options.
const (
	MinReadTimeout = 100 * time.Millisecond
	MaxReadTimeout = 60 * time.Second

	MinIdleTimeout = 1 * time.Second
	MaxIdleTimeout = time.Hour

	MaxRetryLimit = 31

	MinScanLength = 16
	MaxScanLength = 1 << 20
)

// SessionConfig holds the configuration shared by sessions.
//
// A SessionConfig is immutable after construction and may be shared by any
// number of concurrent sessions.
type SessionConfig struct {
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	// retryLimit is the number of retransmissions of one frame after NAK.
	retryLimit int

	// maxScanLength bounds the frame text read while looking for ETX/ETB.
	maxScanLength int

	// Outbound segmentation.
	frameNumberStart int
	fixedFrameNumber bool
	maxFramePayload  int
	framePerRecord   bool

	// Inbound strictness.
	strictSequence bool
	acceptBareSTX  bool

	capture CaptureSink
	metrics *Metrics
	logger  logger.Logger
}

// NewSessionConfig creates a session configuration.
//
// opts are functional options applied in order; see With* functions.
func NewSessionConfig(opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		readTimeout:      DefaultReadTimeout,
		writeTimeout:     DefaultWriteTimeout,
		idleTimeout:      DefaultIdleTimeout,
		retryLimit:       DefaultRetryLimit,
		maxScanLength:    DefaultMaxScanLength,
		frameNumberStart: DefaultFrameNumberStart,
		acceptBareSTX:    true,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// ReadTimeout returns the per-read timeout.
func (cfg *SessionConfig) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the per-write timeout.
func (cfg *SessionConfig) WriteTimeout() time.Duration { return cfg.writeTimeout }

// IdleTimeout returns the responder inactivity window.
func (cfg *SessionConfig) IdleTimeout() time.Duration { return cfg.idleTimeout }

// RetryLimit returns the maximum number of retransmissions per frame.
func (cfg *SessionConfig) RetryLimit() int { return cfg.retryLimit }

// MaxScanLength returns the bound on frame text length while decoding.
func (cfg *SessionConfig) MaxScanLength() int { return cfg.maxScanLength }

// FrameNumberStart returns the number of the first frame of a message.
func (cfg *SessionConfig) FrameNumberStart() int { return cfg.frameNumberStart }

// FixedFrameNumber reports whether every frame carries the start number.
func (cfg *SessionConfig) FixedFrameNumber() bool { return cfg.fixedFrameNumber }

// MaxFramePayload returns the largest outbound frame text, 0 = unlimited.
func (cfg *SessionConfig) MaxFramePayload() int { return cfg.maxFramePayload }

// FramePerRecord reports whether every record is sent as its own frame.
func (cfg *SessionConfig) FramePerRecord() bool { return cfg.framePerRecord }

// StrictSequence reports whether inbound frame numbers are enforced.
func (cfg *SessionConfig) StrictSequence() bool { return cfg.strictSequence }

// AcceptBareSTX reports whether a frame is accepted without a prior ENQ.
func (cfg *SessionConfig) AcceptBareSTX() bool { return cfg.acceptBareSTX }

// CaptureSink returns the configured capture sink, or nil.
func (cfg *SessionConfig) CaptureSink() CaptureSink { return cfg.capture }

// Metrics returns the configured metrics, or nil.
func (cfg *SessionConfig) Metrics() *Metrics { return cfg.metrics }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// Segmenter returns the outbound segmentation policy.
func (cfg *SessionConfig) Segmenter() Segmenter {
	return Segmenter{
		MaxPayload:     cfg.maxFramePayload,
		StartNumber:    cfg.frameNumberStart,
		FixedNumber:    cfg.fixedFrameNumber,
		FramePerRecord: cfg.framePerRecord,
	}
}

// With returns a copy of cfg with opts applied on top.
func (cfg *SessionConfig) With(opts ...SessionOption) (*SessionConfig, error) {
	clone := *cfg
	for _, opt := range opts {
		if err := opt.apply(&clone); err != nil {
			return nil, err
		}
	}

	return &clone, nil
}

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithReadTimeout sets the per-read timeout: the wait for the reply to ENQ
// or to a frame, and for each read inside a frame.
func WithReadTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("e1381: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the per-write timeout.
func WithWriteTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("e1381: write timeout must be positive")
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithIdleTimeout sets the responder inactivity window.
func WithIdleTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinIdleTimeout || d > MaxIdleTimeout {
			return fmt.Errorf("e1381: idle timeout %v out of range [%v, %v]", d, MinIdleTimeout, MaxIdleTimeout)
		}
		cfg.idleTimeout = d

		return nil
	})
}

// WithRetryLimit sets the maximum number of retransmissions of one frame.
func WithRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 0 || n > MaxRetryLimit {
			return fmt.Errorf("e1381: retry limit %d out of range [0, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithMaxScanLength bounds the frame text read while looking for ETX/ETB.
func WithMaxScanLength(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < MinScanLength || n > MaxScanLength {
			return fmt.Errorf("e1381: scan length %d out of range [%d, %d]", n, MinScanLength, MaxScanLength)
		}
		cfg.maxScanLength = n

		return nil
	})
}

// WithFrameNumberStart sets the number of the first frame of every message.
// Most instruments start at 1; some start at 0.
func WithFrameNumberStart(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 0 || n > MaxFrameNumber {
			return fmt.Errorf("e1381: frame number start %d out of range [0, %d]", n, MaxFrameNumber)
		}
		cfg.frameNumberStart = n

		return nil
	})
}

// WithFixedFrameNumber numbers every outbound frame with the start number
// instead of incrementing modulo 8.
func WithFixedFrameNumber(enabled bool) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.fixedFrameNumber = enabled

		return nil
	})
}

// WithMaxFramePayload sets the largest outbound frame text. Longer messages
// are split into ETB frames. Zero means unlimited.
func WithMaxFramePayload(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 0 {
			return fmt.Errorf("e1381: max frame payload %d must not be negative", n)
		}
		cfg.maxFramePayload = n

		return nil
	})
}

// WithFramePerRecord sends each record of an outbound message as its own
// frame sequence.
func WithFramePerRecord(enabled bool) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.framePerRecord = enabled

		return nil
	})
}

// WithStrictSequence enforces inbound frame numbering. When enabled a
// repeat of the previously accepted frame is acknowledged and discarded, and
// any other unexpected number is rejected with NAK. Disabled by default:
// out-of-order numbers are only logged.
func WithStrictSequence(enabled bool) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.strictSequence = enabled

		return nil
	})
}

// WithAcceptBareSTX controls whether a responder accepts a frame that
// arrives without a preceding ENQ. Enabled by default.
func WithAcceptBareSTX(enabled bool) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.acceptBareSTX = enabled

		return nil
	})
}

// WithCaptureSink sets the sink receiving every validated inbound message.
func WithCaptureSink(sink CaptureSink) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.capture = sink

		return nil
	})
}

// WithMetrics sets the metrics updated by sessions. The same Metrics may be
// shared by concurrent sessions.
func WithMetrics(m *Metrics) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.metrics = m

		return nil
	})
}

// WithLogger sets the logger for sessions.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("e1381: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
