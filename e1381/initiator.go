package e1381

import (
	"context"
	"errors"
	"fmt"
)

// initiatorDriver sends one message: ENQ, frames, EOT.
type initiatorDriver struct {
	msg Message
}

// drive runs the initiator state machine.
//
//  1. Send ENQ and wait for exactly one reply byte within the read timeout.
//     Anything but ACK is a handshake failure; ENQ is not retried.
//  2. Send each frame and wait for its reply. ACK advances, NAK (or any other
//     byte) retransmits the same frame up to the retry limit.
//  3. Send EOT. No reply is awaited.
func (d *initiatorDriver) drive(ctx context.Context, s *Session) (Message, error) {
	frames := s.cfg.Segmenter().Segment(d.msg)
	for _, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, s.fail(StateAborted, err)
		}
	}

	reader := s.stream.reader
	reader.SetTimeout(s.cfg.readTimeout)

	// Step 1: line request.
	s.setState(StateEnqSent)
	if err := s.writeControl(ENQ); err != nil {
		return nil, s.fail(StateAborted, s.ioErr(ctx, err))
	}

	s.setState(StateAwaitEnqAck)

	b, err := reader.ReadByte()
	if err != nil {
		err = s.ioErr(ctx, err)
		if errors.Is(err, ErrReadTimeout) || errors.Is(err, ErrStreamClosed) {
			s.metrics.incHandshakeErrCount()

			return nil, s.fail(StateAbortedNoAck, fmt.Errorf("%w: no reply to ENQ: %w", ErrHandshakeRejected, err))
		}

		return nil, s.fail(StateAborted, err)
	}

	s.logger.Debug("e1381: <<< " + ControlName(b))

	if b != ACK {
		s.metrics.incHandshakeErrCount()

		return nil, s.fail(StateAbortedNoAck, fmt.Errorf("%w: got %s after ENQ", ErrHandshakeRejected, ControlName(b)))
	}

	// Step 2: frames.
	for _, f := range frames {
		if err := d.sendFrame(ctx, s, f); err != nil {
			return nil, err
		}
	}

	// Step 3: release the line.
	s.setState(StateEOTSent)
	if err := s.writeControl(EOT); err != nil {
		return nil, s.fail(StateAborted, s.ioErr(ctx, err))
	}

	s.setState(StateDone)
	s.metrics.incMsgSendCount()
	s.logger.Info("e1381: message sent", "frames", len(frames), "bytes", len(d.msg))

	return d.msg, nil
}

// sendFrame transmits one frame until it is acknowledged.
func (d *initiatorDriver) sendFrame(ctx context.Context, s *Session, f *Frame) error {
	wire := f.Pack()
	reader := s.stream.reader
	s.setRetryCount(0)

	for retry := 0; ; {
		s.setState(StateTransmitting)
		if err := s.stream.Write(wire); err != nil {
			return s.fail(StateAborted, s.ioErr(ctx, err))
		}

		s.logger.Debug("e1381: >>> "+f.String(), "retry", retry)
		s.setState(StateAwaitFrameAck)

		b, err := reader.ReadByte()
		if err != nil {
			err = s.ioErr(ctx, err)
			if errors.Is(err, ErrReadTimeout) {
				return s.fail(StateAbortedTimeout, fmt.Errorf("waiting for reply to frame %d: %w", f.Number, err))
			}

			return s.fail(StateAborted, err)
		}

		if b == ACK {
			s.metrics.incFrameSendCount()

			return nil
		}

		// E1381 treats any reply other than ACK as NAK.
		if retry >= s.cfg.retryLimit {
			return s.fail(StateAbortedNakLimit,
				fmt.Errorf("%w: frame %d rejected %d times, last reply %s", ErrNakLimit, f.Number, retry+1, ControlName(b)))
		}

		retry++
		s.setRetryCount(retry)
		s.metrics.incFrameRetryCount()
		s.logger.Warn("e1381: frame rejected, retransmitting",
			"frame", f.Number,
			"reply", ControlName(b),
			"retry", retry,
			"maxRetry", s.cfg.retryLimit)
	}
}
