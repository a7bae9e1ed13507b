package e1381

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"
)

// responderDriver receives one message: ENQ, frames, EOT.
type responderDriver struct {
	// openWindow bounds the wait for the peer to open the exchange.
	openWindow time.Duration

	buf        bytes.Buffer
	frames     int
	nextNumber int
	lastNumber int
	haveLast   bool
}

// drive runs the responder state machine.
//
//  1. Wait for ENQ (reply ACK) or EOT (empty message). Stray bytes are
//     logged and discarded. A bare STX opens the exchange when allowed.
//  2. Receive frames until EOT, replying ACK to each valid frame and NAK to
//     each corrupted one.
//  3. Normalize the reassembled message and hand it to the capture sink.
func (d *responderDriver) drive(ctx context.Context, s *Session) (Message, error) {
	d.nextNumber = s.cfg.frameNumberStart
	s.setState(StateAwaitEnq)

	// Step 1: wait for the line request.
	bareSTX := false

	for opened := false; !opened; {
		b, err := d.awaitByte(ctx, s, d.openWindow)
		if err != nil {
			return nil, d.failRead(ctx, s, err)
		}

		switch {
		case b == ENQ:
			s.touch()
			s.logger.Debug("e1381: <<< ENQ")

			if err := s.writeControl(ACK); err != nil {
				return nil, s.fail(StateAborted, s.ioErr(ctx, err))
			}

			s.setState(StateAckSent)
			opened = true

		case b == EOT:
			s.touch()
			s.setState(StateEOTReceived)
			s.logger.Info("e1381: peer opened with EOT, nothing to receive")
			s.setState(StateDone)

			return Message{}, nil

		case b == STX && s.cfg.acceptBareSTX:
			s.touch()
			s.logger.Warn("e1381: frame received without ENQ, accepting")
			bareSTX = true
			opened = true

		default:
			d.stray(s, b)
		}
	}

	// Step 2: receive frames until EOT.
	if bareSTX {
		if err := d.receiveFrame(ctx, s); err != nil {
			return nil, err
		}
	}

	for {
		s.setState(StateAwaitFrame)

		b, err := d.awaitByte(ctx, s, s.cfg.idleTimeout)
		if err != nil {
			return nil, d.failRead(ctx, s, err)
		}

		switch b {
		case EOT:
			s.touch()
			s.setState(StateEOTReceived)
			s.logger.Debug("e1381: <<< EOT")

			return d.complete(ctx, s)

		case STX:
			if err := d.receiveFrame(ctx, s); err != nil {
				return nil, err
			}

		default:
			d.stray(s, b)
		}
	}
}

// awaitByte waits for the next byte while the line is between frames.
//
// Each read is bounded by the read timeout; an expired read is logged and
// the wait continues until window has passed without protocol progress.
func (d *responderDriver) awaitByte(ctx context.Context, s *Session, window time.Duration) (byte, error) {
	reader := s.stream.reader

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		remaining := window - s.sinceProgress()
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: no activity for %v", ErrIdleTimeout, window)
		}

		reader.SetTimeout(min(s.cfg.readTimeout, remaining))

		b, err := reader.ReadByte()
		if err == nil {
			return b, nil
		}

		err = s.ioErr(ctx, err)
		if !errors.Is(err, ErrReadTimeout) {
			return 0, err
		}

		s.logger.Debug("e1381: no data within read timeout, still waiting",
			"state", s.State(),
			"idle", s.sinceProgress().Round(time.Millisecond))
	}
}

// receiveFrame decodes and validates one frame; the STX has been consumed.
//
// Structural errors and reads that fail inside the frame are fatal, since
// alignment with the peer is lost. A checksum mismatch is answered with NAK
// and the peer is expected to retransmit the same frame.
func (d *responderDriver) receiveFrame(ctx context.Context, s *Session) error {
	s.setState(StateReceivingFrame)

	// A peer trickling bytes inside a frame makes no progress, so the frame
	// as a whole must complete within the idle window.
	reader := s.stream.reader
	reader.SetTimeout(s.cfg.readTimeout)
	reader.SetCutoff(s.lastProgress.Add(s.cfg.idleTimeout))
	defer reader.SetCutoff(time.Time{})

	f, sum, err := DecodeFrame(reader, s.cfg.maxScanLength)
	if err != nil && errors.Is(err, ErrFrameSequence) {
		s.touch()
		s.logger.Warn("e1381: invalid frame number, sending NAK", "error", err)

		return d.reject(ctx, s)
	}

	if err != nil {
		err = s.ioErr(ctx, err)
		if errors.Is(err, ErrReadTimeout) {
			if s.sinceProgress() >= s.cfg.idleTimeout {
				return s.fail(StateIdleTimeoutClose,
					fmt.Errorf("%w: frame incomplete after %v without progress", ErrIdleTimeout, s.cfg.idleTimeout))
			}

			return s.fail(StateAbortedTimeout, fmt.Errorf("inside frame: %w", err))
		}

		return s.fail(StateAborted, err)
	}

	s.touch()
	s.setState(StateValidating)

	if calc := f.Checksum(); calc != sum {
		s.metrics.incChecksumErrCount()
		s.logger.Warn("e1381: frame checksum mismatch, sending NAK",
			"frame", f.Number,
			"wire", fmt.Sprintf("%02X", sum),
			"computed", fmt.Sprintf("%02X", calc),
			"error", ErrChecksumMismatch)

		return d.reject(ctx, s)
	}

	if f.Number != d.nextNumber {
		if s.cfg.strictSequence {
			if d.haveLast && f.Number == d.lastNumber {
				s.logger.Info("e1381: duplicate frame acknowledged and discarded", "frame", f.Number)

				return d.accept(ctx, s)
			}

			s.logger.Warn("e1381: frame out of sequence, sending NAK",
				"frame", f.Number,
				"expected", d.nextNumber,
				"error", ErrFrameSequence)

			return d.reject(ctx, s)
		}

		s.logger.Debug("e1381: frame out of sequence",
			"frame", f.Number,
			"expected", d.nextNumber)
	}

	d.buf.Write(f.Payload)

	// ETX closes a record; senders that put one record per frame do not
	// always include the CR separator.
	if f.IsFinal() && (len(f.Payload) == 0 || f.Payload[len(f.Payload)-1] != CR) {
		d.buf.WriteByte(CR)
	}

	d.frames++
	d.lastNumber = f.Number
	d.haveLast = true
	d.nextNumber = (f.Number + 1) & MaxFrameNumber

	s.metrics.incFrameRecvCount()
	s.logger.Debug("e1381: <<< "+f.String(), "checksum", fmt.Sprintf("%02X", sum))

	return d.accept(ctx, s)
}

func (d *responderDriver) accept(ctx context.Context, s *Session) error {
	if err := s.writeControl(ACK); err != nil {
		return s.fail(StateAborted, s.ioErr(ctx, err))
	}

	s.setState(StateAckSent)

	return nil
}

func (d *responderDriver) reject(ctx context.Context, s *Session) error {
	if err := s.writeControl(NAK); err != nil {
		return s.fail(StateAborted, s.ioErr(ctx, err))
	}

	s.metrics.incNakSentCount()
	s.setState(StateNakSent)

	return nil
}

func (d *responderDriver) stray(s *Session, b byte) {
	s.metrics.incStrayByteCount()
	s.logger.Debug("e1381: ignoring unexpected byte",
		"byte", ControlName(b),
		"state", s.State())
}

// failRead maps a failed wait between frames onto a terminal state.
func (d *responderDriver) failRead(ctx context.Context, s *Session, err error) error {
	err = s.ioErr(ctx, err)
	if errors.Is(err, ErrIdleTimeout) {
		return s.fail(StateIdleTimeoutClose, err)
	}

	return s.fail(StateAborted, err)
}

// complete finishes the exchange and delivers the message.
func (d *responderDriver) complete(ctx context.Context, s *Session) (Message, error) {
	msg := NormalizeMessage(d.buf.Bytes())
	s.setState(StateDone)

	if d.frames == 0 {
		s.logger.Info("e1381: exchange closed without frames")

		return msg, nil
	}

	s.metrics.incMsgRecvCount()
	s.logger.Info("e1381: message received", "frames", d.frames, "bytes", len(msg))

	sink := s.cfg.capture
	if sink == nil || msg.IsEmpty() {
		return msg, nil
	}

	c := Capture{
		SessionID: s.id,
		Peer:      s.Peer(),
		Received:  time.Now(),
		Data:      msg.CaptureBytes(),
	}

	if err := sink.Append(ctx, c); err != nil {
		s.logger.Error("e1381: capture sink rejected message", "error", err)

		return msg, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	return msg, nil
}
