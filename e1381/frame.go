package e1381

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxFrameNumber is the largest frame number; numbers cycle modulo 8.
const MaxFrameNumber = 7

// frameOverhead is STX, number, terminator, two checksum digits and CR LF.
const frameOverhead = 7

// FrameSource is the read side the frame decoder needs.
//
// [StreamReader] implements it over a live connection with deadlines.
type FrameSource interface {
	ReadByte() (byte, error)
	ReadFull(n int) ([]byte, error)
	ReadUntil(stops []byte, max int) ([]byte, error)
}

// Frame represents a single E1381 frame.
//
// On the wire a frame is: STX [Number] [Payload] [Terminator] [HH] CR LF,
// where HH is the checksum of Number, Payload and Terminator.
type Frame struct {
	Number     int    // 0–7, sent as one ASCII digit
	Payload    []byte // frame text, never contains ETX or ETB
	Terminator byte   // ETX for the final frame, ETB for intermediate frames
}

// IsFinal reports whether this is the last frame of its message.
func (f *Frame) IsFinal() bool {
	return f.Terminator == ETX
}

// numberDigit returns the ASCII digit carried on the wire.
func (f *Frame) numberDigit() byte {
	return '0' + byte(f.Number&MaxFrameNumber)
}

// Checksum computes the checksum over number digit, payload and terminator.
func (f *Frame) Checksum() byte {
	sum := f.numberDigit()
	sum += Checksum(f.Payload)
	sum += f.Terminator

	return sum
}

// Validate checks that the frame can be encoded.
func (f *Frame) Validate() error {
	if f.Number < 0 || f.Number > MaxFrameNumber {
		return fmt.Errorf("%w: frame number %d out of range [0, %d]", ErrInvalidFrame, f.Number, MaxFrameNumber)
	}

	if !isTerminator(f.Terminator) {
		return fmt.Errorf("%w: terminator %s is not ETX or ETB", ErrInvalidFrame, ControlName(f.Terminator))
	}

	if i := bytes.IndexAny(f.Payload, string([]byte{STX, ETX, ETB})); i >= 0 {
		return fmt.Errorf("%w: payload contains %s at offset %d", ErrInvalidFrame, ControlName(f.Payload[i]), i)
	}

	return nil
}

// Pack serializes the frame to its wire format:
//
//	STX [Number] [Payload] [ETX|ETB] [HH] CR LF
//
// Pack does not validate the frame; see [EncodeFrame].
func (f *Frame) Pack() []byte {
	buf := make([]byte, 0, len(f.Payload)+frameOverhead)

	buf = append(buf, STX, f.numberDigit())
	buf = append(buf, f.Payload...)
	buf = append(buf, f.Terminator)

	cs := FormatChecksum(f.Checksum())
	buf = append(buf, cs[0], cs[1], CR, LF)

	return buf
}

// String returns a compact description for logs.
func (f *Frame) String() string {
	return fmt.Sprintf("frame#%d len=%d term=%s", f.Number, len(f.Payload), ControlName(f.Terminator))
}

// EncodeFrame validates and encodes a frame.
func EncodeFrame(number int, payload []byte, terminator byte) ([]byte, error) {
	f := &Frame{Number: number, Payload: payload, Terminator: terminator}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f.Pack(), nil
}

// DecodeFrame reads one frame from src. The leading STX must already have
// been consumed.
//
// It returns the frame and the checksum carried on the wire. The checksum is
// not verified here so that callers can tell a corrupted frame (NAK and wait
// for a retransmission) from a structurally broken one (abort).
//
// maxScan bounds the number of bytes read while looking for the terminator.
//
// A frame number other than '0'..'7' yields the frame with Number -1 and an
// error wrapping ErrFrameSequence.
func DecodeFrame(src FrameSource, maxScan int) (*Frame, byte, error) {
	digit, err := src.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("reading frame number: %w", err)
	}

	// An invalid number does not break alignment: the rest of the frame is
	// still read so the receiver can reject it and wait for a retransmission.
	badNumber := digit < '0' || digit > '0'+MaxFrameNumber

	text, err := src.ReadUntil([]byte{ETX, ETB}, maxScan)
	if err != nil {
		if errors.Is(err, ErrScanLimit) {
			return nil, 0, fmt.Errorf("%w: no ETX/ETB within %d bytes", ErrMalformedFrame, maxScan)
		}

		return nil, 0, fmt.Errorf("reading frame text: %w", err)
	}

	cs, err := src.ReadFull(2)
	if err != nil {
		return nil, 0, fmt.Errorf("reading checksum: %w", err)
	}

	trailer, err := src.ReadFull(2)
	if err != nil {
		return nil, 0, fmt.Errorf("reading trailer: %w", err)
	}

	if trailer[0] != CR || trailer[1] != LF {
		return nil, 0, fmt.Errorf("%w: trailer is % X, want 0D 0A", ErrMalformedFrame, trailer)
	}

	sum, err := ParseChecksum([2]byte{cs[0], cs[1]})
	if err != nil {
		return nil, 0, err
	}

	last := len(text) - 1
	f := &Frame{
		Number:     int(digit - '0'),
		Payload:    text[:last],
		Terminator: text[last],
	}

	if badNumber {
		f.Number = -1

		return f, sum, fmt.Errorf("%w: frame number %s is not a digit 0-7", ErrFrameSequence, ControlName(digit))
	}

	return f, sum, nil
}

// ParseFrame decodes a complete in-memory frame, including the leading STX,
// and verifies its checksum.
func ParseFrame(wire []byte) (*Frame, error) {
	if len(wire) == 0 || wire[0] != STX {
		return nil, fmt.Errorf("%w: frame does not start with STX", ErrMalformedFrame)
	}

	r := NewStreamReader(bytes.NewReader(wire[1:]))
	f, sum, err := DecodeFrame(r, len(wire))
	if err != nil {
		if errors.Is(err, ErrStreamClosed) {
			return nil, fmt.Errorf("%w: truncated: %w", ErrMalformedFrame, err)
		}

		if errors.Is(err, ErrFrameSequence) {
			return f, err
		}

		return nil, err
	}

	if calc := f.Checksum(); calc != sum {
		return f, fmt.Errorf("%w: wire=%02X, computed=%02X", ErrChecksumMismatch, sum, calc)
	}

	return f, nil
}
