package e1381

import "fmt"

// ASTM E1381 control characters.
const (
	// STX starts a frame.
	STX byte = 0x02

	// ETX terminates the final frame of a message.
	ETX byte = 0x03

	// EOT ends a transmission and returns the line to neutral.
	EOT byte = 0x04

	// ENQ requests permission to transmit.
	ENQ byte = 0x05

	// ACK accepts a handshake or a frame.
	ACK byte = 0x06

	// LF is the second frame trailer byte.
	LF byte = 0x0A

	// CR separates records and is the first frame trailer byte.
	CR byte = 0x0D

	// NAK rejects a frame or declines a handshake.
	NAK byte = 0x15

	// ETB terminates an intermediate frame; more frames follow.
	ETB byte = 0x17
)

// ControlName returns a printable representation of b for protocol logs.
//
// Control characters are rendered by name, printable ASCII is quoted and
// everything else is rendered as hex.
func ControlName(b byte) string {
	switch b {
	case STX:
		return "STX"
	case ETX:
		return "ETX"
	case EOT:
		return "EOT"
	case ENQ:
		return "ENQ"
	case ACK:
		return "ACK"
	case LF:
		return "LF"
	case CR:
		return "CR"
	case NAK:
		return "NAK"
	case ETB:
		return "ETB"
	}

	if b >= 0x20 && b <= 0x7E {
		return fmt.Sprintf("'%c'", b)
	}

	return fmt.Sprintf("0x%02X", b)
}

func isTerminator(b byte) bool {
	return b == ETX || b == ETB
}
