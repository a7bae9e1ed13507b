// Package e1381 provides an implementation of the ASTM E1381 low-level
// transfer protocol running over a TCP/IP stream.
//
// ASTM E1381 is the serial link protocol used by clinical laboratory
// instruments (PCR analyzers, chemistry analyzers) to move ASTM E1394
// records to and from a host system. This package adapts the protocol for
// use over TCP/IP, treating the TCP stream as a byte-oriented transport in
// place of an RS-232 line.
//
// # Protocol Overview
//
// E1381 is a half-duplex, frame-oriented protocol with explicit handshake
// control using single-byte control characters:
//
//   - ENQ (0x05): Request to Send
//   - ACK (0x06): Correct Reception / line granted
//   - NAK (0x15): Incorrect Reception / line declined
//   - EOT (0x04): End of Transmission
//
// A message is carried as one or more frames:
//
//	STX <frame-number> <text> ETX|ETB <checksum-hi> <checksum-lo> CR LF
//
// The frame number is a single ASCII digit cycling modulo 8. The checksum is
// the modulo-256 sum of the frame number, text and terminator, written as two
// uppercase hex digits. ETB marks an intermediate frame, ETX the last one.
//
// # Roles
//
// A [Session] drives one exchange in one of two roles:
//
//   - Initiator: sends ENQ, transmits frames, sends EOT.
//   - Responder: answers ENQ with ACK, validates frames until EOT.
//
// After an exchange completes, [Session.Turnaround] lets the same session
// swap roles once on the same stream, which is how instruments answer a
// query synchronously on one connection.
//
// # Timeouts
//
//   - Read timeout: maximum wait for any single blocking read (the reply to
//     ENQ, the reply to a frame, the next byte inside a frame).
//   - Idle timeout: maximum time a responder tolerates without protocol
//     progress, independent of individual reads.
package e1381
