package e1381

import (
	"bytes"
	"strings"
)

// Message is the logical unit exchanged between peers: a sequence of ASTM
// records joined by CR.
//
// The transport does not interpret record contents. It only needs the joined
// byte form to segment into frames and hands the reassembled byte form back
// to the caller.
type Message []byte

// NewMessage joins records with CR and appends a trailing CR.
func NewMessage(records ...string) Message {
	if len(records) == 0 {
		return Message{}
	}

	var sb strings.Builder
	for _, rec := range records {
		sb.WriteString(rec)
		sb.WriteByte(CR)
	}

	return Message(sb.String())
}

// NormalizeMessage collapses CR LF pairs into a single CR and trims
// surrounding whitespace.
func NormalizeMessage(raw []byte) Message {
	out := bytes.ReplaceAll(raw, []byte{CR, LF}, []byte{CR})

	return Message(bytes.TrimSpace(out))
}

// Records splits the message into records. Runs of CR and LF are treated as
// one separator and empty records are dropped.
func (m Message) Records() []string {
	fields := bytes.FieldsFunc(m, func(r rune) bool {
		return r == rune(CR) || r == rune(LF)
	})

	records := make([]string, 0, len(fields))
	for _, f := range fields {
		records = append(records, string(f))
	}

	return records
}

// IsEmpty reports whether the message carries no record.
func (m Message) IsEmpty() bool {
	return len(bytes.TrimSpace(m)) == 0
}

// CaptureBytes renders the message as capture-file bytes: every record
// terminated by CR.
func (m Message) CaptureBytes() []byte {
	records := m.Records()
	if len(records) == 0 {
		return nil
	}

	return []byte(NewMessage(records...))
}

// String returns the message with CR rendered as newlines, for logs.
func (m Message) String() string {
	return strings.ReplaceAll(string(m), string(CR), "\n")
}
