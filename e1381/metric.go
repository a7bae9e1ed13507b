package e1381

import (
	"sync/atomic"
)

// Metrics contains atomic counters for E1381 sessions.
//
// A single Metrics may be shared by any number of concurrent sessions.
// Values can be exported as prometheus CounterFunc or GaugeFunc, see the
// metrics package.
type Metrics struct {
	// FrameSendCount indicates the number of frames sent and ACK'd.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames received and accepted.
	FrameRecvCount atomic.Uint64
	// FrameRetryCount indicates the number of frame retransmissions.
	FrameRetryCount atomic.Uint64
	// NakSentCount indicates the number of NAKs sent to the peer.
	NakSentCount atomic.Uint64
	// ChecksumErrCount indicates the number of inbound checksum mismatches.
	ChecksumErrCount atomic.Uint64
	// StrayByteCount indicates the number of discarded out-of-protocol bytes.
	StrayByteCount atomic.Uint64

	// MsgSendCount indicates the number of messages sent.
	MsgSendCount atomic.Uint64
	// MsgRecvCount indicates the number of messages received.
	MsgRecvCount atomic.Uint64
	// HandshakeErrCount indicates the number of rejected ENQ handshakes.
	HandshakeErrCount atomic.Uint64
	// SessionErrCount indicates the number of sessions ended by a fatal error.
	SessionErrCount atomic.Uint64
	// IdleTimeoutCount indicates the number of sessions closed for inactivity.
	IdleTimeoutCount atomic.Uint64

	// ActiveSessions indicates the number of sessions currently running.
	ActiveSessions atomic.Int64
}

// The helpers below accept a nil receiver so that sessions without metrics
// need no guard at every call site.

func (m *Metrics) incFrameSendCount() {
	if m != nil {
		m.FrameSendCount.Add(1)
	}
}

func (m *Metrics) incFrameRecvCount() {
	if m != nil {
		m.FrameRecvCount.Add(1)
	}
}

func (m *Metrics) incFrameRetryCount() {
	if m != nil {
		m.FrameRetryCount.Add(1)
	}
}

func (m *Metrics) incNakSentCount() {
	if m != nil {
		m.NakSentCount.Add(1)
	}
}

func (m *Metrics) incChecksumErrCount() {
	if m != nil {
		m.ChecksumErrCount.Add(1)
	}
}

func (m *Metrics) incStrayByteCount() {
	if m != nil {
		m.StrayByteCount.Add(1)
	}
}

func (m *Metrics) incMsgSendCount() {
	if m != nil {
		m.MsgSendCount.Add(1)
	}
}

func (m *Metrics) incMsgRecvCount() {
	if m != nil {
		m.MsgRecvCount.Add(1)
	}
}

func (m *Metrics) incHandshakeErrCount() {
	if m != nil {
		m.HandshakeErrCount.Add(1)
	}
}

func (m *Metrics) incSessionErrCount() {
	if m != nil {
		m.SessionErrCount.Add(1)
	}
}

func (m *Metrics) incIdleTimeoutCount() {
	if m != nil {
		m.IdleTimeoutCount.Add(1)
	}
}

func (m *Metrics) incActiveSessions() {
	if m != nil {
		m.ActiveSessions.Add(1)
	}
}

func (m *Metrics) decActiveSessions() {
	if m != nil {
		m.ActiveSessions.Add(-1)
	}
}
