package e1381

// Role is the part a session plays in an exchange.
type Role int

const (
	// RoleInitiator sends ENQ and transmits frames.
	RoleInitiator Role = iota
	// RoleResponder answers ENQ and receives frames.
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// Opposite returns the role on the other end of the link.
func (r Role) Opposite() Role {
	if r == RoleInitiator {
		return RoleResponder
	}

	return RoleInitiator
}

// State is the position of a session in its role's state machine.
//
// Initiator flow:
//
//	Idle → EnqSent → AwaitEnqAck → Transmitting ⇄ AwaitFrameAck → EOTSent → Done
//
// Responder flow:
//
//	Idle → AwaitEnq → AckSent → AwaitFrame → ReceivingFrame → Validating
//	     → AckSent | NakSent → AwaitFrame … → EOTReceived → Done
//
// Terminal error states are AbortedNoAck, AbortedTimeout, AbortedNakLimit,
// IdleTimeoutClose and Aborted.
type State int

const (
	StateIdle State = iota
	StateEnqSent
	StateAwaitEnqAck
	StateTransmitting
	StateAwaitFrameAck
	StateEOTSent
	StateAwaitEnq
	StateAckSent
	StateAwaitFrame
	StateReceivingFrame
	StateValidating
	StateNakSent
	StateEOTReceived
	StateDone
	StateAbortedNoAck
	StateAbortedTimeout
	StateAbortedNakLimit
	StateIdleTimeoutClose
	StateAborted
)

var stateNames = [...]string{
	StateIdle:             "IDLE",
	StateEnqSent:          "ENQ_SENT",
	StateAwaitEnqAck:      "AWAIT_ENQ_ACK",
	StateTransmitting:     "TRANSMITTING",
	StateAwaitFrameAck:    "AWAIT_FRAME_ACK",
	StateEOTSent:          "EOT_SENT",
	StateAwaitEnq:         "AWAIT_ENQ",
	StateAckSent:          "ACK_SENT",
	StateAwaitFrame:       "AWAIT_STX_OR_EOT",
	StateReceivingFrame:   "RECEIVING_FRAME",
	StateValidating:       "VALIDATING",
	StateNakSent:          "NAK_SENT",
	StateEOTReceived:      "EOT_RECEIVED",
	StateDone:             "DONE",
	StateAbortedNoAck:     "ABORTED_NO_ACK",
	StateAbortedTimeout:   "ABORTED_TIMEOUT",
	StateAbortedNakLimit:  "ABORTED_NAK_LIMIT",
	StateIdleTimeoutClose: "IDLE_TIMEOUT_CLOSE",
	StateAborted:          "ABORTED",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}

	return "UNKNOWN"
}

// IsTerminal reports whether no further transition can happen without a
// turnaround.
func (s State) IsTerminal() bool {
	return s >= StateDone
}

// IsAborted reports whether the session ended on an error. An idle close
// is a clean end, not an abort.
func (s State) IsAborted() bool {
	return s > StateDone && s != StateIdleTimeoutClose
}
