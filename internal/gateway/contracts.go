package gateway

// DisconnectReason identifies why the framer tore an endpoint down.
type DisconnectReason int

const (
	// ReasonSlowConsumer means the peer could not keep up: either the
	// reattempt buffer overflowed max_bytes_in_buffer or the slow-consumer
	// watchdog timed out with backlog still pending.
	ReasonSlowConsumer DisconnectReason = iota
	// ReasonException means a socket write raised an I/O error.
	ReasonException
	// ReasonPeerClosed and ReasonAdminClose originate outside this
	// component (receive path / operator action); they exist here only so
	// Framer.CompleteDisconnect has a total argument type.
	ReasonPeerClosed
	ReasonAdminClose
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonSlowConsumer:
		return "SLOW_CONSUMER"
	case ReasonException:
		return "EXCEPTION"
	case ReasonPeerClosed:
		return "PEER_CLOSED"
	case ReasonAdminClose:
		return "ADMIN_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Action is the reply of an InboundPublisher.OnReplayComplete call. It
// mirrors an Aeron-style ExclusivePublication offer result: CONTINUE means
// the signal was accepted, ABORT means the publisher is back-pressured and
// the caller must retry later.
type Action int

const (
	ActionContinue Action = iota
	ActionAbort
)

// TcpChannel is the non-blocking socket seam (§6). Write must never block;
// a return of fewer bytes than len(buf) is legal and expected under
// back-pressure. OnReplayComplete is a side notification to the transport
// layer that a replay burst has ended (distinct from the inbound bus
// signal carried by InboundPublisher).
type TcpChannel interface {
	Write(buf []byte, seq int32, replay bool) (int, error)
	OnReplayComplete(correlationID int64)
	Close() error
}

// InboundPublisher is the shared message bus seam used to signal that a
// replay burst has completed. A CONTINUE return means the signal was
// delivered; ABORT means the publisher is back-pressured and the caller
// must re-enqueue the completion marker for a later attempt.
type InboundPublisher interface {
	OnReplayComplete(correlationID int64) Action
}

// MessageTimingSink fires once per successfully flushed non-replay
// message. Optional: a nil sink is never called.
type MessageTimingSink interface {
	OnMessage(seq int32, connectionID uint64, buf []byte, metaOffset, metaLen int)
}

// ErrorSink receives every error this component can produce. All calls are
// synchronous; the endpoint never panics or returns an exception to its
// caller.
type ErrorSink interface {
	OnIOError(connectionID uint64, err error)
	OnInvariantViolation(connectionID uint64, msg string)
	OnConfigError(connectionID uint64, msg string)
}

// Counters is the exported-counter seam (§6): bytes_in_buffer and
// invalid_library_attempts, plus the operational counters this expansion
// adds (partial writes, slow-consumer transitions) so they can be scraped
// by a concrete metrics backend.
type Counters interface {
	SetBytesInBuffer(connectionID uint64, v int64)
	IncInvalidLibraryAttempts(connectionID uint64)
	SetSlowConsumer(connectionID uint64, slow bool)
	IncPartialWrite(connectionID uint64)
	IncThrottleReject(connectionID uint64)
}

// Framer is the collaborator that owns the endpoint table and routes
// coordinated disconnects (§6 Framer.complete_disconnect).
type Framer interface {
	CompleteDisconnect(connectionID uint64, reason DisconnectReason)
}

// RefMsgID is a buffer-offset-length view into message bytes owned by the
// caller, used for the throttle reject's businessRejectRefId field so no
// copy is forced on the hot path.
type RefMsgID struct {
	Buf []byte
	Off int
	Len int
}

// DebugSink receives low-severity operational events that are not errors:
// partial-write back-pressure and valid resend requests (input 6 is
// observational only). Optional: a nil sink is never called.
type DebugSink interface {
	OnBackPressure(connectionID uint64, replay bool, written, bodyLen int)
	OnValidResendRequest(connectionID uint64, correlationID int64)
}
