package gateway

import "sync/atomic"

// baseSenderEndpoint is the shared contract of §4.B: socket ownership,
// slow-consumer timeout bookkeeping, disconnect plumbing, and the
// bytes_in_buffer counter. FixSenderEndpoint embeds it and reuses its
// methods as-is except Close, which it wraps to also release its reattempt
// buffers. Poll is not part of the base; each concrete variant implements
// it for itself (the FIX-P variant described in §9 would share this same
// base but skip the replay-stream scaffolding).
type baseSenderEndpoint struct {
	connectionID uint64

	channel   TcpChannel
	errorSink ErrorSink
	framer    Framer
	counters  Counters

	maxBytesInBuffer      int32
	slowConsumerTimeoutMs int64

	// bytesInBuffer is the only field read off the framer thread. It is
	// stored atomically by publishBytesInBuffer and read atomically by
	// IsSlowConsumer; Counters.SetBytesInBuffer is handed the value as an
	// argument and never reads this field.
	bytesInBuffer int64

	sendingTimeoutDeadlineMs int64

	// lastSlowStatus tracks whether SendSlowStatus last published true or
	// false, so two consecutive calls with the same value are suppressed
	// (testable property §8.5).
	lastSlowStatus    bool
	slowStatusPublished bool

	closed bool
}

func newBaseSenderEndpoint(connectionID uint64, channel TcpChannel, errorSink ErrorSink, framer Framer, counters Counters, maxBytesInBuffer int32, slowConsumerTimeoutMs int64) baseSenderEndpoint {
	return baseSenderEndpoint{
		connectionID:          connectionID,
		channel:               channel,
		errorSink:             errorSink,
		framer:                framer,
		counters:              counters,
		maxBytesInBuffer:      maxBytesInBuffer,
		slowConsumerTimeoutMs: slowConsumerTimeoutMs,
	}
}

// IsSlowConsumer is a weakly observed bytes_in_buffer > 0 (§4.B).
func (b *baseSenderEndpoint) IsSlowConsumer() bool {
	return atomic.LoadInt64(&b.bytesInBuffer) > 0
}

// SendSlowStatus publishes a slow/not-slow transition, idempotent at
// transitions only: two consecutive calls carrying the same value are a
// no-op after the first.
func (b *baseSenderEndpoint) SendSlowStatus(slow bool) {
	if b.slowStatusPublished && b.lastSlowStatus == slow {
		return
	}
	b.lastSlowStatus = slow
	b.slowStatusPublished = true
	b.counters.SetSlowConsumer(b.connectionID, slow)
}

// publishBytesInBuffer stores the active-stream usage and forwards it to
// the counters backend, in that order, so an off-thread reader observing
// the atomic always sees a value consistent with what was just published.
func (b *baseSenderEndpoint) publishBytesInBuffer(v int64) {
	atomic.StoreInt64(&b.bytesInBuffer, v)
	b.counters.SetBytesInBuffer(b.connectionID, v)
}

// refreshDeadline extends the slow-consumer watchdog after any successful
// write (bytesWritten > 0), per §4.C's slow-consumer policy.
func (b *baseSenderEndpoint) refreshDeadline(nowMs int64) {
	b.sendingTimeoutDeadlineMs = nowMs + b.slowConsumerTimeoutMs
}

// timedOut reports whether the slow-consumer watchdog has expired while
// still slow. Does not itself disconnect; the caller (Poll) does.
func (b *baseSenderEndpoint) timedOut(nowMs int64) bool {
	return b.IsSlowConsumer() && nowMs > b.sendingTimeoutDeadlineMs
}

// Close closes the socket. Idempotent. It does not touch the counters: the
// values last published for this connection stay in the Counters backend.
func (b *baseSenderEndpoint) Close() {
	if b.closed {
		return
	}
	b.closed = true
	_ = b.channel.Close()
}
