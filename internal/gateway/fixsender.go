// Package gateway implements the per-connection sender endpoint that
// multiplexes live ("normal") and replay outbound FIX message streams onto
// a single non-blocking TCP socket.
package gateway

// EndpointConfig carries the immutable identity and thresholds a framer
// supplies when it creates an endpoint for an accepted/initiated
// connection (spec §3's "immutable for the endpoint's lifetime" fields,
// plus the two SenderEndpoint thresholds of §4.B).
type EndpointConfig struct {
	ConnectionID          uint64
	LibraryID             int32
	MaxBytesInBuffer      int32
	SlowConsumerTimeoutMs int64
}

// SessionKey is the opaque composite identity a session acquires at logon
// (spec §3). It is set once via SetSession and is not read anywhere in this
// package; the throttle reject builder is built without it.
type SessionKey struct {
	SenderCompID   string
	TargetCompID   string
	SenderSubID    string
}

// outboundFrame is a uniform, zero-copy view over one message submitted to
// the endpoint, normal or replay: body and (for normal messages only) a
// trailing metadata blob, both sub-slices of the same source buffer. This
// lets the timing callback locate metadata relative to whatever buffer the
// caller originally supplied, without an extra copy on the direct-write
// path.
type outboundFrame struct {
	seq     int32
	src     []byte
	bodyOff int
	bodyLen int
	metaOff int
	metaLen int
}

// FixSenderEndpoint is the multiplexer (spec §4.C / component C): it
// decides, for every submitted frame, whether to write it straight to the
// socket or append it to one of two per-stream ReattemptBuffers, replays
// the FIFO backlog on each poll tick, and runs the replay-start/replay-
// complete handshake described in §4.C.
type FixSenderEndpoint struct {
	baseSenderEndpoint

	libraryID int32

	sessionID  uint64
	sessionKey SessionKey
	dictionary any

	normal ReattemptBuffer
	replay ReattemptBuffer

	replaying            bool
	replayCorrelationID  int64
	replayCorrelationSet bool
	requiresRetry        bool
	reattemptBytesWritten int32

	lastNowMs int64

	inbound InboundPublisher
	timing  MessageTimingSink
	debug   DebugSink

	throttle         *ThrottleRejectBuilder
	throttleWindowMs int64
	throttleLimit    int
}

// NewFixSenderEndpoint constructs an endpoint bound to one accepted or
// initiated connection. timing and debug may be nil.
func NewFixSenderEndpoint(cfg EndpointConfig, channel TcpChannel, errorSink ErrorSink, framer Framer, counters Counters, inbound InboundPublisher, timing MessageTimingSink, debug DebugSink) *FixSenderEndpoint {
	return &FixSenderEndpoint{
		baseSenderEndpoint: newBaseSenderEndpoint(cfg.ConnectionID, channel, errorSink, framer, counters, cfg.MaxBytesInBuffer, cfg.SlowConsumerTimeoutMs),
		libraryID:          cfg.LibraryID,
		inbound:            inbound,
		timing:             timing,
		debug:              debug,
	}
}

// SetSession records the session identity established at logon. Called at
// most once per endpoint lifetime, by the (out of scope) session state
// machine.
func (e *FixSenderEndpoint) SetSession(sessionID uint64, key SessionKey, dictionary any) {
	e.sessionID = sessionID
	e.sessionKey = key
	e.dictionary = dictionary
}

// RequiresRetry reports the requires_retry flag: set when a frame is
// buffered on the active stream, cleared once the active stream drains
// while the other stream's buffer is empty. A frame buffered on the
// inactive stream (a live message submitted mid-replay) does not set it,
// so the flag can be false while that buffer still holds data.
func (e *FixSenderEndpoint) RequiresRetry() bool { return e.requiresRetry }

// Replaying reports whether the endpoint is currently focused on the
// replay stream.
func (e *FixSenderEndpoint) Replaying() bool { return e.replaying }

// BacklogBytes reports bytes currently queued across both reattempt
// streams. Used by FramerLoop.Snapshot for the wiring layer's periodic
// housekeeping summary.
func (e *FixSenderEndpoint) BacklogBytes() int64 {
	return int64(e.normal.Usage() + e.replay.Usage())
}

// Close releases both reattempt buffers in addition to the base contract's
// socket teardown (§3 "all buffers are released at destruction").
func (e *FixSenderEndpoint) Close() {
	if e.closed {
		return
	}
	e.normal.Release()
	e.replay.Release()
	e.baseSenderEndpoint.Close()
}

func (e *FixSenderEndpoint) disconnect(reason DisconnectReason) {
	if e.closed {
		return
	}
	e.Close()
	e.framer.CompleteDisconnect(e.connectionID, reason)
}

// Poll drains the active stream's backlog (alternating stream focus at
// burst boundaries) and checks the slow-consumer watchdog. Returns true
// iff it just disconnected itself for a slow-consumer timeout (§4.B).
func (e *FixSenderEndpoint) Poll(nowMs int64) bool {
	if e.closed {
		return false
	}
	e.lastNowMs = nowMs
	e.reattempt(nowMs)
	if e.closed {
		// reattempt may have disconnected for EXCEPTION; that is
		// reported through a different reason, not a timeout.
		return false
	}
	if e.timedOut(nowMs) {
		e.disconnect(ReasonSlowConsumer)
		return true
	}
	return false
}

// checkLibrary applies the library-id gate inputs 1 and 5 require (§4.C):
// a stale library cannot inject into a reassigned connection.
func (e *FixSenderEndpoint) checkLibrary(libraryID int32) bool {
	if libraryID != e.libraryID {
		e.counters.IncInvalidLibraryAttempts(e.connectionID)
		return false
	}
	return true
}

// OnOutboundMessage is input 1: a live application message from the
// library bound to this endpoint.
func (e *FixSenderEndpoint) OnOutboundMessage(libraryID int32, buf []byte, off, bodyLen int, seq, seqIdx int32, msgType string, nowMs int64, metaLen int) {
	if !e.checkLibrary(libraryID) {
		return
	}
	_ = seqIdx
	_ = msgType
	e.lastNowMs = nowMs
	f := outboundFrame{seq: seq, src: buf, bodyOff: off, bodyLen: bodyLen, metaOff: off + bodyLen, metaLen: metaLen}
	e.submit(false, f, nowMs)
}

// OnReplayMessage is input 2: a frame from the archive reader. Only the
// terminal frame of a burst carries its real seq; every other frame in the
// burst must carry NotLastReplayMsg.
func (e *FixSenderEndpoint) OnReplayMessage(buf []byte, off, bodyLen int, nowMs int64, seq int32) {
	e.lastNowMs = nowMs
	f := outboundFrame{seq: seq, src: buf, bodyOff: off, bodyLen: bodyLen, metaOff: off + bodyLen, metaLen: 0}
	e.submit(true, f, nowMs)
}

// OnThrottleReject is input 5: constructs a synthetic Business Message
// Reject via the (lazily built) throttle builder and feeds it through the
// same path as a live outbound message, including the library gate.
func (e *FixSenderEndpoint) OnThrottleReject(libraryID int32, refMsgType string, refSeqNum, seq int32, refID RefMsgID, nowMs int64) {
	builder := e.throttleBuilder()
	body, ok := builder.BuildReject(refMsgType, refSeqNum, seq, refID)
	if !ok {
		e.errorSink.OnConfigError(e.connectionID, "throttle reject: configuration error, reject skipped")
		e.counters.IncThrottleReject(e.connectionID)
		return
	}
	e.OnOutboundMessage(libraryID, body, 0, len(body), seq, 0, businessMessageRejectMsgType, nowMs, 0)
}

// OnValidResendRequest is input 6: observational only.
func (e *FixSenderEndpoint) OnValidResendRequest(correlationID int64) {
	if e.debug != nil {
		e.debug.OnValidResendRequest(e.connectionID, correlationID)
	}
}

// ConfigureThrottle is input 7: reconfigures the throttle builder's rate
// gate. Construction stays lazy; a builder already in use is reconfigured
// in place.
func (e *FixSenderEndpoint) ConfigureThrottle(windowMs int64, limit int) {
	e.throttleWindowMs = windowMs
	e.throttleLimit = limit
	if e.throttle != nil {
		e.throttle.Reconfigure(windowMs, limit)
	}
}

func (e *FixSenderEndpoint) throttleBuilder() *ThrottleRejectBuilder {
	if e.throttle == nil {
		e.throttle = NewThrottleRejectBuilder(e.throttleWindowMs, e.throttleLimit)
	}
	return e.throttle
}

// OnStartReplay is input 3: notifies that a replay burst is about to
// begin.
func (e *FixSenderEndpoint) OnStartReplay(correlationID int64) {
	if e.closed {
		return
	}
	if e.replaying || e.requiresRetry {
		e.replay.AppendStartReplay(correlationID)
		e.afterBufferedAppend(true, e.lastNowMs)
		return
	}
	e.replaying = true
	e.replayCorrelationID = correlationID
	e.replayCorrelationSet = true
}

// OnReplayComplete is input 4: the terminal sentinel for a burst, also
// reachable internally via checkLastReplayedMessage when the burst
// self-terminates through its own terminal data frame. Returns true if the
// completion was (or had already been) honored, false if it was parked
// because of buffer ordering or inbound-publisher back-pressure.
func (e *FixSenderEndpoint) OnReplayComplete(correlationID int64) bool {
	if !e.replaying && !e.replayCorrelationSet {
		// Already self-terminated via the burst's terminal replay frame;
		// this is the expected, redundant notification from the resend
		// controller. Do not signal the bus a second time.
		return true
	}
	if !e.drainReplayNow() {
		e.enqueueReplayCompleteMarker(correlationID)
		return false
	}
	if !e.completeBurstSignal(correlationID) {
		e.enqueueReplayCompleteMarker(correlationID)
		return false
	}
	e.replaying = false
	return true
}

func (e *FixSenderEndpoint) drainReplayNow() bool {
	e.processReattemptBuffer(true, e.lastNowMs)
	return e.replay.Empty()
}

func (e *FixSenderEndpoint) enqueueReplayCompleteMarker(correlationID int64) {
	e.replay.AppendReplayComplete(correlationID)
	e.afterBufferedAppend(true, e.lastNowMs)
}

// completeBurstSignal delivers the replay-complete signal to the inbound
// bus and the transport channel. Returns false if the publisher is
// back-pressured (ABORT); callers must leave local state untouched so a
// later attempt can retry.
func (e *FixSenderEndpoint) completeBurstSignal(correlationID int64) bool {
	if e.inbound != nil && e.inbound.OnReplayComplete(correlationID) == ActionAbort {
		return false
	}
	e.channel.OnReplayComplete(correlationID)
	e.replayCorrelationSet = false
	return true
}

// checkLastReplayedMessage is true iff the replay-complete handshake
// demands pausing here: the frame under consideration is the terminal
// frame of a replay burst (replay == true and seq carries a real,
// non-sentinel value) and the completion signal could not be delivered.
// A successful delivery terminates the burst in place and returns false so
// the caller proceeds to write this (real, final) frame normally.
func (e *FixSenderEndpoint) checkLastReplayedMessage(seq int32, replay bool) bool {
	if !replay || seq == NotLastReplayMsg {
		return false
	}
	if !e.completeBurstSignal(e.replayCorrelationID) {
		return true
	}
	e.replaying = false
	return false
}

// submit is the core write-or-enqueue decision (§4.C). A no-op once the
// endpoint has disconnected: no further writes reach the socket regardless
// of subsequent submissions (§8 invariant 6).
func (e *FixSenderEndpoint) submit(replay bool, f outboundFrame, nowMs int64) {
	if e.closed {
		return
	}
	direct := replay == e.replaying && !e.requiresRetry
	if direct {
		direct = !e.checkLastReplayedMessage(f.seq, replay)
	}
	if direct {
		e.writeDirect(f, replay, nowMs)
		return
	}
	e.enqueueFrame(f, replay)
}

func (e *FixSenderEndpoint) enqueueFrame(f outboundFrame, replay bool) {
	body := f.src[f.bodyOff : f.bodyOff+f.bodyLen]
	meta := f.src[f.metaOff : f.metaOff+f.metaLen]
	e.bufferFor(replay).AppendEnqMsg(f.seq, body, meta)
	e.afterBufferedAppend(replay, e.lastNowMs)
}

func (e *FixSenderEndpoint) writeDirect(f outboundFrame, replay bool, nowMs int64) {
	body := f.src[f.bodyOff : f.bodyOff+f.bodyLen]
	n, err := e.channel.Write(body, f.seq, replay)
	if err != nil {
		e.errorSink.OnIOError(e.connectionID, err)
		e.disconnect(ReasonException)
		return
	}
	if n > 0 {
		e.refreshDeadline(nowMs)
	}
	total := int(e.reattemptBytesWritten) + n
	if total < f.bodyLen {
		e.reattemptBytesWritten = int32(total)
		enqSeq := f.seq
		if replay {
			enqSeq = NotLastReplayMsg
		}
		meta := f.src[f.metaOff : f.metaOff+f.metaLen]
		e.bufferFor(replay).AppendEnqMsg(enqSeq, body, meta)
		e.counters.IncPartialWrite(e.connectionID)
		if e.debug != nil {
			e.debug.OnBackPressure(e.connectionID, replay, total, f.bodyLen)
		}
		e.afterBufferedAppend(replay, nowMs)
		return
	}
	e.reattemptBytesWritten = 0
	if !replay && e.timing != nil {
		e.timing.OnMessage(f.seq, e.connectionID, f.src, f.metaOff, f.metaLen)
	}
}

// afterBufferedAppend runs the overflow check (disconnect trigger 1) and
// the requires_retry/slow-status/deadline bookkeeping shared by every path
// that appends a frame to the stream named by replay.
func (e *FixSenderEndpoint) afterBufferedAppend(replay bool, nowMs int64) {
	buf := e.bufferFor(replay)
	e.checkOverflow(replay, buf)
	if e.closed {
		return
	}
	if replay == e.replaying && !e.requiresRetry {
		e.requiresRetry = true
		e.refreshDeadline(nowMs)
		e.SendSlowStatus(true)
	}
	e.publishActiveUsage()
}

// checkOverflow is disconnect trigger 1 (§4.C slow-consumer policy):
// appending to the active stream past max_bytes_in_buffer disconnects
// immediately.
func (e *FixSenderEndpoint) checkOverflow(replay bool, buf *ReattemptBuffer) {
	if replay != e.replaying {
		return
	}
	if int32(buf.Usage()) > e.maxBytesInBuffer {
		e.disconnect(ReasonSlowConsumer)
	}
}

func (e *FixSenderEndpoint) bufferFor(replay bool) *ReattemptBuffer {
	if replay {
		return &e.replay
	}
	return &e.normal
}

// publishActiveUsage republishes bytes_in_buffer from whichever stream is
// currently active, satisfying invariant §8.3 regardless of which code
// path just mutated state.
func (e *FixSenderEndpoint) publishActiveUsage() {
	usage := e.bufferFor(e.replaying).Usage()
	e.publishBytesInBuffer(int64(usage))
}

// processReattemptBuffer walks the named stream's buffer from offset 0,
// writing what it can and stopping at the first frame it cannot fully
// flush or is not yet allowed to process (§4.C "Drain"). Returns true if
// the stream is caught up (empty) afterward, and also when the walk is
// abandoned on a socket write error or an unknown frame tag.
func (e *FixSenderEndpoint) processReattemptBuffer(replay bool, nowMs int64) bool {
	buf := e.bufferFor(replay)
	off := 0

loop:
	for off < buf.usage {
		switch buf.readTag(off) {
		case frameTagEnqMsg:
			v := buf.parseEnqMsg(off)
			if e.checkLastReplayedMessage(v.seq, replay) {
				e.reattemptBytesWritten = 0
				break loop
			}
			if replay {
				buf.overwriteSeq(off, NotLastReplayMsg)
			}
			body := buf.bodyAt(v)
			writeOff := int(e.reattemptBytesWritten)
			n, err := e.channel.Write(body[writeOff:], v.seq, replay)
			if err != nil {
				e.errorSink.OnIOError(e.connectionID, err)
				e.disconnect(ReasonException)
				return true
			}
			if n > 0 {
				e.refreshDeadline(nowMs)
			}
			total := writeOff + n
			if total < v.bodyLen {
				e.reattemptBytesWritten = int32(total)
				break loop
			}
			e.reattemptBytesWritten = 0
			if !replay && e.timing != nil {
				e.timing.OnMessage(v.seq, e.connectionID, buf.buf, v.metaOff, v.metaLen)
			}
			off += v.frameLen

		case frameTagEnqReplayComplete:
			e.reattemptBytesWritten = 0
			correlationID := buf.readCorrelationID(off)
			endOfEntry := off + replayCompleteFrameLen
			if !e.completeBurstSignal(correlationID) {
				break loop
			}
			if buf.peekIsStartReplay(endOfEntry) {
				off = endOfEntry
				continue loop
			}
			e.replaying = false
			off = endOfEntry
			break loop

		case frameTagEnqStartReplay:
			e.replayCorrelationID = buf.readCorrelationID(off)
			e.replayCorrelationSet = true
			off += startReplayFrameLen

		default:
			e.errorSink.OnInvariantViolation(e.connectionID, "reattempt buffer: unknown frame tag")
			return true
		}
	}

	newUsage := buf.Shuffle(off)
	e.publishActiveUsage()
	return newUsage == 0
}

// reattempt drains the active stream and, once it catches up, considers
// flipping stream focus (§4.C "Stream alternation").
func (e *FixSenderEndpoint) reattempt(nowMs int64) bool {
	caughtUp := e.processReattemptBuffer(e.replaying, nowMs)
	if e.closed || !caughtUp {
		return false
	}
	if !e.requiresRetry {
		return true
	}
	other := e.bufferFor(!e.replaying)
	if other.Empty() {
		e.requiresRetry = false
		if !e.replayCorrelationSet {
			// The burst already delivered its completion signal while its
			// terminal frame was still draining: focus returns to normal.
			e.replaying = false
		}
		e.SendSlowStatus(false)
		e.publishActiveUsage()
		return true
	}
	e.replaying = !e.replaying
	e.publishActiveUsage()
	return false
}
