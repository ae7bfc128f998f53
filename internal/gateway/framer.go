package gateway

import "sort"

// FramerLoop is the single cooperative event loop that owns every
// endpoint on one connection's process (§4.D, §5). It is not
// internally synchronized: every Dispatch* call, RouteDisconnect, and
// Tick must run on the same goroutine, the way a single Aeron/Agrona
// agent-runner thread drives one Framer in the system this component is
// modeled on. Handing an endpoint to a second goroutine is a caller bug,
// not something this type defends against.
type FramerLoop struct {
	endpoints map[uint64]*FixSenderEndpoint

	// OnDisconnect, if set, is notified after an endpoint is removed from
	// the table, so a wiring layer can track connection-count metrics
	// without this package depending on a concrete metrics backend.
	OnDisconnect func(connectionID uint64, reason DisconnectReason)
}

// NewFramerLoop builds an empty loop.
func NewFramerLoop() *FramerLoop {
	return &FramerLoop{endpoints: make(map[uint64]*FixSenderEndpoint)}
}

// CreateEndpoint registers a new endpoint for connectionID, replacing
// whatever was registered for it before (a stale connectionID is the
// caller's responsibility to avoid).
func (f *FramerLoop) CreateEndpoint(cfg EndpointConfig, channel TcpChannel, errorSink ErrorSink, counters Counters, inbound InboundPublisher, timing MessageTimingSink, debug DebugSink) *FixSenderEndpoint {
	ep := NewFixSenderEndpoint(cfg, channel, errorSink, f, counters, inbound, timing, debug)
	f.endpoints[cfg.ConnectionID] = ep
	return ep
}

// Lookup returns the endpoint for connectionID, or nil if none is
// registered (already disconnected, or never created).
func (f *FramerLoop) Lookup(connectionID uint64) *FixSenderEndpoint {
	return f.endpoints[connectionID]
}

// Tick polls every live endpoint's retry drain and slow-consumer watchdog,
// in ascending connectionID order. Go map iteration order is randomized per
// run; sorting keeps tick behavior reproducible across runs and in tests,
// even though the spec does not otherwise assign meaning to the order.
// Call repeatedly from the loop goroutine; nowMs should be monotonic
// milliseconds from whatever clock backs the caller's poll interval.
func (f *FramerLoop) Tick(nowMs int64) {
	ids := make([]uint64, 0, len(f.endpoints))
	for id := range f.endpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if ep := f.endpoints[id]; ep != nil {
			ep.Poll(nowMs)
		}
	}
}

// Snapshot reports an aggregate view of the endpoint table: how many
// endpoints are registered, how many currently require retry (slow
// consumers, per §8.4), and the total bytes queued across every endpoint's
// reattempt buffers. Must be called from the tick-loop goroutine, same as
// Tick itself — it walks the same unsynchronized map.
func (f *FramerLoop) Snapshot() (active, slow int, backlogBytes int64) {
	for _, ep := range f.endpoints {
		active++
		if ep.RequiresRetry() {
			slow++
		}
		backlogBytes += ep.BacklogBytes()
	}
	return active, slow, backlogBytes
}

// CompleteDisconnect is Framer.complete_disconnect (§6): an endpoint
// reporting that it has already closed its own channel and wants removing
// from the table.
func (f *FramerLoop) CompleteDisconnect(connectionID uint64, reason DisconnectReason) {
	delete(f.endpoints, connectionID)
	if f.OnDisconnect != nil {
		f.OnDisconnect(connectionID, reason)
	}
}

// RouteDisconnect lets a collaborator outside this component (peer-closed
// detection on the read side, an admin command) request a disconnect for a
// reason this endpoint does not originate itself.
func (f *FramerLoop) RouteDisconnect(connectionID uint64, reason DisconnectReason) {
	if ep := f.Lookup(connectionID); ep != nil {
		ep.disconnect(reason)
	}
}

// DispatchOutboundMessage forwards input 1 to the named endpoint. Reports
// ok=false (and does nothing) if connectionID is not currently registered.
func (f *FramerLoop) DispatchOutboundMessage(connectionID uint64, libraryID int32, buf []byte, off, bodyLen int, seq, seqIdx int32, msgType string, nowMs int64, metaLen int) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnOutboundMessage(libraryID, buf, off, bodyLen, seq, seqIdx, msgType, nowMs, metaLen)
	return true
}

// DispatchReplayMessage forwards input 2.
func (f *FramerLoop) DispatchReplayMessage(connectionID uint64, buf []byte, off, bodyLen int, nowMs int64, seq int32) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnReplayMessage(buf, off, bodyLen, nowMs, seq)
	return true
}

// DispatchStartReplay forwards input 3.
func (f *FramerLoop) DispatchStartReplay(connectionID uint64, correlationID int64) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnStartReplay(correlationID)
	return true
}

// DispatchReplayComplete forwards input 4.
func (f *FramerLoop) DispatchReplayComplete(connectionID uint64, correlationID int64) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnReplayComplete(correlationID)
	return true
}

// DispatchThrottleReject forwards input 5.
func (f *FramerLoop) DispatchThrottleReject(connectionID uint64, libraryID int32, refMsgType string, refSeqNum, seq int32, refID RefMsgID, nowMs int64) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnThrottleReject(libraryID, refMsgType, refSeqNum, seq, refID, nowMs)
	return true
}

// DispatchValidResendRequest forwards input 6.
func (f *FramerLoop) DispatchValidResendRequest(connectionID uint64, correlationID int64) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.OnValidResendRequest(correlationID)
	return true
}

// DispatchConfigureThrottle forwards input 7.
func (f *FramerLoop) DispatchConfigureThrottle(connectionID uint64, windowMs int64, limit int) bool {
	ep := f.Lookup(connectionID)
	if ep == nil {
		return false
	}
	ep.ConfigureThrottle(windowMs, limit)
	return true
}
