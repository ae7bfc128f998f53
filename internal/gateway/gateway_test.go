package gateway

import "errors"

// fakeChannel is an in-memory TcpChannel for tests. unlimited == true means
// "take everything" (infinite-capacity socket) and accept is ignored;
// otherwise accept is a byte budget: each Write takes at most accept bytes
// off the front of buf and decrements accept by what it took.
type fakeChannel struct {
	written       []byte
	accept        int
	unlimited     bool
	failNext      bool
	closed        bool
	writeCalls    int
	replayDoneIDs []int64
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{unlimited: true}
}

func (f *fakeChannel) Write(buf []byte, seq int32, replay bool) (int, error) {
	f.writeCalls++
	if f.failNext {
		f.failNext = false
		return 0, errors.New("fake write error")
	}
	if f.closed {
		panic("write after close")
	}
	n := len(buf)
	if !f.unlimited {
		if f.accept < n {
			n = f.accept
		}
		f.accept -= n
	}
	f.written = append(f.written, buf[:n]...)
	return n, nil
}

func (f *fakeChannel) OnReplayComplete(correlationID int64) {
	f.replayDoneIDs = append(f.replayDoneIDs, correlationID)
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

// fakeFramer records complete_disconnect calls instead of owning a real
// endpoint table.
type fakeFramer struct {
	disconnects []disconnectCall
}

type disconnectCall struct {
	connectionID uint64
	reason       DisconnectReason
}

func (f *fakeFramer) CompleteDisconnect(connectionID uint64, reason DisconnectReason) {
	f.disconnects = append(f.disconnects, disconnectCall{connectionID, reason})
}

// fakeCounters records every counter call for assertions.
type fakeCounters struct {
	bytesInBuffer           int64
	invalidLibraryAttempts  int
	slowConsumerCalls       []bool
	partialWrites           int
	throttleRejects         int
}

func (c *fakeCounters) SetBytesInBuffer(connectionID uint64, v int64) { c.bytesInBuffer = v }
func (c *fakeCounters) IncInvalidLibraryAttempts(connectionID uint64) { c.invalidLibraryAttempts++ }
func (c *fakeCounters) SetSlowConsumer(connectionID uint64, slow bool) {
	c.slowConsumerCalls = append(c.slowConsumerCalls, slow)
}
func (c *fakeCounters) IncPartialWrite(connectionID uint64)   { c.partialWrites++ }
func (c *fakeCounters) IncThrottleReject(connectionID uint64) { c.throttleRejects++ }

// fakeErrorSink records every error callback.
type fakeErrorSink struct {
	ioErrors        int
	invariantErrors []string
	configErrors    []string
}

func (e *fakeErrorSink) OnIOError(connectionID uint64, err error) { e.ioErrors++ }
func (e *fakeErrorSink) OnInvariantViolation(connectionID uint64, msg string) {
	e.invariantErrors = append(e.invariantErrors, msg)
}
func (e *fakeErrorSink) OnConfigError(connectionID uint64, msg string) {
	e.configErrors = append(e.configErrors, msg)
}

// fakeInbound is an InboundPublisher whose reply can be scripted per call,
// and records every correlation id it was asked to signal.
type fakeInbound struct {
	reply   Action
	calls   []int64
}

func (p *fakeInbound) OnReplayComplete(correlationID int64) Action {
	p.calls = append(p.calls, correlationID)
	return p.reply
}

// fakeTiming records every message.on_message invocation in order.
type fakeTiming struct {
	seqs []int32
}

func (t *fakeTiming) OnMessage(seq int32, connectionID uint64, buf []byte, metaOffset, metaLen int) {
	t.seqs = append(t.seqs, seq)
}

func newTestEndpoint(maxBytes int32, timeoutMs int64) (*FixSenderEndpoint, *fakeChannel, *fakeFramer, *fakeCounters, *fakeErrorSink, *fakeInbound, *fakeTiming) {
	channel := newFakeChannel()
	framer := &fakeFramer{}
	counters := &fakeCounters{}
	errs := &fakeErrorSink{}
	inbound := &fakeInbound{reply: ActionContinue}
	timing := &fakeTiming{}
	ep := NewFixSenderEndpoint(EndpointConfig{
		ConnectionID:          1,
		LibraryID:             7,
		MaxBytesInBuffer:      maxBytes,
		SlowConsumerTimeoutMs: timeoutMs,
	}, channel, errs, framer, counters, inbound, timing, nil)
	return ep, channel, framer, counters, errs, inbound, timing
}
