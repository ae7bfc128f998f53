package gateway

import "testing"

func TestFramerLoopCreateAndLookup(t *testing.T) {
	f := NewFramerLoop()
	channel := newFakeChannel()
	ep := f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	if f.Lookup(1) != ep {
		t.Fatalf("expected Lookup to return the created endpoint")
	}
	if f.Lookup(2) != nil {
		t.Fatalf("expected Lookup to return nil for an unknown connection")
	}
}

func TestFramerLoopDispatchUnknownConnectionReturnsFalse(t *testing.T) {
	f := NewFramerLoop()
	if f.DispatchOutboundMessage(99, 7, []byte("x"), 0, 1, 1, 0, "D", 0, 0) {
		t.Fatalf("expected dispatch to an unknown connection to report false")
	}
	if f.DispatchReplayComplete(99, 1) {
		t.Fatalf("expected dispatch to an unknown connection to report false")
	}
}

func TestFramerLoopDispatchForwardsToEndpoint(t *testing.T) {
	f := NewFramerLoop()
	channel := newFakeChannel()
	f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	ok := f.DispatchOutboundMessage(1, 7, []byte("A"), 0, 1, 1, 0, "D", 0, 0)
	if !ok {
		t.Fatalf("expected dispatch to a known connection to report true")
	}
	if string(channel.written) != "A" {
		t.Fatalf("expected the dispatched message to reach the socket, got %q", channel.written)
	}
}

func TestFramerLoopCompleteDisconnectRemovesAndNotifies(t *testing.T) {
	f := NewFramerLoop()
	channel := newFakeChannel()
	f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	var notified []DisconnectReason
	f.OnDisconnect = func(connectionID uint64, reason DisconnectReason) {
		notified = append(notified, reason)
	}

	f.CompleteDisconnect(1, ReasonPeerClosed)

	if f.Lookup(1) != nil {
		t.Fatalf("expected the endpoint to be removed from the table")
	}
	if len(notified) != 1 || notified[0] != ReasonPeerClosed {
		t.Fatalf("expected OnDisconnect to fire once with ReasonPeerClosed, got %v", notified)
	}
}

func TestFramerLoopRouteDisconnect(t *testing.T) {
	f := NewFramerLoop()
	channel := newFakeChannel()
	f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	f.RouteDisconnect(1, ReasonAdminClose)

	if f.Lookup(1) != nil {
		t.Fatalf("expected RouteDisconnect to tear the endpoint down and remove it")
	}
	if !channel.closed {
		t.Fatalf("expected the channel to be closed on routed disconnect")
	}
}

func TestFramerLoopTickDrivesWatchdog(t *testing.T) {
	f := NewFramerLoop()
	channel := newFakeChannel()
	channel.unlimited = false
	channel.accept = 0
	f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	ok := f.DispatchOutboundMessage(1, 7, []byte("hello"), 0, 5, 1, 0, "D", 0, 0)
	if !ok {
		t.Fatalf("expected dispatch to succeed")
	}

	f.Tick(5001)

	if f.Lookup(1) != nil {
		t.Fatalf("expected the tick loop's watchdog to disconnect the slow consumer")
	}
}

func TestFramerLoopTickVisitsEndpointsInAscendingOrder(t *testing.T) {
	f := NewFramerLoop()

	var disconnected []uint64
	f.OnDisconnect = func(connectionID uint64, reason DisconnectReason) {
		disconnected = append(disconnected, connectionID)
	}

	ids := []uint64{50, 3, 27, 1, 9}
	for _, id := range ids {
		channel := newFakeChannel()
		channel.unlimited = false
		channel.accept = 0
		f.CreateEndpoint(EndpointConfig{ConnectionID: id, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channel, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)
		if ok := f.DispatchOutboundMessage(id, 7, []byte("hello"), 0, 5, 1, 0, "D", 0, 0); !ok {
			t.Fatalf("expected dispatch to succeed for connection %d", id)
		}
	}

	// Every endpoint is an equally slow consumer as of nowMs=5001, so Tick's
	// watchdog disconnects all five in the order it visits them.
	f.Tick(5001)

	want := []uint64{1, 3, 9, 27, 50}
	if len(disconnected) != len(want) {
		t.Fatalf("expected %d endpoints disconnected, got %d (%v)", len(want), len(disconnected), disconnected)
	}
	for i := range want {
		if disconnected[i] != want[i] {
			t.Fatalf("expected ascending connectionID disconnect order %v, got %v", want, disconnected)
		}
	}
}

func TestFramerLoopSnapshotAggregatesBacklogAndSlowConsumers(t *testing.T) {
	f := NewFramerLoop()

	channelA := newFakeChannel()
	channelA.unlimited = false
	channelA.accept = 0
	f.CreateEndpoint(EndpointConfig{ConnectionID: 1, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channelA, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)
	if ok := f.DispatchOutboundMessage(1, 7, []byte("hello"), 0, 5, 1, 0, "D", 0, 0); !ok {
		t.Fatalf("expected dispatch to succeed")
	}

	channelB := newFakeChannel()
	f.CreateEndpoint(EndpointConfig{ConnectionID: 2, LibraryID: 7, MaxBytesInBuffer: 1000, SlowConsumerTimeoutMs: 5000}, channelB, &fakeErrorSink{}, &fakeCounters{}, nil, nil, nil)

	active, slow, backlogBytes := f.Snapshot()
	if active != 2 {
		t.Fatalf("expected 2 active endpoints, got %d", active)
	}
	if slow != 1 {
		t.Fatalf("expected 1 slow consumer (endpoint 1, buffered and unconfirmed), got %d", slow)
	}
	if backlogBytes <= 0 {
		t.Fatalf("expected positive backlog bytes from the buffered message, got %d", backlogBytes)
	}
}
