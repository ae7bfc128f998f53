package gateway

import (
	"bytes"
	"testing"
)

func TestThrottleRejectBuilderUnconfiguredDisablesCap(t *testing.T) {
	b := NewThrottleRejectBuilder(0, 0)
	for i := 0; i < 5; i++ {
		if _, ok := b.BuildReject("D", int32(i), int32(i), RefMsgID{}); !ok {
			t.Fatalf("expected every call to succeed when unconfigured (limit <= 0)")
		}
	}
}

func TestThrottleRejectBuilderGatesWithinWindow(t *testing.T) {
	b := NewThrottleRejectBuilder(1000, 1)

	if _, ok := b.BuildReject("D", 1, 1, RefMsgID{}); !ok {
		t.Fatalf("expected the first reject in the window to succeed")
	}
	if _, ok := b.BuildReject("D", 2, 2, RefMsgID{}); ok {
		t.Fatalf("expected the second reject in the same window to be gated")
	}
}

func TestThrottleRejectBuilderReconfigureResetsLimit(t *testing.T) {
	b := NewThrottleRejectBuilder(1000, 1)
	b.BuildReject("D", 1, 1, RefMsgID{})

	b.Reconfigure(0, 0)
	if _, ok := b.BuildReject("D", 2, 2, RefMsgID{}); !ok {
		t.Fatalf("expected reconfiguring to an unconfigured limiter to lift the cap")
	}
}

func TestEncodeBusinessMessageRejectFields(t *testing.T) {
	refID := RefMsgID{Buf: []byte("ABC123"), Off: 0, Len: 6}
	body := encodeBusinessMessageReject("D", 7, 12, refID)

	want := [][]byte{
		[]byte("35=j\x01"),
		[]byte("34=12\x01"),
		[]byte("372=D\x01"),
		[]byte("45=7\x01"),
		[]byte("380=99\x01"),
		[]byte("379=ABC123\x01"),
	}
	for _, w := range want {
		if !bytes.Contains(body, w) {
			t.Fatalf("expected reject body to contain %q, got %q", w, body)
		}
	}
}

func TestEncodeBusinessMessageRejectWithoutRefID(t *testing.T) {
	body := encodeBusinessMessageReject("D", 7, 12, RefMsgID{})
	if bytes.Contains(body, []byte("379=")) {
		t.Fatalf("expected no tag 379 when refID is empty, got %q", body)
	}
}

func TestAppendIntDigitsNegativeAndZero(t *testing.T) {
	if got := string(appendIntDigits(nil, 0)); got != "0" {
		t.Fatalf("expected %q, got %q", "0", got)
	}
	if got := string(appendIntDigits(nil, -42)); got != "-42" {
		t.Fatalf("expected %q, got %q", "-42", got)
	}
	if got := string(appendIntDigits(nil, 123)); got != "123" {
		t.Fatalf("expected %q, got %q", "123", got)
	}
}
