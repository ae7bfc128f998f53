package gateway

import "testing"

func TestReattemptBufferLazyAllocation(t *testing.T) {
	var buf ReattemptBuffer
	if buf.buf != nil {
		t.Fatalf("expected a fresh buffer to hold no backing array")
	}
	if !buf.Empty() {
		t.Fatalf("expected a fresh buffer to be empty")
	}
}

func TestReattemptBufferAppendAndParse(t *testing.T) {
	var buf ReattemptBuffer
	meta := []byte{9, 9}
	buf.AppendEnqMsg(42, []byte("payload"), meta)

	if buf.readTag(0) != frameTagEnqMsg {
		t.Fatalf("expected ENQ_MSG tag at offset 0")
	}
	v := buf.parseEnqMsg(0)
	if v.seq != 42 {
		t.Fatalf("expected seq 42, got %d", v.seq)
	}
	if string(buf.bodyAt(v)) != "payload" {
		t.Fatalf("expected body %q, got %q", "payload", buf.bodyAt(v))
	}
	if v.metaLen != len(meta) {
		t.Fatalf("expected metaLen %d, got %d", len(meta), v.metaLen)
	}
}

func TestReattemptBufferOverwriteSeq(t *testing.T) {
	var buf ReattemptBuffer
	buf.AppendEnqMsg(5, []byte("x"), nil)
	buf.overwriteSeq(0, NotLastReplayMsg)

	v := buf.parseEnqMsg(0)
	if v.seq != NotLastReplayMsg {
		t.Fatalf("expected seq rewritten to NotLastReplayMsg, got %d", v.seq)
	}
}

func TestReattemptBufferPeekIsStartReplayBoundsChecked(t *testing.T) {
	var buf ReattemptBuffer
	buf.AppendReplayComplete(1)

	// Nothing follows the complete marker: the peek must not read past usage.
	if buf.peekIsStartReplay(buf.usage) {
		t.Fatalf("expected peekIsStartReplay to report false with no bytes remaining")
	}

	buf.AppendStartReplay(2)
	if !buf.peekIsStartReplay(replayCompleteFrameLen) {
		t.Fatalf("expected peekIsStartReplay to find the ENQ_START_REPLAY frame")
	}
}

func TestReattemptBufferGrowsWithoutCorruption(t *testing.T) {
	var buf ReattemptBuffer
	const n = 500
	for i := 0; i < n; i++ {
		buf.AppendEnqMsg(int32(i), []byte{byte(i)}, nil)
	}

	off := 0
	for i := 0; i < n; i++ {
		if buf.readTag(off) != frameTagEnqMsg {
			t.Fatalf("frame %d: expected ENQ_MSG tag", i)
		}
		v := buf.parseEnqMsg(off)
		if v.seq != int32(i) {
			t.Fatalf("frame %d: expected seq %d, got %d", i, i, v.seq)
		}
		if buf.bodyAt(v)[0] != byte(i) {
			t.Fatalf("frame %d: body corrupted across growth", i)
		}
		off += v.frameLen
	}
	if off != buf.usage {
		t.Fatalf("expected to walk exactly usage bytes, walked %d of %d", off, buf.usage)
	}
}

func TestReattemptBufferShuffleZeroIsNoop(t *testing.T) {
	var buf ReattemptBuffer
	buf.AppendEnqMsg(1, []byte("a"), nil)
	before := buf.usage
	got := buf.Shuffle(0)
	if got != before {
		t.Fatalf("expected Shuffle(0) to be a no-op, usage went from %d to %d", before, got)
	}
}

func TestReattemptBufferRelease(t *testing.T) {
	var buf ReattemptBuffer
	buf.AppendEnqMsg(1, []byte("a"), nil)
	buf.Release()
	if !buf.Empty() || buf.buf != nil {
		t.Fatalf("expected Release to drop the backing array and reset usage")
	}
}
