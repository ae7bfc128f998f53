package gateway

import "encoding/binary"

// Frame tags for records stored in a ReattemptBuffer (spec §3).
const (
	frameTagEnqMsg            int32 = 1
	frameTagEnqReplayComplete int32 = 2
	frameTagEnqStartReplay    int32 = 3
)

// NotLastReplayMsg is the sentinel seq value marking a replay frame that is
// not the terminal frame of its burst. Only the burst's last frame carries
// a real seq; every other replay frame carries this sentinel. The endpoint
// also rewrites a buffered frame's stored seq to this value once it has
// already triggered the replay-complete check once, so a retried drain of
// the same frame does not trigger it a second time.
const NotLastReplayMsg int32 = -1

const (
	startReplayFrameLen    = 4 + 8 // tag + correlationId
	replayCompleteFrameLen = 4 + 8 // tag + correlationId
	enqMsgFixedHeaderLen   = 4 + 4 + 4 // tag + seq + bodyLen
)

// ReattemptBuffer is a growable byte arena holding buffered, not-yet-
// written frames for one stream (normal or replay). Bytes [0, usage) are
// always a concatenation of well-formed frames.
type ReattemptBuffer struct {
	buf   []byte
	usage int
}

// Usage reports the number of valid bytes currently buffered.
func (b *ReattemptBuffer) Usage() int { return b.usage }

// Empty reports whether the buffer holds no frames.
func (b *ReattemptBuffer) Empty() bool { return b.usage == 0 }

// reserveAppend grows the arena if needed and returns a slice at offset
// usage of length n, advancing usage by n. The happy path (buf == nil)
// never allocates until first use.
func (b *ReattemptBuffer) reserveAppend(n int) []byte {
	needed := b.usage + n
	if needed > len(b.buf) {
		grown := make([]byte, nextCapacity(len(b.buf), needed))
		copy(grown, b.buf[:b.usage])
		b.buf = grown
	}
	start := b.usage
	b.usage += n
	return b.buf[start:b.usage]
}

func nextCapacity(cur, need int) int {
	const initial = 4096
	if cur == 0 {
		cur = initial
	}
	for cur < need {
		cur *= 2
	}
	return cur
}

// Shuffle copies bytes [written, usage) down to offset 0 and returns the
// new usage. written == 0 is a no-op. Precondition: 0 <= written <= usage.
func (b *ReattemptBuffer) Shuffle(written int) int {
	if written < 0 || written > b.usage {
		panic("gateway: reattempt buffer shuffle out of range")
	}
	if written == 0 {
		return b.usage
	}
	copy(b.buf, b.buf[written:b.usage])
	b.usage -= written
	return b.usage
}

// Release drops the backing arena. Called at endpoint destruction.
func (b *ReattemptBuffer) Release() {
	b.buf = nil
	b.usage = 0
}

// AppendEnqMsg appends a full ENQ_MSG frame: tag|seq|bodyLen|body|metaLen|meta.
func (b *ReattemptBuffer) AppendEnqMsg(seq int32, body, meta []byte) {
	frameLen := enqMsgFixedHeaderLen + len(body) + 4 + len(meta)
	dst := b.reserveAppend(frameLen)
	off := 0
	binary.LittleEndian.PutUint32(dst[off:], uint32(frameTagEnqMsg))
	off += 4
	binary.LittleEndian.PutUint32(dst[off:], uint32(seq))
	off += 4
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(body)))
	off += 4
	copy(dst[off:], body)
	off += len(body)
	binary.LittleEndian.PutUint32(dst[off:], uint32(len(meta)))
	off += 4
	copy(dst[off:], meta)
}

// AppendReplayComplete appends an ENQ_REPLAY_COMPLETE marker.
func (b *ReattemptBuffer) AppendReplayComplete(correlationID int64) {
	dst := b.reserveAppend(replayCompleteFrameLen)
	binary.LittleEndian.PutUint32(dst[0:4], uint32(frameTagEnqReplayComplete))
	binary.LittleEndian.PutUint64(dst[4:12], uint64(correlationID))
}

// AppendStartReplay appends an ENQ_START_REPLAY marker.
func (b *ReattemptBuffer) AppendStartReplay(correlationID int64) {
	dst := b.reserveAppend(startReplayFrameLen)
	binary.LittleEndian.PutUint32(dst[0:4], uint32(frameTagEnqStartReplay))
	binary.LittleEndian.PutUint64(dst[4:12], uint64(correlationID))
}

// readTag reads the leading i32 tag of the frame at offset off.
func (b *ReattemptBuffer) readTag(off int) int32 {
	return int32(binary.LittleEndian.Uint32(b.buf[off : off+4]))
}

// readCorrelationID reads the i64 correlation id following the tag of an
// ENQ_REPLAY_COMPLETE or ENQ_START_REPLAY frame at offset off.
func (b *ReattemptBuffer) readCorrelationID(off int) int64 {
	return int64(binary.LittleEndian.Uint64(b.buf[off+4 : off+12]))
}

// enqMsgView is a parsed, zero-copy view of an ENQ_MSG frame at some offset.
type enqMsgView struct {
	seq                int32
	bodyOff, bodyLen   int
	metaOff, metaLen   int
	frameLen           int
}

func (b *ReattemptBuffer) parseEnqMsg(off int) enqMsgView {
	seq := int32(binary.LittleEndian.Uint32(b.buf[off+4 : off+8]))
	bodyLen := int(binary.LittleEndian.Uint32(b.buf[off+8 : off+12]))
	bodyOff := off + enqMsgFixedHeaderLen
	metaLenOff := bodyOff + bodyLen
	metaLen := int(binary.LittleEndian.Uint32(b.buf[metaLenOff : metaLenOff+4]))
	metaOff := metaLenOff + 4
	return enqMsgView{
		seq:      seq,
		bodyOff:  bodyOff,
		bodyLen:  bodyLen,
		metaOff:  metaOff,
		metaLen:  metaLen,
		frameLen: enqMsgFixedHeaderLen + bodyLen + 4 + metaLen,
	}
}

// overwriteSeq rewrites the seq field of the ENQ_MSG frame at off in place.
func (b *ReattemptBuffer) overwriteSeq(off int, seq int32) {
	binary.LittleEndian.PutUint32(b.buf[off+4:off+8], uint32(seq))
}

// bodyAt returns the bytes of an already-parsed ENQ_MSG frame's body.
func (b *ReattemptBuffer) bodyAt(v enqMsgView) []byte {
	return b.buf[v.bodyOff : v.bodyOff+v.bodyLen]
}

// peekIsStartReplay reports whether the frame immediately following an
// ENQ_REPLAY_COMPLETE marker ending at offset endOfReplayEntry is an
// ENQ_START_REPLAY frame. Bounds-checked per spec §9's Open Question: if no
// bytes remain at or past endOfReplayEntry, the burst is treated as ended.
func (b *ReattemptBuffer) peekIsStartReplay(endOfReplayEntry int) bool {
	if endOfReplayEntry >= b.usage {
		return false
	}
	return b.readTag(endOfReplayEntry) == frameTagEnqStartReplay
}
