package gateway

import (
	"time"

	"golang.org/x/time/rate"
)

// businessMessageRejectMsgType is the FIX MsgType (35=j) of a Business
// Message Reject, the only message ThrottleRejectBuilder ever produces.
const businessMessageRejectMsgType = "j"

// businessRejectReasonThrottleLimitExceeded is FIX tag 380 (BusinessRejectReason)
// value 99 ("Other"), the reason code the spec reserves for throttle rejects.
const businessRejectReasonThrottleLimitExceeded = 99

// ThrottleRejectBuilder constructs synthetic Business Message Reject bodies
// and gates how often an endpoint is willing to emit one, so a client
// hammering an invalid request can't also flood its own outbound stream
// with rejects. Grounded on the same golang.org/x/time/rate.Limiter
// chunked-wait idiom used for outbound byte throttling elsewhere in the
// corpus, but gating reject *count* rather than bytes.
type ThrottleRejectBuilder struct {
	limiter *rate.Limiter
}

// NewThrottleRejectBuilder builds a limiter allowing up to limit rejects
// per windowMs. limit <= 0 disables the cap (every call is allowed).
func NewThrottleRejectBuilder(windowMs int64, limit int) *ThrottleRejectBuilder {
	b := &ThrottleRejectBuilder{}
	b.Reconfigure(windowMs, limit)
	return b
}

// Reconfigure replaces the underlying rate limit in place.
func (b *ThrottleRejectBuilder) Reconfigure(windowMs int64, limit int) {
	if limit <= 0 || windowMs <= 0 {
		b.limiter = rate.NewLimiter(rate.Inf, 1)
		return
	}
	window := time.Duration(windowMs) * time.Millisecond
	b.limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

// BuildReject renders a Business Message Reject body referencing refMsgType
// and refSeqNum, tagging it with seq and businessRejectRefId. Returns
// ok=false if the builder has no limiter (a zero-value
// ThrottleRejectBuilder) or the reject rate is currently exhausted, in
// which case the caller must skip emitting a reject rather than block. A
// builder configured with limit <= 0 or windowMs <= 0 never returns false.
func (b *ThrottleRejectBuilder) BuildReject(refMsgType string, refSeqNum, seq int32, refID RefMsgID) (body []byte, ok bool) {
	if b.limiter == nil {
		return nil, false
	}
	if !b.limiter.Allow() {
		return nil, false
	}
	return encodeBusinessMessageReject(refMsgType, refSeqNum, seq, refID), true
}

// encodeBusinessMessageReject renders a minimal tag=value SOH-delimited FIX
// body. Full session-level framing (BeginString, BodyLength, CheckSum) is
// the session layer's job, out of scope here (§1 Non-goals); this emits
// only the application-level fields the reject carries.
func encodeBusinessMessageReject(refMsgType string, refSeqNum, seq int32, refID RefMsgID) []byte {
	const soh = '\x01'
	out := make([]byte, 0, 64+refID.Len)
	out = appendTag(out, 35, businessMessageRejectMsgType, soh)
	out = appendIntTag(out, 34, int64(seq), soh)
	out = appendTag(out, 372, refMsgType, soh)
	out = appendIntTag(out, 45, int64(refSeqNum), soh)
	out = appendIntTag(out, 380, businessRejectReasonThrottleLimitExceeded, soh)
	if refID.Len > 0 {
		out = appendTag(out, 379, "", soh)
		out = out[:len(out)-1] // drop the empty value's trailing SOH
		out = append(out, refID.Buf[refID.Off:refID.Off+refID.Len]...)
		out = append(out, soh)
	}
	return out
}

func appendTag(dst []byte, tag int, value string, soh byte) []byte {
	dst = appendIntDigits(dst, int64(tag))
	dst = append(dst, '=')
	dst = append(dst, value...)
	dst = append(dst, soh)
	return dst
}

func appendIntTag(dst []byte, tag int, value int64, soh byte) []byte {
	dst = appendIntDigits(dst, int64(tag))
	dst = append(dst, '=')
	dst = appendIntDigits(dst, value)
	dst = append(dst, soh)
	return dst
}

func appendIntDigits(dst []byte, v int64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	neg := v < 0
	if neg {
		v = -v
	}
	start := len(dst)
	for v > 0 {
		dst = append(dst, byte('0'+v%10))
		v /= 10
	}
	if neg {
		dst = append(dst, '-')
	}
	// reverse the digits just appended
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}
