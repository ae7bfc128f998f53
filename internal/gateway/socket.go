package gateway

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// socket is the concrete, non-blocking TcpChannel (§6) wrapping one
// accepted *net.TCPConn. It writes via the raw file descriptor through
// SyscallConn so a short write returns immediately with the partial count
// instead of having Go's runtime poller park the goroutine, which is the
// legal, expected behavior the multiplexer's partial-write bookkeeping
// depends on.
type socket struct {
	conn      *net.TCPConn
	raw       unix.RawConn
	onReplay  func(connectionID uint64, correlationID int64)
	connID    uint64
}

// NewSocket wraps conn for connectionID as a TcpChannel. onReplayComplete,
// if non-nil, is notified whenever the endpoint finishes a replay burst
// (distinct from the inbound-bus signal, which goes through
// InboundPublisher instead).
func NewSocket(connectionID uint64, conn *net.TCPConn, onReplayComplete func(connectionID uint64, correlationID int64)) (TcpChannel, error) {
	if err := conn.SetNoDelay(true); err != nil {
		return nil, err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &socket{conn: conn, raw: raw, onReplay: onReplayComplete, connID: connectionID}, nil
}

// Write implements TcpChannel. seq and replay are accepted for interface
// symmetry with implementations that multiplex wire framing per stream;
// this one writes raw bytes with no additional envelope.
func (s *socket) Write(buf []byte, seq int32, replay bool) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var written int
	var writeErr error
	ctrlErr := s.raw.Write(func(fd uintptr) bool {
		n, err := unix.Write(int(fd), buf)
		if n > 0 {
			written = n
		}
		if err == nil {
			return true
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			// No room in the socket send buffer right now: legal partial
			// (possibly zero-byte) write, not an error.
			return true
		}
		writeErr = err
		return true
	})
	if ctrlErr != nil {
		return written, ctrlErr
	}
	return written, writeErr
}

func (s *socket) OnReplayComplete(correlationID int64) {
	if s.onReplay != nil {
		s.onReplay(s.connID, correlationID)
	}
}

func (s *socket) Close() error {
	return s.conn.Close()
}
