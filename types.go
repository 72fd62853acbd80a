package ftp

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// role tags the single shape shared by the control channel and every data
// channel. It is checked only to reject an operation on a channel of the
// wrong direction (wire.go's writeLine, DataStream.Read/Write).
type role int

const (
	roleControl role = iota
	roleRead
	roleWrite
)

// connMode selects how a DataStream's socket gets established.
type connMode int

const (
	// ModePassive is the default: the server advertises an endpoint (PASV)
	// and the client connects to it.
	ModePassive connMode = iota
	// ModeActive has the client advertise an endpoint (PORT) and the
	// server connect back to it.
	ModeActive
)

// TransferType selects ASCII newline translation or raw binary streaming.
type TransferType byte

const (
	TypeASCII TransferType = 'A'
	TypeImage TransferType = 'I'
)

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateGreeted
	stateAuthenticated
	stateClosed
)

const (
	lineBufferSize     = 4096 // spec.md §3: "typical 4 KiB"
	responseBufferSize = 1024 // spec.md §3: "typical 1 KiB"
	cmdBufferSize      = 1024 // spec.md §4.3 / §4.6: 1 KiB command limit
	acceptTimeout      = 30 * time.Second
)

// CallbackFunc is the idle/progress callback ABI from spec.md §6: it is
// invoked on byte-count and idle-time thresholds during a transfer, and a
// false return cancels the in-flight operation. It runs on the caller's
// goroutine inside a blocking wait and must never call back into the
// Session that owns the DataStream it was handed.
type CallbackFunc func(stream *DataStream, cumulativeBytes int64, arg any) bool

// CallbackOptions bundles the four fields spec.md §3 groups as "the
// progress callback triple" (function, opaque argument, byte threshold,
// idle-time threshold).
type CallbackOptions struct {
	Func          CallbackFunc
	Arg           any
	BytesThresh   int64
	IdleThreshold time.Duration
}

func (o CallbackOptions) enabled() bool {
	return o.Func != nil && (o.BytesThresh > 0 || o.IdleThreshold > 0)
}

// lineChannel is the buffered line-I/O core shared by Session (role =
// control) and DataStream (role = read/write) — spec.md §3's "both share
// the same underlying structural layout... the role tag discriminates."
type lineChannel struct {
	conn net.Conn
	role role

	// buf is present for the control role always, and for data roles only
	// in ASCII mode (spec.md §3: "in text mode, an owned line-buffer...
	// in binary mode, no buffer").
	buf        []byte
	r, w       int // read cursor / write cursor into buf
	avail      int // bytes currently buffered and unread
	pendingCR  bool
	cb         CallbackOptions
	total      int64 // cumulative bytes moved through this channel
	sinceEvent int64 // bytes since the last callback invocation

	// pendingByte/hasPendingByte hold a single byte peeked off the wire
	// by completeActive's control-socket race (data.go) without having a
	// full line to deliver yet. The next refill hands it back as the
	// first byte of the next read instead of it vanishing into a
	// throwaway one-byte buffer.
	pendingByte    byte
	hasPendingByte bool
}

func newLineChannel(conn net.Conn, r role, buffered bool) lineChannel {
	lc := lineChannel{conn: conn, role: r}
	if buffered {
		lc.buf = make([]byte, lineBufferSize)
	}
	return lc
}

// Session is the control-channel handle — spec.md §3's Session entity.
// Invariant: ctrlPointer == nil is implicit; a Session never points at
// another Session. It owns its socket and buffer exclusively and holds at
// most one weak reference to an open DataStream.
type Session struct {
	lineChannel

	mu    sync.Mutex
	state sessionState
	mode  connMode

	host string
	port string

	lastResponse string
	lastCode     int

	currentType TransferType

	callback CallbackOptions

	data *DataStream // weak, non-owning; nil when no transfer is open

	logger *slog.Logger
	id     string
}

// DataStream is the ephemeral data-connection handle — spec.md §3's
// DataStream entity. It holds a weak back-reference to its Session and
// exists only while that Session's data slot points at it.
type DataStream struct {
	lineChannel
	session *Session

	// pendingListener holds the active-mode listening socket between PORT
	// and the accept that completeActive performs once the transfer
	// command's preliminary reply confirms the server is about to dial
	// back (spec.md §4.4/§4.5). Always nil for a passive-mode stream,
	// whose conn is already established by the time it's a DataStream.
	pendingListener net.Listener

	// cancelled latches a callback cancellation observed during Write, so
	// the caller's next call sees ErrCancelled without aborting the write
	// already in flight (spec.md §4.5).
	cancelled bool
}

// LastResponse returns a defensive copy of the message text of the most
// recent server reply (spec.md §4.6: "a borrowed view... valid until the
// next operation mutates it"). The text does not include the three-digit
// reply code or the continuation markers; LastCode returns the code. Go
// has no dangling-pointer hazard for a string copy, so this is a
// deliberate, harmless deviation from the C-level aliasing the spec
// describes — see SPEC_FULL.md §4.6.
func (s *Session) LastResponse() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponse
}

// LastResponse on a DataStream always returns none (spec.md §4.6): a
// data stream carries no response text of its own.
func (d *DataStream) LastResponse() (string, bool) {
	return "", false
}
