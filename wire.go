package ftp

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// isTimeout reports whether err is a network deadline expiry, as opposed
// to a genuine I/O failure.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// onIdleTimeout invokes the configured callback on a wait timeout and
// reports whether the caller-requested cancellation happened.
func (lc *lineChannel) onIdleTimeout(ds *DataStream) (cancelled bool) {
	if !lc.cb.enabled() {
		return false
	}
	if lc.cb.Func == nil {
		return false
	}
	if !lc.cb.Func(ds, lc.total, lc.cb.Arg) {
		return true
	}
	return false
}

// recvLoop is C1's `wait`+recv fused into one loop: spec.md's raw `select`
// with timeout becomes a `SetReadDeadline` retry here, the idiomatic Go
// substitute (REDESIGN FLAGS). For the control role, or a data role with
// no idle callback configured, this is a single blocking read with no
// deadline — spec.md: "if stream.role is control, wait returns immediately
// with success" and the control channel blocks indefinitely (spec.md §5).
// With an idle callback configured, each timeout invokes the callback with
// the stream's cumulative byte count; a false return cancels and the
// caller sees ErrCancelled (spec.md: "a zero return aborts the operation
// and surfaces as a short I/O"). The callback runs on this goroutine and
// must never re-enter the Session that owns the DataStream.
//
// It performs a single logical read, looping through idle-timeout
// callback invocations until data arrives, the peer closes the stream, a
// genuine error occurs, or the callback cancels.
func (lc *lineChannel) recvLoop(ds *DataStream, p []byte) (int, error) {
	for {
		if lc.cb.enabled() && lc.cb.IdleThreshold > 0 {
			if err := lc.conn.SetReadDeadline(time.Now().Add(lc.cb.IdleThreshold)); err != nil {
				return 0, errors.WithStack(err)
			}
		}
		n, err := lc.conn.Read(p)
		if err == nil || n > 0 {
			return n, err
		}
		if err == io.EOF {
			return 0, io.EOF
		}
		if isTimeout(err) {
			if lc.onIdleTimeout(ds) {
				return 0, ErrCancelled
			}
			continue
		}
		return 0, errors.WithStack(err)
	}
}

// sendLoop is recvLoop's write-side twin, used by writeLine's full-buffer
// flush and by binary-mode Write.
func (lc *lineChannel) sendLoop(ds *DataStream, p []byte) (int, error) {
	sent := 0
	for sent < len(p) {
		if lc.cb.enabled() && lc.cb.IdleThreshold > 0 {
			if err := lc.conn.SetWriteDeadline(time.Now().Add(lc.cb.IdleThreshold)); err != nil {
				return sent, errors.WithStack(err)
			}
		}
		n, err := lc.conn.Write(p[sent:])
		sent += n
		if err == nil {
			continue
		}
		if isTimeout(err) {
			if lc.onIdleTimeout(ds) {
				// spec.md §9 open question: the caller only learns how
				// many *source* bytes were consumed so far, which may be
				// fewer than what the internal buffer has actually
				// handed to the kernel. Preserved deliberately.
				return sent, ErrCancelled
			}
			continue
		}
		return sent, errors.WithStack(err)
	}
	if sent < len(p) {
		return sent, errors.Errorf("short send: wrote %d of %d bytes", sent, len(p))
	}
	return sent, nil
}

// readLine fills out with bytes up to and including the next '\n', capped
// at len(out)-1 data bytes plus the terminator. A "\r\n" terminator has
// the '\r' dropped; the returned count reflects the drop. Returns 0 on an
// orderly end-of-stream with nothing buffered.
func (lc *lineChannel) readLine(ds *DataStream, out []byte) (int, error) {
	max := len(out)
	if max == 0 {
		return 0, nil
	}
	n := 0
	sawData := false
	for n < max-1 {
		if lc.avail == 0 {
			if err := lc.refill(ds); err != nil {
				if err == io.EOF {
					if sawData || n > 0 {
						break
					}
					return 0, nil
				}
				return n, err
			}
		}
		b := lc.buf[lc.r]
		lc.r++
		lc.avail--
		sawData = true
		if b == '\n' {
			if n > 0 && out[n-1] == '\r' {
				n--
			}
			out[n] = '\n'
			n++
			return n, nil
		}
		out[n] = b
		n++
	}
	out[n] = 0
	return n, nil
}

func (lc *lineChannel) refill(ds *DataStream) error {
	if lc.hasPendingByte {
		lc.buf[0] = lc.pendingByte
		lc.hasPendingByte = false
		lc.r = 0
		lc.avail = 1
		return nil
	}
	n, err := lc.recvLoop(ds, lc.buf)
	if n > 0 {
		lc.r = 0
		lc.avail = n
	}
	if n == 0 && err == nil {
		return io.EOF
	}
	return err
}

// writeLine is valid on the write role and on the control role, where
// sendCommand uses it for command lines. It streams buf through the
// internal line buffer, translating every '\n' not immediately preceded
// by '\r' into "\r\n", and flushes full buffer-sized chunks through
// sendLoop. See the ErrCancelled short-count note on sendLoop.
func (lc *lineChannel) writeLine(ds *DataStream, buf []byte) (int, error) {
	if lc.role != roleWrite && lc.role != roleControl {
		return 0, errors.New("writeLine: stream is not in a writable role")
	}
	consumed := 0
	for _, b := range buf {
		if b == '\n' && !lc.pendingCR {
			if err := lc.appendByte(ds, '\r'); err != nil {
				return consumed, err
			}
		}
		if err := lc.appendByte(ds, b); err != nil {
			return consumed, err
		}
		lc.pendingCR = b == '\r'
		consumed++
	}
	return consumed, nil
}

func (lc *lineChannel) appendByte(ds *DataStream, b byte) error {
	if lc.w >= len(lc.buf) {
		if err := lc.flush(ds); err != nil {
			return err
		}
	}
	lc.buf[lc.w] = b
	lc.w++
	return nil
}

func (lc *lineChannel) flush(ds *DataStream) error {
	if lc.w == 0 {
		return nil
	}
	n, err := lc.sendLoop(ds, lc.buf[:lc.w])
	if n == lc.w {
		lc.w = 0
		return err
	}
	// Partial flush: compact the unsent tail to the front of the buffer.
	copy(lc.buf, lc.buf[n:lc.w])
	lc.w -= n
	return err
}
