package ftp

import (
	"io"

	"github.com/pkg/errors"
)

// transferKind enumerates the five commands access can drive (spec.md
// §4.5): the first three read listings, RETR reads a file, STOR writes
// one.
type transferKind string

const (
	kindListVerbose transferKind = "LIST"
	kindNameList    transferKind = "NLST"
	kindMLSD        transferKind = "MLSD"
	kindRetrieve    transferKind = "RETR"
	kindStore       transferKind = "STOR"
)

func (k transferKind) dir() role {
	if k == kindStore {
		return roleWrite
	}
	return roleRead
}

// access is the user-facing entry point to start a transfer (spec.md
// §4.5). path must be non-empty even for the listing kinds, by
// convention callers pass "."; RETR/STOR require a real remote path. The
// composed command omits the operand when path is "." to match ordinary
// server expectations for "list the working directory", grounded on the
// teacher's directory.go cmdDataConnFrom("LIST")/cmdDataConnFrom("LIST",
// path) split.
func (s *Session) access(kind transferKind, path string, typ TransferType) (*DataStream, error) {
	if path == "" {
		return nil, errors.New("ftp: access requires a non-empty path")
	}

	s.mu.Lock()
	if s.data != nil {
		s.mu.Unlock()
		return nil, errors.New("ftp: a data stream is already open on this session")
	}
	s.mu.Unlock()

	if err := s.setType(typ); err != nil {
		return nil, err
	}

	var ds *DataStream
	var err error
	if path == "." {
		ds, err = s.openForCommand(kind.dir(), string(kind))
	} else {
		ds, err = s.openForCommand(kind.dir(), string(kind), path)
	}
	if err != nil {
		return nil, err
	}
	return ds, nil
}

// Read implements io.Reader. Only valid on a read-direction DataStream.
// Text mode delegates to readLine; binary mode issues a direct recv.
// Byte-threshold and idle-time callback accounting happens on every call;
// a false callback return discards the bytes just read and cancels
// further reads (spec.md §4.5: "its zero return cancels further reads
// (return 0 to caller)"), matching the original FtpRead, which discards
// the bytes read in that same call when the callback cancels.
func (ds *DataStream) Read(p []byte) (int, error) {
	if ds.role != roleRead {
		return 0, errors.New("ftp: Read on a non-read DataStream")
	}
	var n int
	var err error
	if ds.buf != nil {
		n, err = ds.readLine(ds, p)
		if n == 0 && err == nil {
			// readLine's C-rooted contract reports orderly end-of-stream as
			// (0, nil); io.Reader requires io.EOF so callers like io.Copy
			// terminate instead of spinning.
			err = io.EOF
		}
	} else {
		n, err = ds.recvLoop(ds, p)
	}
	if n > 0 {
		ds.accountBytes(int64(n))
		if ds.thresholdCrossed() && !ds.fireCallback() {
			return 0, ErrCancelled
		}
	}
	return n, err
}

// Write implements io.Writer. Only valid on a write-direction DataStream.
// Text mode delegates to writeLine; binary mode issues a direct send.
// Unlike Read, a cancelling callback does not abort the in-progress write
// (spec.md §4.5: "callback accounting identical but cancellation does not
// abort the in-progress write") — it is surfaced to the caller as
// ErrCancelled on the next Write call instead, via cancelled latch.
func (ds *DataStream) Write(p []byte) (int, error) {
	if ds.role != roleWrite {
		return 0, errors.New("ftp: Write on a non-write DataStream")
	}
	if ds.cancelled {
		return 0, ErrCancelled
	}
	var n int
	var err error
	if ds.buf != nil {
		n, err = ds.writeLine(ds, p)
		if err == nil {
			if ferr := ds.flush(ds); ferr != nil {
				err = ferr
			}
		}
	} else {
		n, err = ds.sendLoop(ds, p)
	}
	if n > 0 {
		ds.accountBytes(int64(n))
		if ds.thresholdCrossed() && !ds.fireCallback() {
			ds.cancelled = true
		}
	}
	return n, err
}

// accountBytes updates the DataStream's cumulative and since-event
// counters (spec.md §3: "two counters: total bytes transferred,
// bytes-since-last-callback").
func (ds *DataStream) accountBytes(n int64) {
	ds.total += n
	ds.sinceEvent += n
}

func (ds *DataStream) thresholdCrossed() bool {
	return ds.cb.enabled() && ds.cb.BytesThresh > 0 && ds.sinceEvent >= ds.cb.BytesThresh
}

// fireCallback invokes the registered callback with the stream's
// cumulative byte count and resets the since-event counter. Its boolean
// result is the callback's own return: true continues, false cancels.
func (ds *DataStream) fireCallback() bool {
	ds.sinceEvent = 0
	if ds.cb.Func == nil {
		return true
	}
	return ds.cb.Func(ds, ds.total, ds.cb.Arg)
}

// Close implements io.Closer (spec.md §4.5 close(stream)): shuts down
// and closes the socket, detaches from the Session's data slot, and —
// unless the Session's last response already began with '4' or '5' —
// reads one more reply expecting 2xx.
func (ds *DataStream) Close() error {
	s := ds.session
	closeErr := ds.conn.Close()

	s.mu.Lock()
	if s.data == ds {
		s.data = nil
	}
	lastCode := s.lastCode
	s.mu.Unlock()

	if lastCode >= 400 {
		return closeErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.readResponse()
	if err != nil {
		if closeErr != nil {
			return closeErr
		}
		return errors.Wrap(err, "ftp: read transfer completion reply")
	}
	s.lastResponse = resp.Message
	s.lastCode = resp.Code
	if s.logger != nil {
		s.logger.Debug("ftp data transfer complete", "session", s.id, "code", resp.Code, "message", resp.Message)
	}
	if !resp.Is2xx() {
		if closeErr != nil {
			return closeErr
		}
		return &ProtocolError{Command: "DATA_TRANSFER", Response: resp.Message, Code: resp.Code}
	}
	return closeErr
}

// copyTransfer drains a read stream into w, or fills a write stream from
// r, and always closes the stream so the completion reply is consumed —
// the shared body behind Get/Put and List/NameList/MLSD's string-slurping
// variants.
func copyTransfer(ds *DataStream, w io.Writer, r io.Reader) (int64, error) {
	var n int64
	var copyErr error
	if w != nil {
		n, copyErr = io.Copy(w, ds)
	} else {
		n, copyErr = io.Copy(ds, r)
	}
	closeErr := ds.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}
