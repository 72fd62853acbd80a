package ftp

import (
	"errors"
	"fmt"
)

// ProtocolError carries the full command/response context of an FTP
// protocol failure. Kept close to the teacher's errors.go: the same
// shape, the same Is2xx/Is3xx/Is4xx/Is5xx/IsTemporary/IsPermanent
// helpers, generalized to the session/data-stream split in types.go.
type ProtocolError struct {
	// Command is the FTP command that was sent (e.g. "STOR file.txt").
	Command string

	// Response is the reply's message text, without the reply code.
	Response string

	// Code is the three-digit numeric reply code.
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

func (e *ProtocolError) Is2xx() bool { return e.Code >= 200 && e.Code < 300 }
func (e *ProtocolError) Is3xx() bool { return e.Code >= 300 && e.Code < 400 }
func (e *ProtocolError) Is4xx() bool { return e.Code >= 400 && e.Code < 500 }
func (e *ProtocolError) Is5xx() bool { return e.Code >= 500 && e.Code < 600 }

// IsTemporary reports a 4xx reply, usable as a retry signal.
func (e *ProtocolError) IsTemporary() bool { return e.Is4xx() }

// IsPermanent reports a 5xx reply.
func (e *ProtocolError) IsPermanent() bool { return e.Is5xx() }

// ErrCancelled is returned when a registered callback returns false,
// aborting an in-flight wait, read, or write (spec.md §7: Cancellation).
var ErrCancelled = errors.New("ftp: operation cancelled by callback")

// ErrTimeout is the sentinel wrapped into the active-mode accept timeout
// (spec.md §7: Timeout; §5: "active-mode accept has a fixed 30s timeout").
// Wrapped rather than returned bare so callers can both match it with
// errors.Is and see the literal "accept connection timed out" text spec.md
// §8 requires in the error's message.
var ErrTimeout = errors.New("ftp: operation timed out waiting for I/O")
