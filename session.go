package ftp

import (
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Connect dials host:port and reads the server greeting, the entry point
// to a new Session (spec.md §4.6: connect → new Session in passive
// default mode). Grounded on the teacher's client.go connect, rehomed
// onto lineChannel in place of bufio.Reader.
func Connect(host, port string, opts ...DialOption) (*Session, error) {
	cfg := defaultDialOptions()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "ftp: invalid dial options")
	}

	addr := net.JoinHostPort(host, port)
	conn, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "ftp: dial")
	}

	s := &Session{
		lineChannel: newLineChannel(conn, roleControl, true),
		mode:        cfg.Mode,
		host:        host,
		port:        port,
		logger:      cfg.Logger,
		id:          uuid.NewString(),
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	s.logger.Debug("ftp connecting", "session", s.id, "addr", addr)

	resp, err := s.readResponse()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ftp: read greeting")
	}
	s.lastResponse = resp.Message
	s.lastCode = resp.Code
	if !resp.Is2xx() {
		conn.Close()
		return nil, &ProtocolError{Command: "CONNECT", Response: resp.Message, Code: resp.Code}
	}

	s.state = stateGreeted
	s.logger.Debug("ftp greeting", "session", s.id, "code", resp.Code, "message", resp.Message)
	return s, nil
}

// Login performs the USER/PASS exchange (spec.md §4.6). A 2xx reply to
// USER is treated as already logged in, matching the Open Question
// resolution documented in DESIGN.md.
func (s *Session) Login(user, pass string) error {
	resp, err := s.sendCommand("USER", user)
	if err != nil {
		return err
	}
	if resp.Is2xx() {
		s.state = stateAuthenticated
		return nil
	}
	if resp.Code != 331 {
		return &ProtocolError{Command: "USER", Response: resp.Message, Code: resp.Code}
	}

	if _, err := s.expectCode(230, "PASS", pass); err != nil {
		return err
	}
	s.state = stateAuthenticated
	return nil
}

// Quit sends QUIT and closes the control socket, destroying the Session
// (spec.md §3 lifecycle). Closing a Session with an open DataStream
// closes the DataStream first.
func (s *Session) Quit() error {
	s.mu.Lock()
	ds := s.data
	s.mu.Unlock()
	if ds != nil {
		_ = ds.Close()
	}

	_, _ = s.sendCommand("QUIT")
	s.state = stateClosed
	return s.conn.Close()
}

// Site sends a SITE subcommand.
func (s *Session) Site(cmd string) error {
	_, err := s.expect2xx("SITE", cmd)
	return err
}

// Syst returns the server's system type: response text from byte 4 up to
// the first space (spec.md §4.6).
func (s *Session) Syst() (string, error) {
	resp, err := s.expect2xx("SYST")
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(resp.Message, ' '); i >= 0 {
		return resp.Message[:i], nil
	}
	return resp.Message, nil
}

// FileSize sends TYPE mode then SIZE path and parses "<code> <size>"
// from the reply (spec.md §4.6).
func (s *Session) FileSize(path string, mode TransferType) (int64, error) {
	if err := s.setType(mode); err != nil {
		return 0, err
	}
	resp, err := s.expect2xx("SIZE", path)
	if err != nil {
		return 0, err
	}
	size, convErr := strconv.ParseInt(strings.TrimSpace(resp.Message), 10, 64)
	if convErr != nil {
		return 0, errors.Wrapf(convErr, "ftp: unparseable SIZE reply %q", resp.Message)
	}
	return size, nil
}

// ModTime sends MDTM and returns the response text from byte 4 onward
// (spec.md §4.6's mod_date).
func (s *Session) ModTime(path string) (string, error) {
	resp, err := s.expect2xx("MDTM", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message), nil
}

// ChangeDir issues CWD.
func (s *Session) ChangeDir(path string) error {
	_, err := s.expect2xx("CWD", path)
	return err
}

// ChangeDirUp issues CDUP.
func (s *Session) ChangeDirUp() error {
	_, err := s.expect2xx("CDUP")
	return err
}

// MakeDir issues MKD.
func (s *Session) MakeDir(path string) error {
	_, err := s.expect2xx("MKD", path)
	return err
}

// RemoveDir issues RMD.
func (s *Session) RemoveDir(path string) error {
	_, err := s.expect2xx("RMD", path)
	return err
}

// Pwd issues PWD and extracts the path between the first pair of quotes
// (spec.md §4.6).
func (s *Session) Pwd() (string, error) {
	resp, err := s.expect2xx("PWD")
	if err != nil {
		return "", err
	}
	first := strings.IndexByte(resp.Message, '"')
	if first < 0 {
		return "", errors.Errorf("ftp: unparseable PWD reply %q", resp.Message)
	}
	rest := resp.Message[first+1:]
	second := strings.IndexByte(rest, '"')
	if second < 0 {
		return "", errors.Errorf("ftp: unparseable PWD reply %q", resp.Message)
	}
	return rest[:second], nil
}

// Delete issues DELE.
func (s *Session) Delete(name string) error {
	_, err := s.expect2xx("DELE", name)
	return err
}

// Rename issues RNFR src (3xx) then RNTO dst (2xx).
func (s *Session) Rename(src, dst string) error {
	resp, err := s.sendCommand("RNFR", src)
	if err != nil {
		return err
	}
	if !resp.Is3xx() {
		return &ProtocolError{Command: "RNFR", Response: resp.Message, Code: resp.Code}
	}
	_, err = s.expect2xx("RNTO", dst)
	return err
}

// Quote sends a raw command and returns the parsed reply, for any
// operation this facade does not wrap directly (spec.md §6: the
// dispatch table is not an exhaustive public surface).
func (s *Session) Quote(command string, args ...string) (*Response, error) {
	return s.sendCommand(command, args...)
}

// LastCode returns the three-digit code of the most recent control-channel
// reply.
func (s *Session) LastCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode
}

// setType issues TYPE only when it differs from the session's current
// transfer type, matching the teacher's currentType short-circuit.
func (s *Session) setType(t TransferType) error {
	if s.currentType == t {
		return nil
	}
	_, err := s.expectCode(200, "TYPE", string(t))
	if err != nil {
		return err
	}
	s.currentType = t
	return nil
}

// cb returns a copy of the Session's current callback configuration, for
// a new DataStream to inherit (spec.md §4.4: "idle-callback inherited
// from session only if the idle-time or byte-threshold is non-zero").
func (s *Session) cb() CallbackOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback.IdleThreshold <= 0 && s.callback.BytesThresh <= 0 {
		return CallbackOptions{}
	}
	return s.callback
}

// List retrieves a directory listing in LIST (long) format and relays
// the raw lines verbatim — no parsing beyond splitting on newlines
// (spec.md Non-goals: "no parsing of LIST output beyond relaying it").
func (s *Session) List(path string) ([]string, error) {
	return s.listLines(kindListVerbose, path)
}

// NameList retrieves a NLST (names-only) listing, raw lines only.
func (s *Session) NameList(path string) ([]string, error) {
	return s.listLines(kindNameList, path)
}

// MLSD retrieves a machine-parsable listing, raw lines only (the
// MLST/MLSD fact parsing the teacher ships is dropped per Non-goals).
func (s *Session) MLSD(path string) ([]string, error) {
	return s.listLines(kindMLSD, path)
}

func (s *Session) listLines(kind transferKind, path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	ds, err := s.access(kind, path, TypeASCII)
	if err != nil {
		return nil, err
	}
	var buf strings.Builder
	if _, err := copyTransfer(ds, &buf, nil); err != nil {
		return nil, err
	}
	text := strings.TrimRight(buf.String(), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// Get downloads remotePath to localPath (spec.md §4.6/§6). A blank
// localPath rebinds the transfer to os.Stdout — the documented but
// quirky standard-stream fallback, kept opt-in per SPEC_FULL.md §9.
func (s *Session) Get(localPath, remotePath string, mode TransferType) error {
	var w io.Writer = os.Stdout
	var f *os.File
	if localPath != "" {
		var err error
		f, err = os.Create(localPath)
		if err != nil {
			return errors.Wrap(err, "ftp: create local file")
		}
		w = f
	}

	ds, err := s.access(kindRetrieve, remotePath, mode)
	if err != nil {
		if f != nil {
			f.Close()
			os.Remove(localPath)
		}
		return err
	}

	_, copyErr := copyTransfer(ds, w, nil)
	if f != nil {
		f.Close()
	}
	if copyErr != nil {
		if f != nil {
			os.Remove(localPath)
		}
		return copyErr
	}
	return nil
}

// Put uploads localPath to remotePath. A blank localPath rebinds the
// transfer to os.Stdin.
func (s *Session) Put(localPath, remotePath string, mode TransferType) error {
	var r io.Reader = os.Stdin
	if localPath != "" {
		f, err := os.Open(localPath)
		if err != nil {
			return errors.Wrap(err, "ftp: open local file")
		}
		defer f.Close()
		r = f
	}

	ds, err := s.access(kindStore, remotePath, mode)
	if err != nil {
		return err
	}
	_, err = copyTransfer(ds, nil, r)
	return err
}

// Access exposes the transfer engine directly for callers who want to
// stream through a DataStream themselves instead of using Get/Put/List
// (spec.md §4.5 access, §4.6's raw access entry).
func (s *Session) Access(kind string, path string, mode TransferType) (*DataStream, error) {
	return s.access(transferKind(kind), path, mode)
}

// SetCallback atomically registers the progress/idle callback triple
// (spec.md §4.6: "set_callback(options) sets all four callback fields
// atomically").
func (s *Session) SetCallback(opts CallbackOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = opts
}

// ClearCallback zeros the callback configuration.
func (s *Session) ClearCallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = CallbackOptions{}
}
