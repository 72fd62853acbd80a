package ftp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Response is a parsed FTP server reply (spec.md §4.2).
type Response struct {
	// Code is the three-digit reply code (e.g. 220, 550).
	Code int

	// Message is the human-readable text with the code/continuation
	// markers stripped from every line and rejoined with '\n'.
	Message string

	// Lines holds every raw line of the reply, code and marker included.
	Lines []string
}

func (r *Response) Is1xx() bool { return r.Code >= 100 && r.Code < 200 }
func (r *Response) Is2xx() bool { return r.Code >= 200 && r.Code < 300 }
func (r *Response) Is3xx() bool { return r.Code >= 300 && r.Code < 400 }
func (r *Response) Is4xx() bool { return r.Code >= 400 && r.Code < 500 }
func (r *Response) Is5xx() bool { return r.Code >= 500 && r.Code < 600 }

func (r *Response) String() string {
	return strings.Join(r.Lines, "\n")
}

// readResponse reads one complete reply off the control channel: a single
// line "NNN text", or a multi-line reply opened by "NNN-" and closed by a
// line starting with the same three digits followed by a space (spec.md
// §4.2). Grounded on the teacher's control.go readResponse/readMultiLine,
// rehomed onto lineChannel.readLine in place of bufio.Reader.
func (s *Session) readResponse() (*Response, error) {
	line, err := s.nextLine()
	if err != nil {
		return nil, err
	}
	if len(line) < 4 {
		return nil, errors.Errorf("ftp: invalid response line: %q", line)
	}

	code, err := strconv.Atoi(line[0:3])
	if err != nil {
		return nil, errors.Errorf("ftp: invalid response code: %q", line[0:3])
	}

	lines := []string{line}

	if line[3] == ' ' {
		return &Response{Code: code, Message: line[4:], Lines: lines}, nil
	}
	if line[3] != '-' {
		return nil, errors.Errorf("ftp: invalid response format: %q", line)
	}

	if err := s.readMultiLine(code, &lines); err != nil {
		return nil, err
	}

	var messageLines []string
	for _, l := range lines {
		if len(l) >= 4 && l[0:3] == line[0:3] && (l[3] == '-' || l[3] == ' ') {
			messageLines = append(messageLines, l[4:])
		} else {
			messageLines = append(messageLines, l)
		}
	}
	return &Response{Code: code, Message: strings.Join(messageLines, "\n"), Lines: lines}, nil
}

// readMultiLine reads the continuation lines of a multi-line reply. A
// continuation line beginning with a space is RFC 2389 free text and is
// accepted regardless of its prefix (spec.md §8: "a line that merely
// starts with the same three digits but is actually free text" must not
// terminate the reply early unless it also has a space in the fourth
// column). The reply ends on the first line whose first three digits
// match code and whose fourth byte is a space.
func (s *Session) readMultiLine(code int, lines *[]string) error {
	codeStr := fmt.Sprintf("%03d", code)

	for {
		line, err := s.nextLine()
		if err != nil {
			return err
		}

		if len(line) > 0 && line[0] == ' ' {
			*lines = append(*lines, line)
			continue
		}

		if len(line) < 4 || line[0:3] != codeStr {
			*lines = append(*lines, line)
			continue
		}

		*lines = append(*lines, line)
		if line[3] == ' ' {
			return nil
		}
		// line[3] == '-' or anything else: still a continuation under the
		// same code, keep reading.
	}
}

// nextLine reads one CRLF-terminated line off the control channel and
// trims the trailing newline/carriage-return.
func (s *Session) nextLine() (string, error) {
	buf := make([]byte, responseBufferSize)
	n, err := s.readLine(nil, buf)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if n == 0 {
		return "", errors.New("ftp: control connection closed")
	}
	line := buf[:n]
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return string(line), nil
}

// sendCommand writes one command line to the control channel and returns
// the parsed reply. The Session mutex serializes commands, matching
// spec.md's "strictly single-threaded per Session" (§5). Grounded on the
// teacher's control.go sendCommand, rehomed onto lineChannel.writeLine.
func (s *Session) sendCommand(command string, args ...string) (*Response, error) {
	cmd := command
	if len(args) > 0 {
		cmd = command + " " + strings.Join(args, " ")
	}
	if len(cmd) > cmdBufferSize-2 {
		return nil, errors.Errorf("ftp: command too long: %d bytes", len(cmd))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("ftp command", "session", s.id, "cmd", redactCommand(command, cmd))
	}

	if _, err := s.writeLine(nil, []byte(cmd+"\n")); err != nil {
		return nil, errors.Wrap(err, "ftp: send command")
	}
	if err := s.flush(nil); err != nil {
		return nil, errors.Wrap(err, "ftp: flush command")
	}

	resp, err := s.readResponse()
	if err != nil {
		return nil, errors.Wrap(err, "ftp: read response")
	}

	s.lastResponse = resp.Message
	s.lastCode = resp.Code

	if s.logger != nil {
		s.logger.Debug("ftp response", "session", s.id, "code", resp.Code, "message", resp.Message)
	}
	return resp, nil
}

// redactCommand hides credentials from log lines the way an operator
// would expect for PASS.
func redactCommand(verb, full string) string {
	if strings.EqualFold(verb, "PASS") {
		return "PASS ****"
	}
	return full
}

// expectCode sends command and requires an exact reply code.
func (s *Session) expectCode(expected int, command string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if resp.Code != expected {
		return resp, &ProtocolError{Command: command, Response: resp.Message, Code: resp.Code}
	}
	return resp, nil
}

// expect2xx sends command and requires a 2xx reply.
func (s *Session) expect2xx(command string, args ...string) (*Response, error) {
	resp, err := s.sendCommand(command, args...)
	if err != nil {
		return nil, err
	}
	if !resp.Is2xx() {
		return resp, &ProtocolError{Command: command, Response: resp.Message, Code: resp.Code}
	}
	return resp, nil
}
