package ftp

import (
	"bufio"
	"net"
	"net/textproto"
	"strings"
	"testing"
)

// newPipedSession wires a Session directly to a net.Pipe so unit tests can
// script exact control-channel bytes without a full test server.
func newPipedSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	s := &Session{lineChannel: newLineChannel(client, roleControl, true)}
	t.Cleanup(func() { client.Close(); server.Close() })
	return s, server
}

// Scenario 5: USER returning 230 directly skips PASS.
func TestLoginUserShortCircuits230(t *testing.T) {
	s, server := newPipedSession(t)
	go func() {
		tc := textproto.NewConn(server)
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		if !strings.HasPrefix(line, "USER") {
			tc.PrintfLine("500 unexpected command")
			return
		}
		tc.PrintfLine("230 already logged in")
	}()

	if err := s.Login("anon", "unused"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

// spec.md §8: a mid-sequence continuation line that spuriously begins
// with the same three digits but lacks the terminating space must not end
// the multi-line reply early.
func TestMultiLineSpuriousPrefixContinues(t *testing.T) {
	s, server := newPipedSession(t)
	go func() {
		w := bufio.NewWriter(server)
		w.WriteString("211-Features:\r\n")
		w.WriteString("211-looks terminal but isn't, since byte 4 is '-' not a space\r\n")
		w.WriteString(" EXTRA\r\n")
		w.WriteString("211 End\r\n")
		w.Flush()
	}()

	resp, err := s.readResponse()
	if err != nil {
		t.Fatalf("readResponse: %v", err)
	}
	if resp.Code != 211 {
		t.Errorf("expected code 211, got %d", resp.Code)
	}
	if len(resp.Lines) != 4 {
		t.Errorf("expected 4 lines, got %d: %v", len(resp.Lines), resp.Lines)
	}
}

// spec.md §8: a command whose rendered form exceeds 1 KiB is rejected
// before any wire activity.
func TestOversizedCommandRejected(t *testing.T) {
	s, _ := newPipedSession(t)
	huge := strings.Repeat("x", cmdBufferSize)
	if _, err := s.sendCommand("STOR", huge); err == nil {
		t.Fatal("expected oversized command to be rejected")
	}
}
