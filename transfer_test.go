package ftp

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/corvidftp/goftp/internal/testserver"
)

// Scenario 4: progress cancellation. A callback that cancels after the
// first byte-threshold event must abort the read within a bounded number
// of threshold intervals, and Get must unlink the partial local file.
func TestProgressCancellation(t *testing.T) {
	srv := startTestServer(t)
	payload := bytes.Repeat([]byte("x"), 100*1024)
	srv.PutFile("/large.bin", payload)

	s := dialTestServer(t, srv)
	if err := s.Login("anon", "x"); err != nil {
		t.Fatalf("login: %v", err)
	}

	events := 0
	s.SetCallback(CallbackOptions{
		BytesThresh: 8 * 1024,
		Func: func(ds *DataStream, total int64, arg any) bool {
			events++
			return false
		},
	})

	dir := t.TempDir()
	local := filepath.Join(dir, "large.bin")
	err := s.Get(local, "/large.bin", TypeImage)
	if err == nil {
		t.Fatal("expected cancellation to surface an error")
	}
	if events == 0 {
		t.Error("expected at least one callback invocation")
	}
	if events > 20 {
		t.Errorf("expected cancellation within a bounded number of threshold events, got %d", events)
	}
	if _, statErr := os.Stat(local); !os.IsNotExist(statErr) {
		t.Errorf("expected partial local file to be removed, stat err = %v", statErr)
	}
}

func TestBinaryModeRoundTrip(t *testing.T) {
	srv := startTestServer(t)
	s := dialTestServer(t, srv)
	if err := s.Login("anon", "x"); err != nil {
		t.Fatalf("login: %v", err)
	}

	dir := t.TempDir()
	local := filepath.Join(dir, "bin.dat")
	payload := []byte("abc\r\ndef\r\n\x00\x01")
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(local, "/bin.dat", TypeImage); err != nil {
		t.Fatalf("put: %v", err)
	}
	raw, ok := srv.File("/bin.dat")
	if !ok || !bytes.Equal(raw, payload) {
		t.Errorf("expected binary payload preserved exactly, got %q", raw)
	}

	back := filepath.Join(dir, "bin-back.dat")
	if err := s.Get(back, "/bin.dat", TypeImage); err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := os.ReadFile(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("binary round trip mismatch: got %q", got)
	}
}

func TestAtMostOneDataStreamPerSession(t *testing.T) {
	srv := startTestServer(t)
	srv.PutFile("/f.txt", []byte("hi\n"))
	s := dialTestServer(t, srv)
	if err := s.Login("anon", "x"); err != nil {
		t.Fatalf("login: %v", err)
	}

	ds, err := s.access(kindRetrieve, "/f.txt", TypeASCII)
	if err != nil {
		t.Fatalf("access: %v", err)
	}
	if _, err := s.access(kindRetrieve, "/f.txt", TypeASCII); err == nil {
		t.Error("expected a second concurrent access to fail")
	}

	io.ReadAll(ds)
	if err := ds.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.data != nil {
		t.Error("expected session data slot to be cleared after Close")
	}
}

// Active mode: the accept must happen after the transfer command is sent,
// since the server only dials back once it receives RETR/STOR/LIST, not
// right after PORT. Opening the data channel before sending the command
// would deadlock forever waiting on Accept.
func TestActiveModeRoundTrip(t *testing.T) {
	srv := startTestServer(t)
	host, port, _ := splitAddr(srv.Addr())
	s, err := Connect(host, port, WithActiveMode())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Quit() })

	if err := s.Login("anon", "x"); err != nil {
		t.Fatalf("login: %v", err)
	}

	dir := t.TempDir()
	local := filepath.Join(dir, "active.txt")
	if err := os.WriteFile(local, []byte("abc\ndef\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(local, "/active.txt", TypeASCII); err != nil {
		t.Fatalf("put: %v", err)
	}

	raw, ok := srv.File("/active.txt")
	if !ok || string(raw) != "abc\ndef\n" {
		t.Fatalf("server stored %q, ok=%v", raw, ok)
	}

	back := filepath.Join(dir, "active-back.txt")
	if err := s.Get(back, "/active.txt", TypeASCII); err != nil {
		t.Fatalf("get: %v", err)
	}
	got, err := os.ReadFile(back)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abc\ndef\n")) {
		t.Errorf("active mode round trip mismatch: got %q", got)
	}
}
