package ftp

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// pasvRegex scans for the first "(h1,h2,h3,h4,p1,p2)" group in a PASV
// reply, per spec.md §4.4/§6: "scans from the first '(', six
// comma-separated unsigned integers". Kept from the teacher's data.go.
var pasvRegex = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// parsePASV extracts the data-channel address from a PASV reply. Address
// construction uses net.IP/net.TCPAddr exclusively, never a raw sockaddr
// byte layout (REDESIGN FLAGS).
func parsePASV(response string) (*net.TCPAddr, error) {
	m := pasvRegex.FindStringSubmatch(response)
	if len(m) != 7 {
		return nil, errors.Errorf("ftp: invalid PASV response: %s", response)
	}

	octets := make([]byte, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v < 0 || v > 255 {
			return nil, errors.Errorf("ftp: invalid PASV address octet: %s", m[i+1])
		}
		octets[i] = byte(v)
	}

	p1, err1 := strconv.Atoi(m[5])
	p2, err2 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return nil, errors.Errorf("ftp: invalid PASV port octets: %s, %s", m[5], m[6])
	}

	return &net.TCPAddr{
		IP:   net.IPv4(octets[0], octets[1], octets[2], octets[3]),
		Port: p1*256 + p2,
	}, nil
}

// formatPORT encodes a local address as the "h1,h2,h3,h4,p1,p2" argument
// to the PORT command. IPv4 only (Non-goals: no EPRT/IPv6).
func formatPORT(addr *net.TCPAddr) (string, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return "", errors.Errorf("ftp: PORT requires an IPv4 address, got %s", addr.IP)
	}
	p1 := addr.Port / 256
	p2 := addr.Port % 256
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip4[0], ip4[1], ip4[2], ip4[3], p1, p2), nil
}

// resolveDataAddr replaces a server-advertised 0.0.0.0 with the control
// connection's own host, the common workaround for servers behind NAT
// that cannot see their own public address.
func resolveDataAddr(addr *net.TCPAddr, controlHost string) *net.TCPAddr {
	if addr.IP.IsUnspecified() {
		if ip := net.ParseIP(controlHost); ip != nil {
			return &net.TCPAddr{IP: ip, Port: addr.Port}
		}
	}
	return addr
}

// openDataChannel opens a data connection per the Session's configured
// connMode and wraps it as a role-tagged DataStream, per spec.md §4.4. In
// active mode the server dials back only once it receives the transfer
// command (RETR/STOR/LIST/...), so the DataStream here carries a pending
// listener instead of an established conn; completeActive, run by
// openForCommand after the command's preliminary reply, performs the
// actual accept (spec.md §4.5's accept_connection).
func (s *Session) openDataChannel(role role) (*DataStream, error) {
	buffered := s.currentType == TypeASCII

	if s.mode == ModeActive {
		lst, err := s.prepareActiveListener()
		if err != nil {
			return nil, err
		}
		ds := &DataStream{
			lineChannel:     newLineChannel(nil, role, buffered),
			session:         s,
			pendingListener: lst,
		}
		ds.cb = s.cb()
		return ds, nil
	}

	conn, err := s.openPassiveDataConn()
	if err != nil {
		return nil, err
	}
	ds := &DataStream{
		lineChannel: newLineChannel(conn, role, buffered),
		session:     s,
	}
	ds.cb = s.cb()
	return ds, nil
}

func (s *Session) openPassiveDataConn() (net.Conn, error) {
	resp, err := s.sendCommand("PASV")
	if err != nil {
		return nil, errors.Wrap(err, "ftp: PASV")
	}
	if !resp.Is2xx() {
		return nil, &ProtocolError{Command: "PASV", Response: resp.Message, Code: resp.Code}
	}

	addr, err := parsePASV(resp.String())
	if err != nil {
		return nil, err
	}
	addr = resolveDataAddr(addr, s.host)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		return nil, errors.Wrap(err, "ftp: dial passive data connection")
	}
	return conn, nil
}

// prepareActiveListener binds an ephemeral local port on the same
// address as the control connection, listens (with the platform's default
// backlog; net.Listen does not set a backlog of 1), and sends PORT to
// advertise it — spec.md §4.4's active branch up through step 3.
// It does not accept; the server only dials back once it receives the
// transfer command itself, which is why the accept is deferred to
// completeActive, run by openForCommand after that command's preliminary
// reply (spec.md §4.5: "a subsequent accept is performed by C5 at data
// start").
func (s *Session) prepareActiveListener() (net.Listener, error) {
	localHost, _, err := net.SplitHostPort(s.conn.LocalAddr().String())
	if err != nil {
		localHost = "0.0.0.0"
	}

	lst, err := net.Listen("tcp", net.JoinHostPort(localHost, "0"))
	if err != nil {
		return nil, errors.Wrap(err, "ftp: listen for active data connection")
	}

	tcpAddr, ok := lst.Addr().(*net.TCPAddr)
	if !ok {
		lst.Close()
		return nil, errors.New("ftp: active listener address is not TCP")
	}

	portArg, err := formatPORT(tcpAddr)
	if err != nil {
		lst.Close()
		return nil, err
	}

	resp, err := s.sendCommand("PORT", portArg)
	if err != nil {
		lst.Close()
		return nil, errors.Wrap(err, "ftp: PORT")
	}
	if !resp.Is2xx() {
		lst.Close()
		return nil, &ProtocolError{Command: "PORT", Response: resp.Message, Code: resp.Code}
	}
	return lst, nil
}

// completeActive performs spec.md §4.5's accept_connection: once the
// transfer command's preliminary 1xx reply has been read, race the data
// socket's Accept against the control socket becoming readable, bounded
// to 30s, using golang.org/x/sync/errgroup (SPEC_FULL.md §4.4: grounded
// on nabbar-golib's go.mod dependency on golang.org/x/sync). Both races
// are required: original_source/components/ftplib/ftplib.c's
// acceptConnection selects on both nControl->handle and nData->handle,
// because a server that rejects an active-mode transfer answers on the
// control channel (e.g. 425/426) instead of ever dialing back, and that
// rejection must fail the transfer immediately rather than after the
// full accept timeout. It is a no-op for a passive-mode DataStream,
// which already carries an established conn. Neither goroutine calls
// back into Session methods beyond a single readResponse on the losing
// control branch, preserving "the callback must not re-enter the
// session" (spec.md §5).
func (ds *DataStream) completeActive() error {
	lst := ds.pendingListener
	if lst == nil {
		return nil
	}
	ds.pendingListener = nil
	defer lst.Close()

	s := ds.session
	deadline := time.Now().Add(acceptTimeout)
	if tl, ok := lst.(*net.TCPListener); ok {
		_ = tl.SetDeadline(deadline)
	}

	ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	type outcome struct {
		conn     net.Conn
		rejected *Response
	}
	outcomeCh := make(chan outcome, 2)

	g.Go(func() error {
		c, err := lst.Accept()
		if err != nil {
			if gctx.Err() != nil || isTimeout(err) {
				return nil // lost the race, or the plain 30s timeout
			}
			return errors.Wrap(err, "ftp: accept active data connection")
		}
		outcomeCh <- outcome{conn: c}
		cancel()
		_ = s.conn.SetReadDeadline(time.Now()) // unblock the control peek below
		return nil
	})

	g.Go(func() error {
		buf := make([]byte, 1)
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return errors.Wrap(err, "ftp: set control read deadline")
		}
		n, err := s.conn.Read(buf)
		_ = s.conn.SetReadDeadline(time.Time{})
		if n == 0 {
			if gctx.Err() != nil || isTimeout(err) {
				return nil // the data accept already won, or this is the plain timeout
			}
			return errors.Wrap(err, "ftp: read control socket during active accept")
		}

		// The control socket fired first: the server answered on the
		// control channel instead of dialing back, which means it
		// rejected the transfer. Feed the peeked byte back so the reply
		// is parsed from the start, then read and consume it.
		s.pendingByte, s.hasPendingByte = buf[0], true
		resp, rerr := s.readResponse()
		if rerr != nil {
			return errors.Wrap(rerr, "ftp: read rejection reply during active accept")
		}
		s.mu.Lock()
		s.lastResponse = resp.Message
		s.lastCode = resp.Code
		s.mu.Unlock()
		outcomeCh <- outcome{rejected: resp}
		cancel()
		_ = lst.Close() // unblock a still-pending Accept
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	select {
	case o := <-outcomeCh:
		if o.rejected != nil {
			return &ProtocolError{Command: "PORT", Response: o.rejected.Message, Code: o.rejected.Code}
		}
		ds.conn = o.conn
		return nil
	default:
		return errors.Wrap(ErrTimeout, "accept connection timed out")
	}
}

// openForCommand opens a data channel, issues cmd, and requires a
// preliminary 1xx reply before data flows, per spec.md §4.5. In active
// mode the server's data connection is only accepted after that reply
// (completeActive); in passive mode the conn is already established by
// openDataChannel. The caller closes the returned DataStream, which
// performs the close-time final reply check.
func (s *Session) openForCommand(role role, cmd string, args ...string) (*DataStream, error) {
	ds, err := s.openDataChannel(role)
	if err != nil {
		return nil, err
	}

	resp, err := s.sendCommand(cmd, args...)
	if err != nil {
		ds.closeConn()
		return nil, err
	}
	if !resp.Is1xx() {
		ds.closeConn()
		return nil, &ProtocolError{Command: cmd, Response: resp.Message, Code: resp.Code}
	}

	if err := ds.completeActive(); err != nil {
		ds.closeConn()
		return nil, err
	}

	s.mu.Lock()
	s.data = ds
	s.mu.Unlock()

	return ds, nil
}

func (ds *DataStream) closeConn() {
	if ds.pendingListener != nil {
		_ = ds.pendingListener.Close()
	}
	if ds.conn != nil {
		_ = ds.conn.Close()
	}
}
