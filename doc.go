// Package ftp implements an FTP client protocol engine: a synchronous,
// single-threaded-per-session driver for the standard control/data
// two-channel file transfer protocol.
//
// # Overview
//
// A Session owns the control connection; a DataStream is the ephemeral
// handle for one transfer at a time. Both share the same buffered
// line-I/O core, distinguished only by a role tag.
//
// # Basic usage
//
//	s, err := ftp.Connect("ftp.example.com", "21")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Quit()
//
//	if err := s.Login("anonymous", "anonymous@"); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := s.Get("local.txt", "remote.txt", ftp.TypeASCII); err != nil {
//	    log.Fatal(err)
//	}
//
// # Progress and cancellation
//
// Register a callback to receive idle-time and byte-count events during a
// transfer; returning false cancels the in-flight operation:
//
//	s.SetCallback(ftp.CallbackOptions{
//	    Func: func(ds *ftp.DataStream, total int64, arg any) bool {
//	        fmt.Println("transferred", total)
//	        return true
//	    },
//	    BytesThresh: 64 * 1024,
//	})
//
// # Scope
//
// This library targets plain FTP only: no FTPS, no EPSV/EPRT, no REST
// resume, one transfer per Session at a time. See DESIGN.md for the
// rationale.
package ftp
