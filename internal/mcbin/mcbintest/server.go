// Package mcbintest runs an in-process memcached binary protocol server for tests.
// Like a memcached started with -S, it rejects every command but noop on a connection
// that has not authenticated, and closes connections that speak the text protocol.
package mcbintest

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
)

// Server is a SASL-only memcached stand in
type Server struct {
	Addr string

	ln    net.Listener
	mu    sync.Mutex
	users map[string]string
	items map[string][]byte
	auths int
	wg    sync.WaitGroup
}

// New starts a server accepting users (name to password). It stops with the test.
func New(t testing.TB, users map[string]string) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{Addr: ln.Addr().String(), ln: ln, users: map[string]string{}, items: map[string][]byte{}}
	for u, p := range users {
		s.users[u] = p
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})
	return s
}

// SetUser adds or replaces a user
func (s *Server) SetUser(user, pass string) {
	s.mu.Lock()
	s.users[user] = pass
	s.mu.Unlock()
}

// Len is the number of stored items
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Auths counts successful authentications
func (s *Server) Auths() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auths
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)
	authed := false
	hdr := make([]byte, 24)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return
		}
		if hdr[0] != 0x80 {
			return
		}
		op := hdr[1]
		keyLen := int(binary.BigEndian.Uint16(hdr[2:]))
		extrasLen := int(hdr[4])
		body := make([]byte, binary.BigEndian.Uint32(hdr[8:]))
		if _, err := io.ReadFull(r, body); err != nil {
			return
		}
		opaque := binary.BigEndian.Uint32(hdr[12:])
		key := string(body[extrasLen : extrasLen+keyLen])
		value := body[extrasLen+keyLen:]

		var status uint16
		var out []byte
		switch {
		case op == 0x0a:
		case op == 0x21:
			status, out = s.auth(key, value)
			authed = status == 0
		case !authed:
			status, out = 0x20, []byte("Auth failure.")
		case op == 0x08:
			s.mu.Lock()
			s.items = map[string][]byte{}
			s.mu.Unlock()
		case op == 0x00:
			s.mu.Lock()
			v, ok := s.items[key]
			s.mu.Unlock()
			if !ok {
				status, out = 0x01, []byte("Not found")
			} else {
				out = append(make([]byte, 4), v...)
			}
		case op == 0x01:
			s.mu.Lock()
			s.items[key] = append([]byte(nil), value...)
			s.mu.Unlock()
		default:
			status, out = 0x81, []byte("Unknown command")
		}

		extras := 0
		if op == 0x00 && status == 0 {
			extras = 4
		}
		res := make([]byte, 24)
		res[0] = 0x81
		res[1] = op
		res[4] = byte(extras)
		binary.BigEndian.PutUint16(res[6:], status)
		binary.BigEndian.PutUint32(res[8:], uint32(len(out)))
		binary.BigEndian.PutUint32(res[12:], opaque)
		if _, err := conn.Write(append(res, out...)); err != nil {
			return
		}
	}
}

func (s *Server) auth(mech string, value []byte) (uint16, []byte) {
	if mech != "PLAIN" {
		return 0x20, []byte("Auth failure.")
	}
	parts := strings.Split(string(value), "\x00")
	if len(parts) != 3 {
		return 0x20, []byte("Auth failure.")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pass, ok := s.users[parts[1]]; !ok || pass != parts[2] {
		return 0x20, []byte("Auth failure.")
	}
	s.auths++
	return 0, []byte("Authenticated")
}
