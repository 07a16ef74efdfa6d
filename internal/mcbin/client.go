// Package mcbin speaks the memcached binary protocol. Only the commands the harness needs
// are implemented: SASL PLAIN authentication, noop, flush, get and set. A server started
// with SASL enabled refuses the text protocol, which is all gomemcache supports.
package mcbin

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const (
	magicRequest  = 0x80
	magicResponse = 0x81
	headerLen     = 24
)

const (
	opGet      = 0x00
	opSet      = 0x01
	opFlush    = 0x08
	opNoop     = 0x0a
	opSASLAuth = 0x21
)

// Status is a binary protocol response status
type Status uint16

const (
	StatusOK           Status = 0x0000
	StatusKeyNotFound  Status = 0x0001
	StatusAuthError    Status = 0x0020
	StatusAuthContinue Status = 0x0021
	StatusUnknownCmd   Status = 0x0081
)

var (
	// ErrCacheMiss is returned by Get for absent keys
	ErrCacheMiss = errors.New("mcbin: cache miss")
	// ErrAuth is returned when the server rejects the credentials
	ErrAuth = errors.New("mcbin: authentication failed")
)

// StatusError carries a non-success response status
type StatusError struct {
	Op     string
	Status Status
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("mcbin: %s: status 0x%04x: %s", e.Op, uint16(e.Status), e.Msg)
	}
	return fmt.Sprintf("mcbin: %s: status 0x%04x", e.Op, uint16(e.Status))
}

// Client is a single connection. Calls are serialized.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	rw      *bufio.ReadWriter
	timeout time.Duration
	opaque  uint32
}

// Dial connects to addr. With a non-empty user the connection authenticates with PLAIN
// before it is returned.
func Dial(ctx context.Context, addr, user, pass string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		rw:      bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		timeout: timeout,
	}
	if user != "" {
		if err := c.Auth(user, pass); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return c, nil
}

// Auth authenticates with the PLAIN mechanism
func (c *Client) Auth(user, pass string) error {
	value := []byte("\x00" + user + "\x00" + pass)
	res, err := c.roundTrip("sasl-auth", opSASLAuth, nil, []byte("PLAIN"), value)
	if err != nil {
		return err
	}
	switch res.status {
	case StatusOK:
		return nil
	case StatusAuthError, StatusAuthContinue:
		return fmt.Errorf("%w for user %q", ErrAuth, user)
	default:
		return res.err("sasl-auth")
	}
}

// Noop checks the connection round trip
func (c *Client) Noop() error {
	res, err := c.roundTrip("noop", opNoop, nil, nil, nil)
	if err != nil {
		return err
	}
	return res.check("noop")
}

// Flush drops every item
func (c *Client) Flush() error {
	res, err := c.roundTrip("flush", opFlush, nil, nil, nil)
	if err != nil {
		return err
	}
	return res.check("flush")
}

// Get returns the value stored at key, or ErrCacheMiss
func (c *Client) Get(key string) ([]byte, error) {
	res, err := c.roundTrip("get", opGet, nil, []byte(key), nil)
	if err != nil {
		return nil, err
	}
	if res.status == StatusKeyNotFound {
		return nil, ErrCacheMiss
	}
	if err := res.check("get"); err != nil {
		return nil, err
	}
	return res.value, nil
}

// Set stores value at key. A zero ttl never expires.
func (c *Client) Set(key string, value []byte, ttl time.Duration) error {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[4:], uint32(ttl/time.Second))
	res, err := c.roundTrip("set", opSet, extras, []byte(key), value)
	if err != nil {
		return err
	}
	return res.check("set")
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

type response struct {
	status Status
	value  []byte
}

func (r response) check(op string) error {
	if r.status == StatusOK {
		return nil
	}
	if r.status == StatusAuthError {
		return fmt.Errorf("%s: %w", op, ErrAuth)
	}
	return r.err(op)
}

func (r response) err(op string) error {
	return &StatusError{Op: op, Status: r.status, Msg: string(r.value)}
}

func (c *Client) roundTrip(op string, opcode byte, extras, key, value []byte) (response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opaque++
	if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return response{}, err
	}

	hdr := make([]byte, headerLen)
	hdr[0] = magicRequest
	hdr[1] = opcode
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(key)))
	hdr[4] = byte(len(extras))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(extras)+len(key)+len(value)))
	binary.BigEndian.PutUint32(hdr[12:], c.opaque)
	for _, b := range [][]byte{hdr, extras, key, value} {
		if _, err := c.rw.Write(b); err != nil {
			return response{}, fmt.Errorf("mcbin: %s: %w", op, err)
		}
	}
	if err := c.rw.Flush(); err != nil {
		return response{}, fmt.Errorf("mcbin: %s: %w", op, err)
	}

	if _, err := io.ReadFull(c.rw, hdr); err != nil {
		return response{}, fmt.Errorf("mcbin: %s: %w", op, err)
	}
	if hdr[0] != magicResponse {
		return response{}, fmt.Errorf("mcbin: %s: bad response magic 0x%02x", op, hdr[0])
	}
	keyLen := int(binary.BigEndian.Uint16(hdr[2:]))
	extrasLen := int(hdr[4])
	status := Status(binary.BigEndian.Uint16(hdr[6:]))
	bodyLen := int(binary.BigEndian.Uint32(hdr[8:]))
	if bodyLen < keyLen+extrasLen {
		return response{}, fmt.Errorf("mcbin: %s: malformed response body", op)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(c.rw, body); err != nil {
		return response{}, fmt.Errorf("mcbin: %s: %w", op, err)
	}
	if got := binary.BigEndian.Uint32(hdr[12:]); got != c.opaque {
		return response{}, fmt.Errorf("mcbin: %s: opaque mismatch %d != %d", op, got, c.opaque)
	}
	return response{status: status, value: body[extrasLen+keyLen:]}, nil
}
