package debugger

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mabhi256/jovm/internal/vmerr"
)

const handshakeMagic = "JDWP-Handshake"

// Transport is spec §4.8's pluggable transport trait. TCPTransport is the
// only implementation this core ships, matching spec's "default is TCP";
// the interface exists so internal/debugger never hard-codes net.Conn
// into the event engine or command dispatcher.
type Transport interface {
	ReadPacket() ([]byte, error)
	WritePacket(pkt []byte) error
	IsDataAvailable(timeout time.Duration) (bool, error)
	Close() error
}

// TCPTransport implements Transport over a single accepted or dialed TCP
// connection, framing JDWP packets by their leading 4-byte length field.
type TCPTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

// Listen opens addr and blocks until a debugger attaches, then completes
// the handshake (spec §4.8: exchange the literal 14-byte magic both
// directions; any deviation is fatal to the session).
func Listen(addr string, handshakeTimeout time.Duration) (*TCPTransport, error) {
	if !strings.Contains(addr, ":") {
		addr = ":" + addr // a bare port listens on every interface
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	defer ln.Close()
	if handshakeTimeout > 0 {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(handshakeTimeout))
		}
	}
	conn, err := ln.Accept()
	if err != nil {
		return nil, vmerr.NewTransportError(vmerr.TransportTimeout, err)
	}
	return newTCPTransport(conn, handshakeTimeout)
}

// Dial connects out to a listening debugger (the reverse-attach direction
// JDWP also supports) and completes the handshake.
func Dial(addr string, connectTimeout time.Duration) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	return newTCPTransport(conn, connectTimeout)
}

func newTCPTransport(conn net.Conn, handshakeTimeout time.Duration) (*TCPTransport, error) {
	t := &TCPTransport{conn: conn, r: bufio.NewReader(conn)}
	if handshakeTimeout > 0 {
		conn.SetDeadline(time.Now().Add(handshakeTimeout))
	}
	if _, err := conn.Write([]byte(handshakeMagic)); err != nil {
		conn.Close()
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	got := make([]byte, len(handshakeMagic))
	if _, err := readFull(t.r, got); err != nil {
		conn.Close()
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	if string(got) != handshakeMagic {
		conn.Close()
		return nil, vmerr.NewTransportError(vmerr.TransportIllegalState, fmt.Errorf("bad handshake %q", got))
	}
	conn.SetDeadline(time.Time{})
	return t, nil
}

func readFull(r *bufio.Reader, dst []byte) (int, error) {
	n := 0
	for n < len(dst) {
		m, err := r.Read(dst[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadPacket reads one full JDWP packet (command or reply), blocking
// until the length-prefixed frame is complete, and returns it with the
// 4-byte length prefix stripped.
func (t *TCPTransport) ReadPacket() ([]byte, error) {
	lenBytes := make([]byte, 4)
	if _, err := readFull(t.r, lenBytes); err != nil {
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	length := binary.BigEndian.Uint32(lenBytes)
	if length < 4 {
		return nil, vmerr.NewTransportError(vmerr.TransportIllegalArgument, fmt.Errorf("packet length %d too short", length))
	}
	rest := make([]byte, length-4)
	if _, err := readFull(t.r, rest); err != nil {
		return nil, vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	return rest, nil
}

func (t *TCPTransport) WritePacket(pkt []byte) error {
	_, err := t.conn.Write(pkt)
	if err != nil {
		return vmerr.NewTransportError(vmerr.TransportIoError, err)
	}
	return nil
}

// IsDataAvailable honors spec §5's "debugger blocking reads honor a
// caller-supplied timeout" by setting a short read deadline and peeking
// one byte, then restoring blocking semantics.
func (t *TCPTransport) IsDataAvailable(timeout time.Duration) (bool, error) {
	t.conn.SetReadDeadline(time.Now().Add(timeout))
	defer t.conn.SetReadDeadline(time.Time{})
	_, err := t.r.Peek(1)
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	return false, vmerr.NewTransportError(vmerr.TransportIoError, err)
}

func (t *TCPTransport) Close() error { return t.conn.Close() }
