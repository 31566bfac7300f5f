// Package transport provides the blocking byte-stream collaborators
// spec.md §4.6/§4.5 sit on top of: a direct TCP/IP socket and a physical
// serial port, both implementing base.Stream.
package transport

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nilsby/godlms/base"
	"go.uber.org/zap"
)

type tcp struct {
	hostname  string
	port      int
	logger    *zap.SugaredLogger
	connected bool
	timeout   time.Duration
	conn      net.Conn

	offset int
	read   int
	buffer []byte

	deadline        time.Time
	totalIncoming   int64
	totalOutgoing   int64
	currentIncoming int64
	maxIncoming     int64
}

// NewTCP builds a base.Stream over a TCP/IP connection to hostname:port,
// grounded on tcp/tcp.go. timeout bounds both the initial dial and every
// subsequent Read/Write unless a shorter SetDeadline is in effect.
func NewTCP(hostname string, port int, timeout time.Duration) base.Stream {
	return &tcp{
		hostname: hostname,
		port:     port,
		timeout:  timeout,
		buffer:   make([]byte, 2048),
	}
}

func (t *tcp) logf(format string, v ...any) {
	if t.logger != nil {
		t.logger.Infof(format, v...)
	}
}

func (t *tcp) Close() error {
	return nil
}

func (t *tcp) Open() error {
	if t.connected {
		return nil
	}
	address := net.JoinHostPort(t.hostname, strconv.Itoa(t.port))
	conn, err := net.DialTimeout("tcp", address, t.timeout)
	if err != nil {
		t.logf("connect to %s failed: %v", address, err)
		return fmt.Errorf("connect failed: %w", err)
	}
	t.logf("connected to %s", address)
	t.conn = conn
	t.connected = true
	return nil
}

func (t *tcp) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.logf("disconnected from %s, total bytes in=%d out=%d", t.hostname, t.totalIncoming, t.totalOutgoing)
	return nil
}

func (t *tcp) IsOpen() bool {
	return t.connected
}

func (t *tcp) SetMaxReceivedBytes(m int64) {
	t.currentIncoming = 0
	t.maxIncoming = m
}

func (t *tcp) SetDeadline(d time.Time) {
	t.deadline = d
}

func (t *tcp) SetLogger(logger *zap.SugaredLogger) {
	t.logger = logger
}

func (t *tcp) commDeadline() time.Time {
	cd := time.Now().Add(t.timeout)
	if t.deadline.IsZero() || cd.Before(t.deadline) {
		return cd
	}
	return t.deadline
}

func (t *tcp) Write(src []byte) error {
	if !t.connected {
		return base.ErrNotOpened
	}
	for len(src) > 0 {
		_ = t.conn.SetWriteDeadline(t.commDeadline())
		n, err := t.conn.Write(src)
		if err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		t.totalOutgoing += int64(n)
		if t.logger != nil {
			t.logger.Debugf("TX (%s): %6d %s", t.hostname, n, hexString(src[:n]))
		}
		src = src[n:]
	}
	return nil
}

func (t *tcp) Read(p []byte) (n int, err error) {
	if !t.connected {
		return 0, base.ErrNotOpened
	}
	if len(p) == 0 {
		return 0, base.ErrNothingToRead
	}

	if rem := t.read - t.offset; rem > 0 {
		n = copy(p, t.buffer[t.offset:t.read])
		t.offset += n
		return n, nil
	}

	_ = t.conn.SetReadDeadline(t.commDeadline())
	rx, err := t.conn.Read(t.buffer)
	t.totalIncoming += int64(rx)
	t.currentIncoming += int64(rx)
	if t.maxIncoming > 0 && t.currentIncoming > t.maxIncoming {
		return 0, fmt.Errorf("received more than the configured %d bytes", t.maxIncoming)
	}
	if rx > 0 {
		t.read = rx
		t.offset = copy(p, t.buffer[:rx])
		if t.logger != nil {
			t.logger.Debugf("RX (%s): %6d %s", t.hostname, rx, hexString(t.buffer[:rx]))
		}
		n = t.offset
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, base.ErrCommunicationTimeout
		}
		return n, err
	}
	if rx == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func hexString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
