// Package statsd receives plaintext metric datagrams over local UDP
// and accumulates them until the harness drains them after a
// measurement window.
package statsd

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// DefaultAddr is the fixed endpoint measured commands and iteration
// children send their metrics to.
const DefaultAddr = "127.0.0.1:8125"

// maxDatagram bounds a single receive; the accumulating buffer itself
// is unbounded.
const maxDatagram = 4096

// Buffer accumulates raw datagram text. The listener goroutine is the
// writer; the runner drains it after each measured command has fully
// exited, so a drain never races a child's own sends.
type Buffer struct {
	mu  sync.RWMutex
	buf strings.Builder
}

// Append adds one datagram's text to the buffer.
func (b *Buffer) Append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.WriteString(s)
}

// String returns the accumulated text without clearing it.
func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.buf.String()
}

// Drain returns the accumulated text and clears the buffer.
func (b *Buffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.buf.String()
	b.buf.Reset()

	return s
}

// Listener receives metric datagrams into a shared Buffer. It is
// started once, before any measurement, and runs for the life of the
// process.
type Listener struct {
	Addr   string // defaults to DefaultAddr when empty
	Buf    *Buffer
	Logger *slog.Logger

	conn net.PacketConn
}

// Listen binds the UDP endpoint, closes ready once the socket is
// receiving, then loops forever appending each datagram to the
// buffer. It returns only on a bind or receive failure; the caller
// treats either as fatal. The goroutine running Listen is never
// joined; it is abandoned when the process exits.
func (l *Listener) Listen(ready chan<- struct{}) error {
	addr := l.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	l.conn = conn
	close(ready)

	l.Logger.Info("statsd listener ready",
		slog.String("addr", conn.LocalAddr().String()),
	)

	buf := make([]byte, maxDatagram)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		l.Buf.Append(string(buf[:n]))
	}
}

// LocalAddr reports the bound address. Valid only after ready has
// closed.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Send transmits one datagram to addr from an ephemeral local port.
// Iteration children use it to report their metrics to the parent's
// listener.
func Send(addr, payload string) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("send to %s: %w", addr, err)
	}

	return nil
}
