// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Receiver is anything which accepts the bytes read from a connection, such as a
// ServerSession or ClientSession.
type Receiver interface {
	Feed(b []byte)
	End(err error)
}

// ConnTransport adapts a net.Conn to a frames.Transport.
type ConnTransport struct {
	conn    net.Conn
	mu      sync.Mutex
	written atomic.Int64
}

// NewConnTransport returns a transport which writes to a net.Conn.
func NewConnTransport(conn net.Conn) *ConnTransport {
	return &ConnTransport{conn: conn}
}

// Send writes all of b to the connection.
func (t *ConnTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.conn.Write(b)
	t.written.Add(int64(n))
	return err
}

// Close closes the connection.
func (t *ConnTransport) Close() error {
	return t.conn.Close()
}

// Written returns the number of bytes written to the connection.
func (t *ConnTransport) Written() int64 {
	return t.written.Load()
}

// Pump reads from r until it fails, feeding every chunk to rx in order. The end of the
// stream is always reported to rx; io.EOF, closed connections and closed pipes are a
// clean end.
func Pump(r io.Reader, rx Receiver) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			rx.Feed(buf[:n])
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				rx.End(nil)
				return nil
			}

			rx.End(err)
			return err
		}
	}
}
