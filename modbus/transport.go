// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// tcpTransport owns the TCP connection to one remote device. Send
// holds the lock for the whole request/response exchange, so a
// transport carries at most one transaction in flight.
type tcpTransport struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func newTCPTransport(addr string, timeout time.Duration) *tcpTransport {
	return &tcpTransport{
		addr:    addr,
		timeout: timeout,
	}
}

// connect establishes the TCP connection if one is not already open.
func (t *tcpTransport) connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	dialer := &net.Dialer{
		Timeout:   t.timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetNoDelay(true) // Disable Nagle's algorithm for low latency
	}

	t.conn = conn
	return nil
}

// close closes the TCP connection.
func (t *tcpTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *tcpTransport) isConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// send writes one request frame and reads one response frame. The
// deadline comes from the context when set, otherwise from the
// configured timeout. Any I/O or framing error drops the connection,
// because the stream position can no longer be trusted.
func (t *tcpTransport) send(ctx context.Context, data []byte) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	written := 0
	for written < len(data) {
		n, err := t.conn.Write(data[written:])
		if err != nil {
			t.closeConnLocked()
			return nil, fmt.Errorf("write: %w", err)
		}
		written += n
	}

	frame, err := ReadFrame(t.conn)
	if err != nil {
		t.closeConnLocked()
		return nil, fmt.Errorf("read response: %w", err)
	}
	return frame, nil
}

// closeConnLocked closes the connection without acquiring the lock.
// Must be called with mu held.
func (t *tcpTransport) closeConnLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
