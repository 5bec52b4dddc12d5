// Package uart owns a single serial connection to a device. It provides
// plain byte/line writes and a byte-arrival channel, without imposing any
// framing on the stream; higher layers decide where messages begin and end.
package uart

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	serialport "go.bug.st/serial"
)

// DefaultBaud is the rate Tasmota devices talk at.
const DefaultBaud = 115200

const (
	readTimeout = 50 * time.Millisecond
	chunkSize   = 1024
)

// ErrClosed reports a write against a closed channel.
var ErrClosed = errors.New("channel closed")

// ConnectionError wraps a port open/read/write failure, including losing
// the device mid-operation.
type ConnectionError struct {
	Port string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("serial %s on %s: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// port is the slice of go.bug.st/serial.Port the channel uses. Tests
// substitute a fake.
type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Channel is one open serial session. At most one logical writer may use
// it at a time; concurrent writers are a caller error. Close is safe from
// any goroutine and idempotent.
type Channel struct {
	name string
	port port

	recv chan []byte
	done chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open opens the named port at the given baud rate (8N1) and starts
// delivering arriving bytes on Bytes().
func Open(name string, baud int) (*Channel, error) {
	mode := &serialport.Mode{
		BaudRate: baud,
		Parity:   serialport.NoParity,
		DataBits: 8,
		StopBits: serialport.OneStopBit,
	}

	p, err := serialport.Open(name, mode)
	if err != nil {
		slog.Error("serial_open_failed", "port", name, "error", err)
		return nil, &ConnectionError{Port: name, Op: "open", Err: err}
	}

	slog.Info("serial_open", "port", name, "baud", baud)
	return newChannel(name, p), nil
}

// ListPorts returns the system's serial port names.
func ListPorts() ([]string, error) {
	return serialport.GetPortsList()
}

func newChannel(name string, p port) *Channel {
	c := &Channel{
		name: name,
		port: p,
		recv: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop polls the port and forwards every non-empty read as one chunk.
// Chunk boundaries are whatever the driver returned; nothing aligns them
// with device messages.
func (c *Channel) readLoop() {
	defer close(c.recv)

	buf := make([]byte, chunkSize)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := c.port.SetReadTimeout(readTimeout); err != nil {
			return
		}

		n, err := c.port.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				// Expected: Close unblocked the read.
			default:
				slog.Warn("serial_read_failed", "port", c.name, "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		select {
		case c.recv <- chunk:
		case <-c.done:
			return
		}
	}
}

// Bytes is the byte-arrival channel. It is closed when the Channel closes,
// which unblocks any consumer waiting on it.
func (c *Channel) Bytes() <-chan []byte {
	return c.recv
}

// Write sends raw bytes to the device.
func (c *Channel) Write(p []byte) error {
	select {
	case <-c.done:
		return &ConnectionError{Port: c.name, Op: "write", Err: ErrClosed}
	default:
	}

	if _, err := c.port.Write(p); err != nil {
		slog.Error("serial_write_failed", "port", c.name, "error", err)
		return &ConnectionError{Port: c.name, Op: "write", Err: err}
	}
	return nil
}

// WriteLine sends a command line terminated by '\n'.
func (c *Channel) WriteLine(line string) error {
	return c.Write([]byte(line + "\n"))
}

// Close releases the port. Every owner calls it on every exit path;
// repeated calls return the first result.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.port.Close()
		slog.Info("serial_close", "port", c.name)
	})
	return c.closeErr
}
