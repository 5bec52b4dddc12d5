// Package device runs short request/response exchanges against a Tasmota
// device over an open serial channel: component catalog, GPIO assignment,
// IP address, and backlog configuration lines.
package device

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	apperrors "github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/frame"
)

// ErrStreamClosed reports that the serial channel closed while a response
// was still pending. Accumulation state is discarded when it happens.
var ErrStreamClosed = errors.New("device stream closed")

// Device command lines. Responses arrive as free-form log lines; the
// diagnostic ones embed a JSON object behind a timestamp prefix.
const (
	cmdComponents = "GPIOs"
	cmdGPIO       = "GPIO"
	cmdIPAddress  = "IPAddress1"
)

// A dotted quad in parentheses, e.g. "... Tasmota (192.168.0.17) ...".
var ipPattern = regexp.MustCompile(`\((\d{1,3}(?:\.\d{1,3}){3})\)`)

// Port is the channel surface a querier needs. *uart.Channel satisfies it.
type Port interface {
	WriteLine(line string) error
	Bytes() <-chan []byte
}

// Querier drives request/response cycles on one serial channel. It imposes
// no timeout of its own: the caller bounds a query through ctx, or by
// closing the underlying channel, either of which discards any half
// accumulated response.
type Querier struct {
	port Port
	acc  *frame.Accumulator
}

// NewQuerier returns a querier over an open channel.
func NewQuerier(p Port) *Querier {
	return &Querier{port: p, acc: frame.New()}
}

// drain discards chunks already queued on the stream. A leftover RESULT
// line from an earlier response must not be taken for the answer to the
// request about to be written.
func (q *Querier) drain() {
	for {
		select {
		case _, ok := <-q.port.Bytes():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// exchange writes one request line and blocks until the stream yields one
// complete JSON message for it.
func (q *Querier) exchange(ctx context.Context, request string) (frame.Message, error) {
	q.acc.Reset()
	q.drain()

	if err := q.port.WriteLine(request); err != nil {
		return frame.Message{}, err
	}
	slog.Info("device_request", "command", request)

	for {
		select {
		case <-ctx.Done():
			q.acc.Reset()
			return frame.Message{}, ctx.Err()
		case chunk, ok := <-q.port.Bytes():
			if !ok {
				q.acc.Reset()
				return frame.Message{}, ErrStreamClosed
			}
			msgs, err := q.acc.Feed(chunk)
			if err != nil {
				// Malformed frame: surface it, the caller decides on retry.
				return frame.Message{}, err
			}
			if len(msgs) > 0 {
				slog.Info("device_response", "command", request, "bytes", len(msgs[0].Raw))
				return msgs[0], nil
			}
		}
	}
}

// Components queries the catalog of selectable pin components.
func (q *Querier) Components(ctx context.Context) (map[string]any, error) {
	msg, err := q.exchange(ctx, cmdComponents)
	if err != nil {
		return nil, apperrors.Wrap(err, "component query failed")
	}
	return msg.Fields, nil
}

// PinConfig holds both halves of the pin configuration exchange.
type PinConfig struct {
	// Components maps option value to component name ("416" -> "PWM").
	Components map[string]any
	// GPIOs maps pin name to its current assignment object.
	GPIOs map[string]any
}

// ReadPinConfig runs the dependent two-step query: component catalog first,
// then the current GPIO assignment. A failure on the first step aborts the
// second rather than guessing at a partial answer.
func (q *Querier) ReadPinConfig(ctx context.Context) (*PinConfig, error) {
	components, err := q.Components(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := q.exchange(ctx, cmdGPIO)
	if err != nil {
		return nil, apperrors.Wrap(err, "gpio query failed")
	}

	return &PinConfig{Components: components, GPIOs: msg.Fields}, nil
}

// IPAddress asks the device for its address and matches the dotted quad in
// the raw response text. This path bypasses the JSON framing entirely; the
// reply is a plain log line.
func (q *Querier) IPAddress(ctx context.Context) (string, error) {
	q.drain()
	if err := q.port.WriteLine(cmdIPAddress); err != nil {
		return "", err
	}
	slog.Info("device_request", "command", cmdIPAddress)

	var data []byte
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-q.port.Bytes():
			if !ok {
				return "", ErrStreamClosed
			}
			data = append(data, chunk...)
			if m := ipPattern.FindSubmatch(data); m != nil {
				ip := string(m[1])
				slog.Info("device_ip_found", "ip", ip)
				return ip, nil
			}
		}
	}
}

// SendBacklog sends a configuration backlog line. The device applies the
// commands and usually restarts; no response is awaited.
func (q *Querier) SendBacklog(cfg *BacklogConfig) error {
	line, err := cfg.Line()
	if err != nil {
		return err
	}
	slog.Info("device_send_backlog", "commands", len(cfg.Commands()))
	return q.port.WriteLine(line)
}

// Send writes a raw command line, for terminal passthrough. Consecutive
// whitespace is collapsed the way the device expects.
func (q *Querier) Send(command string) error {
	return q.port.WriteLine(strings.Join(strings.Fields(command), " "))
}
