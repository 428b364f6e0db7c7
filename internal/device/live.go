package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/TSS-CH/MAS-004-RPI-Databridge/internal/model"
)

// Transport performs the actual wire exchange for one command and returns
// the device's raw reply line, or an error. A real Transport for esp-plc,
// vj6530 (ZBC/Zipher), or vj3350 (Ultimate) speaks that device's own
// dialect; the wire-level framing itself is out of this spec's scope
// (spec §1) and is not reproduced here. LiveAdapter only needs a
// request/response line exchange and a way to classify the failure.
type Transport interface {
	// Exchange sends the command line and returns the device's reply line.
	// A non-nil err must be one of the sentinel errors below, or will be
	// treated as NAKDeviceComm.
	Exchange(ctx context.Context, line string) (reply string, err error)
}

// Sentinel errors a Transport returns to steer LiveAdapter's NAK mapping.
var (
	ErrDeviceDown        = errors.New("device down")
	ErrDeviceBadResponse = errors.New("device bad response")
	ErrDeviceRejected    = errors.New("device rejected command")
)

// LiveAdapter executes a command against a real device over a short-lived
// line-oriented exchange. Grounded on device_bridge.py's
// _esp_live/_zbc_live/_ultimate_live at the level this spec keeps in
// scope: control flow and NAK mapping, not wire framing.
type LiveAdapter struct {
	Channel   string
	Transport Transport
}

func NewLiveAdapter(channel string, transport Transport) *LiveAdapter {
	return &LiveAdapter{Channel: channel, Transport: transport}
}

func (a *LiveAdapter) Execute(ctx context.Context, cmd model.ParsedCommand) (string, error) {
	if reply, isRO := CheckReadOnly(cmd); isRO {
		return reply, nil
	}
	if a.Transport == nil {
		return ReplyNAK(cmd.Pkey, NAKMappingMissing), nil
	}

	line := fmt.Sprintf("%s=%s", cmd.Pkey, commandValue(cmd))
	reply, err := a.Transport.Exchange(ctx, line)
	if err != nil {
		return ReplyNAK(cmd.Pkey, classifyTransportError(err)), nil
	}
	if reply == "" {
		return ReplyNAK(cmd.Pkey, NAKDeviceBadResponse), nil
	}

	if cmd.IsRead() {
		return ReplyRead(cmd.Pkey, reply), nil
	}
	return ReplyAck(cmd.Pkey, reply), nil
}

func commandValue(cmd model.ParsedCommand) string {
	if cmd.IsRead() {
		return "?"
	}
	return cmd.Value
}

func classifyTransportError(err error) string {
	switch {
	case errors.Is(err, ErrDeviceDown):
		return NAKDeviceDown
	case errors.Is(err, ErrDeviceBadResponse):
		return NAKDeviceBadResponse
	case errors.Is(err, ErrDeviceRejected):
		return NAKDeviceRejected
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			return NAKDeviceComm
		}
		return NAKDeviceComm
	}
}

// TCPLineTransport is a generic, dialect-agnostic Transport: it opens a
// fresh TCP connection per exchange, writes the command line terminated
// with "\n", and reads one line back. This is the shared shape behind
// device_clients.py's EspPlcClient.exchange_line; it is deliberately not a
// reproduction of the ZBC or Ultimate wire protocols (out of scope).
type TCPLineTransport struct {
	Addr       string
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (t *TCPLineTransport) Exchange(ctx context.Context, line string) (string, error) {
	if t.Addr == "" {
		return "", ErrDeviceDown
	}

	dialer := net.Dialer{Timeout: t.dialTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceDown, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.readTimeout())); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceDown, err)
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDeviceDown, err)
	}

	buf := make([]byte, 0, 256)
	chunk := make([]byte, 256)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := bytes.IndexByte(buf, '\n'); idx >= 0 {
				return string(buf[:idx]), nil
			}
		}
		if err != nil {
			if len(buf) > 0 {
				return string(buf), nil
			}
			return "", fmt.Errorf("%w: %v", ErrDeviceBadResponse, err)
		}
	}
}

func (t *TCPLineTransport) dialTimeout() time.Duration {
	if t.DialTimeout > 0 {
		return t.DialTimeout
	}
	return time.Second
}

func (t *TCPLineTransport) readTimeout() time.Duration {
	if t.ReadTimeout > 0 {
		return t.ReadTimeout
	}
	return time.Second
}
