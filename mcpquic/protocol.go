// Package mcpquic serves the uxaid MCP tools over QUIC. A client opens one
// bidirectional stream per session, writes the magic bytes, then speaks
// newline-delimited JSON-RPC on that stream.
package mcpquic

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	ALPNProtocolMCP = "uxai-mcp-v1"
	MagicBytesMCP   = "UXM1"

	MaxMessageSize     = 4 * 1024 * 1024
	DefaultIdleTimeout = 60 * time.Second
	DefaultKeepAlive   = 20 * time.Second
	MaxIncomingStreams = 16
)

// Application error codes sent on connection and stream close.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x01
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03

	StreamErrorProtocolConfusion quic.StreamErrorCode = 0x01
)

var (
	ErrInvalidMagicBytes = errors.New("mcpquic: invalid magic bytes")
	ErrUnsupportedALPN   = errors.New("mcpquic: unsupported ALPN")
	ErrConnectionClosed  = errors.New("mcpquic: connection closed")
)

// ConnectionError ties a failure to the peer that caused it.
type ConnectionError struct {
	RemoteAddr string
	Code       quic.ApplicationErrorCode
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpquic: %s (code 0x%02x): %v", e.RemoteAddr, uint64(e.Code), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendMagicBytes writes the stream preamble.
func SendMagicBytes(w io.Writer) error {
	if _, err := io.WriteString(w, MagicBytesMCP); err != nil {
		return fmt.Errorf("mcpquic: send magic bytes: %w", err)
	}
	return nil
}

// ValidateMagicBytes reads and checks the stream preamble.
func ValidateMagicBytes(r io.Reader) error {
	buf := make([]byte, len(MagicBytesMCP))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("mcpquic: read magic bytes: %w", err)
	}
	if string(buf) != MagicBytesMCP {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, buf)
	}
	return nil
}

// ProductionQUICConfig is the QUIC configuration shared by server and
// client. 0-RTT stays off so tool calls are never replayed.
func ProductionQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:     DefaultIdleTimeout,
		KeepAlivePeriod:    DefaultKeepAlive,
		MaxIncomingStreams: MaxIncomingStreams,
		Allow0RTT:          false,
	}
}
