package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Connection errors
	ErrNotConnected       = errors.New("tether: not connected")
	ErrConnectionClosing  = errors.New("tether: connection closing")
	ErrConnectionNotFound = errors.New("tether: connection not found")
	ErrRetriesExhausted   = errors.New("tether: reconnect attempts exhausted")

	// Publisher errors
	ErrExchangeNotFound = errors.New("tether: exchange not found")

	// General errors
	ErrInvalidHandler = errors.New("tether: invalid handler descriptor")
)

// ConnectError reports a failed connect or reconnect sequence.
type ConnectError struct {
	Op        string    // operation that failed
	Server    string    // broker host (never includes credentials)
	Err       error     // underlying error
	Timestamp time.Time // when the error occurred
	Attempts  int       // number of attempts made
}

func (e *ConnectError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("tether connect error: %s to %s failed after %d attempts: %v", e.Op, e.Server, e.Attempts, e.Err)
	}
	return fmt.Sprintf("tether connect error: %s to %s failed: %v", e.Op, e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ChannelError reports a channel-level failure on a connection.
type ChannelError struct {
	Op           string    // operation that failed
	ConnectionID string    // owning connection guid
	Err          error     // underlying error
	Timestamp    time.Time // when the error occurred
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("tether channel error: %s on connection %s: %v", e.Op, e.ConnectionID, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// HandshakeError reports a single handler's consume setup failing. It is
// logged and contained; sibling handlers and the connection are unaffected.
type HandshakeError struct {
	Queue        string    // queue the handler was binding to
	ConnectionID string    // owning connection guid
	Err          error     // underlying error
	Timestamp    time.Time // when the error occurred
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tether handshake error: consume setup for queue %s on connection %s: %v", e.Queue, e.ConnectionID, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// ExchangeError reports a failed publisher-readiness check.
type ExchangeError struct {
	Exchange  string    // exchange that was checked
	Err       error     // underlying error
	Timestamp time.Time // when the error occurred
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("tether exchange error: check for %s: %v", e.Exchange, e.Err)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
