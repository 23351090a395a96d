package realtime

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotConnected is returned by the send family of methods whenever the
	// client is not in the connected state. The failed call has no side effects.
	ErrNotConnected = errors.New("client is not connected")

	// ErrDestroyed is returned by Connect once Destroy has been called.
	// It is permanent: a destroyed client never connects again.
	ErrDestroyed = errors.New("client has been destroyed")

	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrTerminated       = errors.New("client shutdown")
	ErrRateLimit        = errors.New("rate limit exceeded")

	// ErrHandshakeFailed covers every way the post-open auth exchange can go
	// wrong besides timing out: malformed ack, transport closed mid-handshake,
	// or an explicit rejection from the server.
	ErrHandshakeFailed = errors.New("authentication handshake failed")

	ErrHandshakeTimeout = errors.New("authentication handshake timed out")
)

// AuthRejectedError is returned when the server answers the auth frame with a
// non-positive acknowledgement. It unwraps to ErrHandshakeFailed so callers
// can match the whole handshake-failure class with errors.Is.
type AuthRejectedError struct {
	Reason string
}

func (e *AuthRejectedError) Error() string {
	if e.Reason == "" {
		return "server rejected authentication"
	}
	return fmt.Sprintf("server rejected authentication: %s", e.Reason)
}

func (e *AuthRejectedError) Unwrap() error { return ErrHandshakeFailed }

// recoverable reports whether a connect failure should feed the reconnect
// policy. Explicit teardown and destruction are final.
func recoverable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrDestroyed) && !errors.Is(err, ErrTerminated)
}
