package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// handshake performs the application-level auth exchange that follows
// transport-open: one auth frame out, one acknowledgement in, all within the
// configured timeout.
type handshake struct {
	logger    Logger
	token     string
	sessionID string
	timeout   time.Duration
}

func newHandshake(logger Logger, token, sessionID string, timeout time.Duration) handshake {
	return handshake{
		logger:    logger.WithField("component", "handshake"),
		token:     token,
		sessionID: sessionID,
		timeout:   timeout,
	}
}

// run sends the auth frame and waits for the server's verdict. The first data
// frame received settles the handshake: anything that is not a positive,
// well-formed acknowledgement is a failure.
func (h handshake) run(ctx context.Context, tr Transport, recv <-chan Frame) (authAck, error) {
	var ack authAck

	bts, err := json.Marshal(authFrame{
		Type:      frameAuth,
		Token:     h.token,
		SessionID: h.sessionID,
	})
	if err != nil {
		return ack, errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	if err := tr.Write(NewTextFrame(bts)); err != nil {
		return ack, errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ack, errors.Wrap(ErrTerminated, ctx.Err().Error())
		case <-timer.C:
			h.logger.Warnf("no auth ack within %s", h.timeout)
			return ack, ErrHandshakeTimeout
		case <-tr.CloseChan():
			return ack, errors.Wrap(ErrHandshakeFailed, "transport closed during handshake")
		case f := <-recv:
			if f.Type().IsPing() {
				// Keep the connection healthy even while authenticating.
				_ = tr.Write(NewPongFrame(f.Data()))
				continue
			}
			if !f.Type().IsData() {
				continue
			}

			if err := json.Unmarshal(f.Data(), &ack); err != nil {
				h.logger.Warnf("malformed auth ack: %s", err)
				return ack, errors.Wrap(ErrHandshakeFailed, "malformed auth ack")
			}
			if !ack.Success {
				return ack, &AuthRejectedError{Reason: ack.Error}
			}
			if ack.ConnectionID == "" {
				return ack, errors.Wrap(ErrHandshakeFailed, "ack is missing connection id")
			}

			h.logger.Debugf("authenticated: connection=%s user=%s", ack.ConnectionID, ack.UserID)
			return ack, nil
		}
	}
}
