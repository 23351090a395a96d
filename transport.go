package realtime

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	// CloseChan signals transport shutdown by being closed.
	CloseChan chan struct{}

	// Transport owns one underlying socket connection. Inbound frames are
	// delivered on the recv channel handed to the factory; closure is
	// observable through CloseChan and explained by CloseErr.
	Transport interface {
		// Open establishes the connection. It returns once the socket is up
		// and the read/write loops are running, or with an error.
		Open(ctx context.Context) error

		// Write queues a frame for delivery over the wire.
		Write(f Frame) error

		// Close tears the connection down. Idempotent.
		Close()

		// CloseChan returns a channel closed when the connection dies, for
		// whatever reason.
		CloseChan() CloseChan

		// CloseErr explains why the connection closed. Nil on clean shutdown.
		CloseErr() error
	}

	// TransportFactory builds a fresh Transport for each connection attempt.
	TransportFactory func(logger Logger, recv chan<- Frame) Transport

	// DialParams are resolved right before every dial, so rotating tokens or
	// load-balanced endpoints pick up fresh values on reconnect.
	DialParams struct {
		URL    url.URL
		Header http.Header
	}

	DialParamsGetter func(ctx context.Context) (DialParams, error)
)

// StaticDialParams returns a getter that always resolves to the same URL.
func StaticDialParams(rawURL string, header http.Header) DialParamsGetter {
	return func(context.Context) (DialParams, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return DialParams{}, errors.Wrapf(err, "invalid transport URL %q", rawURL)
		}
		return DialParams{URL: *u, Header: header}, nil
	}
}

// wsTransport is the production Transport on top of a websocket connection.
// One goroutine reads, one writes; both exit when closeChan closes.
type wsTransport struct {
	logger     Logger
	dialer     *websocket.Dialer
	dialParams DialParamsGetter

	conn            *websocket.Conn
	closeChan       CloseChan
	closeOnce       sync.Once
	closeReason     error
	closeReasonOnce sync.Once

	recv chan<- Frame
	send chan Frame
}

// NewWebsocketTransportFactory builds the default transport factory. A nil
// dialer falls back to websocket.DefaultDialer.
func NewWebsocketTransportFactory(dialer *websocket.Dialer, params DialParamsGetter) TransportFactory {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return func(logger Logger, recv chan<- Frame) Transport {
		return &wsTransport{
			logger:     logger.WithField("component", "ws_transport"),
			dialer:     dialer,
			dialParams: params,
			closeChan:  make(CloseChan),
			recv:       recv,
			send:       make(chan Frame),
		}
	}
}

func (w *wsTransport) Open(ctx context.Context) error {
	p, err := w.dialParams(ctx)
	if err != nil {
		w.logger.Errorf("cannot resolve dial params: %s", err)
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = w.handleDialError(resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.conn = conn

	// Override control message handlers to surface control frames through the
	// same recv channel as data, so the consumer owns keep-alive decisions.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		w.deliver(NewPingFrame([]byte(appData)))
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		w.logger.Debugln("<= [PONG]")
		w.deliver(NewPongFrame([]byte(appData)))
		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		w.logger.Debugln("<= [CLOSE]")
		w.deliver(NewCloseFrame(code, []byte(text)))
		return nil
	})

	go w.read()
	go w.write()

	return nil
}

// Write queues a frame unless the transport already died.
func (w *wsTransport) Write(f Frame) error {
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	case w.send <- f:
		return nil
	}
}

func (w *wsTransport) Close() {
	w.safeClose()
}

func (w *wsTransport) CloseChan() CloseChan {
	return w.closeChan
}

func (w *wsTransport) CloseErr() error {
	return w.closeReason
}

// deliver pushes a frame to the consumer without wedging on shutdown.
func (w *wsTransport) deliver(f Frame) {
	select {
	case w.recv <- f:
	case <-w.closeChan:
	}
}

func (w *wsTransport) read() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			return
		default:
			messageType, bts, err := w.conn.ReadMessage()
			if err != nil {
				w.logger.Debugf("error occurred on websocket read: %s", err)

				w.setCloseReason(errors.Wrap(
					ErrConnectionClosed,
					"error occurred on websocket read: "+err.Error(),
				))
				return
			}
			switch messageType {
			case websocket.BinaryMessage:
				w.logger.Debugln("<= [BIN]")
				w.deliver(NewBinaryFrame(bts))
			default:
				w.logger.Debugf("<= [DATA] %s", string(bts))
				w.deliver(NewTextFrame(bts))
			}
		}
	}
}

func (w *wsTransport) write() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			w.setCloseReason(ErrTerminated)
			return
		case f := <-w.send:
			deadline := time.Now().Add(time.Second)
			_ = w.conn.SetWriteDeadline(deadline)

			var err error

			switch f.Type() {
			case PingFrame:
				w.logger.Debugln("=> [PING]")
				err = w.conn.WriteControl(websocket.PingMessage, f.Data(), deadline)
				if e, ok := err.(net.Error); ok && e.Temporary() {
					err = nil
				}
			case PongFrame:
				w.logger.Debugln("=> [PONG]")
				err = w.conn.WriteControl(websocket.PongMessage, f.Data(), deadline)
			case CloseFrame:
				w.logger.Debugln("=> [CLOSE]")
				err = w.conn.WriteMessage(websocket.CloseMessage, f.Data())
			case BinaryFrame:
				err = w.conn.WriteMessage(websocket.BinaryMessage, f.Data())
			default:
				w.logger.Debugf("=> [DATA] %s", f.Data())
				err = w.conn.WriteMessage(websocket.TextMessage, f.Data())
			}

			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					w.setCloseReason(ErrConnectionClosed)
				} else {
					w.setCloseReason(errors.Wrap(ErrConnectionClosed, err.Error()))
				}
				return
			}
		}
	}
}

func (w *wsTransport) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *wsTransport) close() {
	if w.conn != nil {
		_ = w.conn.Close()
	}
	close(w.closeChan)
}

func (w *wsTransport) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *wsTransport) handleDialError(resp *http.Response, err error) error {
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
