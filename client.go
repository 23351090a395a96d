package realtime

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Client maintains one authenticated realtime session: it opens the
// transport, runs the auth handshake, keeps the connection alive with
// heartbeats, replays channel subscriptions across reconnects and fans
// inbound events out to registered handlers.
//
// All methods are safe for concurrent use. A Client is single-use with
// respect to Destroy: once destroyed it never connects again.
type Client struct {
	cfg        Config
	dispatcher *Dispatcher
	metrics    *metrics
	subs       *subscriptionSet
	policy     reconnectPolicy
	auth       handshake

	// injectable seams
	logger  Logger
	factory TransportFactory
	backoff BackoffCalculator

	mu        sync.Mutex
	status    Status
	session   Session
	transport Transport
	heartbeat *heartbeatScheduler
	// gen invalidates callbacks of previous connections: every install and
	// every teardown bumps it, and stale readLoops compare before acting.
	gen         uint64
	destroyed   bool
	cancelRetry chan struct{}
	connectDone chan struct{}
	connectErr  error
}

// Option customizes a Client beyond what Config expresses.
type Option func(*Client)

// WithLogger injects a logger, overriding the Debug-flag default.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTransportFactory replaces the websocket transport, mainly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) {
		c.factory = f
	}
}

// WithBackoff replaces the fixed reconnect delay with a custom calculator.
func WithBackoff(calc BackoffCalculator) Option {
	return func(c *Client) {
		c.backoff = calc
	}
}

// NewClient constructs a client from the given config. The client owns no
// connection until Connect is called.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:     cfg,
		metrics: newMetrics(),
		subs:    newSubscriptionSet(cfg.Channels),
		status:  StatusDisconnected,
		session: Session{Status: StatusDisconnected, SessionID: cfg.SessionID},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		if cfg.Debug {
			c.logger = NewWriterLogger(os.Stderr)
		} else {
			c.logger = NewNoopLogger()
		}
	}
	c.logger = c.logger.WithField("session", cfg.SessionID)

	if c.factory == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		c.factory = NewWebsocketTransportFactory(nil, StaticDialParams(cfg.URL, nil))
	} else if err := cfg.validateTunables(); err != nil {
		return nil, err
	}

	if c.backoff == nil {
		c.backoff = FixedBackoff(cfg.ReconnectDelay)
	}

	c.policy = newReconnectPolicy(cfg.ReconnectAttempts, c.backoff)
	c.dispatcher = NewDispatcher(c.logger)
	c.auth = newHandshake(c.logger, cfg.Token, cfg.SessionID, cfg.ConnectTimeout)

	return c, nil
}

// Connect establishes the session: transport open, auth handshake,
// subscription replay. A failed first attempt feeds the reconnect policy
// before Connect gives up. Calling Connect while another call is in flight
// waits for that call's outcome; calling it while connected returns nil.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	if c.connectDone != nil {
		done := c.connectDone
		c.mu.Unlock()
		<-done
		c.mu.Lock()
		err := c.connectErr
		c.mu.Unlock()
		return err
	}

	done := make(chan struct{})
	cancel := make(chan struct{})
	c.connectDone = done
	c.cancelRetry = cancel
	c.status = StatusConnecting
	c.mu.Unlock()

	err := c.attempt(ctx, cancel, EventConnected)
	if err != nil && recoverable(err) {
		err = c.retryLoop(ctx, cancel, err)
	}

	c.finishConnect(done, err)
	return err
}

// Disconnect closes the transport, cancels heartbeats and any pending
// reconnection, and settles into the disconnected state. The client can
// Connect again afterwards.
func (c *Client) Disconnect() {
	c.teardown(false)
}

// Destroy performs a Disconnect, drops all handlers and permanently disables
// the client: every future Connect fails with ErrDestroyed.
func (c *Client) Destroy() {
	c.teardown(true)
	c.dispatcher.Close()
}

// Send serializes an event envelope and writes it to the transport. It fails
// with ErrNotConnected unless the session is connected, without side effects.
func (c *Client) Send(event EventType, payload any) error {
	frame := outboundEvent{
		ID:        newFrameID(),
		Type:      event,
		Timestamp: nowMillis(),
		Payload:   payload,
	}

	bts, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, "cannot serialize outbound event")
	}
	return c.writeFrame(bts)
}

// SendChatMessage publishes a chat message to the session.
func (c *Client) SendChatMessage(text string) error {
	return c.Send(EventChatMessage, ChatMessage{Text: text})
}

// SendHeartbeat writes one keep-alive frame. The heartbeat scheduler calls
// this on its interval; exposing it lets callers beat out of band.
func (c *Client) SendHeartbeat() error {
	bts, err := json.Marshal(heartbeatFrame{
		ID:        newFrameID(),
		Type:      frameHeartbeat,
		Timestamp: nowMillis(),
	})
	if err != nil {
		return errors.Wrap(err, "cannot serialize heartbeat")
	}
	return c.writeFrame(bts)
}

// SubscribeToChannels merges channels into the subscription registry. While
// connected, the full merged set is pushed to the server immediately; while
// not, the merge is recorded and replayed on the next successful handshake.
func (c *Client) SubscribeToChannels(channels ...string) error {
	c.subs.add(channels)

	c.mu.Lock()
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendSubscribe(c.subs.snapshot())
}

// On registers a handler for an event type.
func (c *Client) On(event EventType, h Handler) {
	c.dispatcher.On(event, h)
}

// Off removes a previously registered handler.
func (c *Client) Off(event EventType, h Handler) {
	c.dispatcher.Off(event, h)
}

// State returns a snapshot of the session state.
func (c *Client) State() Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	s.Status = c.status
	s.AvailableChannels = append([]string(nil), s.AvailableChannels...)
	return s
}

// Stats combines the session snapshot with the throughput counters.
func (c *Client) Stats() ClientStats {
	state := c.State()

	var uptime time.Duration
	if state.Status == StatusConnected && !state.ConnectedAt.IsZero() {
		uptime = time.Since(state.ConnectedAt)
	}

	return ClientStats{
		Status:             state.Status,
		ConnectionID:       state.ConnectionID,
		SubscribedChannels: c.subs.snapshot(),
		Uptime:             uptime,
		Metrics:            c.metrics.snapshot(),
	}
}

// PerformanceMetrics returns the current counter snapshot.
func (c *Client) PerformanceMetrics() PerformanceMetrics {
	return c.metrics.snapshot()
}

// attempt runs one full connection sequence: open, handshake, install,
// heartbeat start and subscription replay, announcing the given lifecycle
// event on success.
func (c *Client) attempt(ctx context.Context, cancel <-chan struct{}, lifecycle EventType) error {
	recv := make(chan Frame, 32)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	logger := c.logger
	tr := c.factory(logger, recv)
	c.mu.Unlock()

	openCtx, cancelOpen := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	err := tr.Open(openCtx)
	cancelOpen()
	if err != nil {
		tr.Close()
		return err
	}

	ack, err := c.auth.run(ctx, tr, recv)
	if err != nil {
		tr.Close()
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		tr.Close()
		return ErrDestroyed
	}
	select {
	case <-cancel:
		c.mu.Unlock()
		tr.Close()
		return ErrTerminated
	default:
	}

	c.transport = tr
	c.gen++
	gen := c.gen
	prev := c.status
	c.status = StatusConnected
	c.session = Session{
		Status:            StatusConnected,
		ConnectionID:      ack.ConnectionID,
		UserID:            ack.UserID,
		SessionID:         ack.SessionID,
		AvailableChannels: append([]string(nil), ack.AvailableChannels...),
		ConnectedAt:       time.Now().UTC(),
	}
	hb := newHeartbeatScheduler(logger, c.cfg.HeartbeatInterval, c.SendHeartbeat)
	c.heartbeat = hb
	c.mu.Unlock()

	go c.readLoop(tr, recv, gen)
	hb.start()

	// Replay the channel registry before announcing the connection, so
	// subscriptions are live by the time listeners react.
	if chans := c.subs.snapshot(); len(chans) > 0 {
		if err := c.sendSubscribe(chans); err != nil {
			logger.Warnf("subscription replay failed: %s", err)
		}
	}

	logger.Infof("connected: connection=%s", ack.ConnectionID)
	c.emitLifecycle(lifecycle, prev, StatusConnected, nil)
	return nil
}

// retryLoop drives reconnection after a qualifying failure, bounded by the
// policy and cancellable through Disconnect and Destroy.
func (c *Client) retryLoop(ctx context.Context, cancel <-chan struct{}, cause error) error {
	err := cause

	for attempt := 1; c.policy.allows(attempt); attempt++ {
		c.metrics.incReconnects()
		c.logger.Infof("reconnect attempt %d/%d after: %s", attempt, c.policy.maxAttempts, err)

		if !c.policy.wait(attempt, cancel) {
			return ErrTerminated
		}
		if ctx.Err() != nil {
			return errors.Wrap(ErrTerminated, ctx.Err().Error())
		}

		err = c.attempt(ctx, cancel, EventReconnected)
		if err == nil {
			return nil
		}
		if !recoverable(err) {
			return err
		}
	}

	if c.policy.maxAttempts > 0 {
		c.logger.Warnf("reconnect attempts exhausted after: %s", err)
	}
	return err
}

// readLoop consumes frames of one connection until it closes. gen guards
// against acting on a connection the client already replaced.
func (c *Client) readLoop(tr Transport, recv <-chan Frame, gen uint64) {
	for {
		select {
		case <-tr.CloseChan():
			c.onTransportClosed(tr, gen)
			return
		case f := <-recv:
			c.handleFrame(tr, f)
		}
	}
}

func (c *Client) handleFrame(tr Transport, f Frame) {
	switch {
	case f.Type().IsPing():
		// Reply in kind so the server keeps the session alive.
		_ = tr.Write(NewPongFrame(f.Data()))
	case f.Type().IsPong():
		c.logger.Debugln("pong received")
	case f.Type().IsClose():
		c.logger.Debugf("close frame received: code=%d", f.Code)
	case f.Type().IsData():
		c.metrics.addReceived(len(f.Data()))

		var ev Event
		if err := json.Unmarshal(f.Data(), &ev); err != nil {
			// Malformed inbound frames are absorbed: connection state stays
			// untouched and later frames keep flowing.
			c.logger.Debugf("dropping malformed frame: %s", err)
			return
		}
		c.dispatcher.Dispatch(ev)
	}
}

// onTransportClosed handles a close the client did not ask for: it tears the
// session down and, budget permitting, starts background reconnection.
func (c *Client) onTransportClosed(tr Transport, gen uint64) {
	c.mu.Lock()
	if c.destroyed || c.gen != gen {
		// Disconnect or Destroy already took care of this connection.
		c.mu.Unlock()
		return
	}

	reason := tr.CloseErr()
	if reason == nil {
		reason = ErrConnectionClosed
	}

	hb := c.heartbeat
	c.heartbeat = nil
	c.transport = nil
	c.gen++
	prev := c.status
	c.status = StatusDisconnected
	c.session = Session{Status: StatusDisconnected, SessionID: c.cfg.SessionID}

	canRetry := c.policy.maxAttempts > 0 && c.connectDone == nil
	var done, cancel chan struct{}
	if canRetry {
		done = make(chan struct{})
		cancel = make(chan struct{})
		c.connectDone = done
		c.cancelRetry = cancel
		c.status = StatusConnecting
	}
	c.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	tr.Close()

	c.logger.Infof("connection lost: %s", reason)
	c.emitLifecycle(EventDisconnected, prev, StatusDisconnected, reason)

	if !canRetry {
		return
	}

	go func() {
		err := c.retryLoop(context.Background(), cancel, reason)
		c.finishConnect(done, err)
		if err != nil {
			c.logger.Warnf("connection not recovered: %s", err)
		}
	}()
}

// teardown implements Disconnect and Destroy. It cancels pending retries,
// invalidates the active connection and resets state to the baseline.
func (c *Client) teardown(destroy bool) {
	c.mu.Lock()
	if destroy {
		c.destroyed = true
	}
	if c.cancelRetry != nil {
		close(c.cancelRetry)
		c.cancelRetry = nil
	}
	tr := c.transport
	c.transport = nil
	hb := c.heartbeat
	c.heartbeat = nil
	c.gen++
	prev := c.status
	c.status = StatusDisconnected
	c.session = Session{Status: StatusDisconnected, SessionID: c.cfg.SessionID}
	c.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	if tr != nil {
		tr.Close()
	}
	if prev == StatusConnected {
		c.emitLifecycle(EventDisconnected, prev, StatusDisconnected, nil)
	}
}

// finishConnect publishes the outcome of a connect or reconnect sequence.
func (c *Client) finishConnect(done chan struct{}, err error) {
	c.mu.Lock()
	c.connectErr = err
	if c.connectDone == done {
		c.connectDone = nil
	}
	if err != nil && c.status == StatusConnecting {
		c.status = StatusDisconnected
		c.session = Session{Status: StatusDisconnected, SessionID: c.cfg.SessionID}
	}
	c.mu.Unlock()
	close(done)
}

func (c *Client) sendSubscribe(channels []string) error {
	bts, err := json.Marshal(subscribeFrame{
		ID:        newFrameID(),
		Type:      frameSubscribe,
		Timestamp: nowMillis(),
		Channels:  channels,
	})
	if err != nil {
		return errors.Wrap(err, "cannot serialize subscription")
	}
	return c.writeFrame(bts)
}

// writeFrame is the single low-level send every outbound path funnels
// through. Metrics move only after the transport accepted the frame.
func (c *Client) writeFrame(bts []byte) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.status != StatusConnected || c.transport == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	tr := c.transport
	c.mu.Unlock()

	if err := tr.Write(NewTextFrame(bts)); err != nil {
		return err
	}
	c.metrics.addSent(len(bts))
	return nil
}

func (c *Client) emitLifecycle(event EventType, prev, curr Status, cause error) {
	change := StateChange{Previous: prev, Current: curr}
	if cause != nil {
		change.Reason = cause.Error()
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return
	}

	c.dispatcher.Dispatch(Event{
		ID:        newFrameID(),
		Type:      event,
		Timestamp: nowMillis(),
		Payload:   payload,
	})
}
