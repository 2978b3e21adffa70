package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport defaults used by NewClient.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
)

type stopFunc func() bool

// Client keeps one logical event channel open to the server and routes
// inbound envelopes to subscribers. A Client is safe for concurrent use and
// needs no teardown; Disconnect stops it until the next Connect.
type Client struct {
	lock      sync.Mutex
	writeLock sync.Mutex

	endpoint          string
	tokens            TokenProvider
	dialer            Dialer
	delayStrategy     ReconnectDelayStrategy
	logger            *slog.Logger
	handshakeTimeout  time.Duration
	writeTimeout      time.Duration
	exceptionListener ExceptionListener
	stateListeners    []ConnectionStateListener
	afterFunc         func(time.Duration, func()) stopFunc

	state          State
	generation     uint64
	attempt        *connectionAttempt
	conn           Conn
	reconnectTimer stopFunc

	// State transitions queued under lock and delivered in order by one
	// goroutine at a time.
	pendingStates []State
	notifying     bool

	router *messageRouter
}

type connectionAttempt struct {
	id         string
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	conn       Conn
	closed     bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoint sets the console origin (http/https) or stream URL (ws/wss).
func WithEndpoint(endpoint string) ClientOption {
	return func(client *Client) {
		client.endpoint = endpoint
	}
}

// WithTokenProvider sets the source of the per-connection credential.
func WithTokenProvider(tokens TokenProvider) ClientOption {
	return func(client *Client) {
		client.tokens = tokens
	}
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(dialer Dialer) ClientOption {
	return func(client *Client) {
		client.dialer = dialer
	}
}

// WithDelayStrategy replaces the default 1s/x1.5/30s reconnect backoff.
func WithDelayStrategy(strategy ReconnectDelayStrategy) ClientOption {
	return func(client *Client) {
		if strategy != nil {
			client.delayStrategy = strategy
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger
		}
	}
}

// WithHandshakeTimeout bounds the WebSocket handshake of the default dialer.
func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout >= 0 {
			client.handshakeTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds each frame write of the default dialer's connections.
func WithWriteTimeout(timeout time.Duration) ClientOption {
	return func(client *Client) {
		if timeout >= 0 {
			client.writeTimeout = timeout
		}
	}
}

// WithExceptionListener sets the listener for background errors.
func WithExceptionListener(listener ExceptionListener) ClientOption {
	return func(client *Client) {
		client.exceptionListener = listener
	}
}

// WithConnectionStateListener adds a listener for state transitions.
func WithConnectionStateListener(listener ConnectionStateListener) ClientOption {
	return func(client *Client) {
		if listener != nil {
			client.stateListeners = append(client.stateListeners, listener)
		}
	}
}

// NewClient returns an idle Client.
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		delayStrategy:    NewDefaultDelayStrategy(),
		logger:           slog.Default(),
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		afterFunc: func(delay time.Duration, fire func()) stopFunc {
			return time.AfterFunc(delay, fire).Stop
		},
		router: newMessageRouter(),
	}
	for _, option := range options {
		option(client)
	}
	if client.dialer == nil {
		client.dialer = NewWebSocketDialer(client.handshakeTimeout, client.writeTimeout)
	}
	if client.tokens == nil {
		client.tokens = StaticToken("")
	}
	client.logger = client.logger.With("component", "realtime")
	return client
}

// State returns the current lifecycle state.
func (client *Client) State() State {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.state
}

// AddConnectionStateListener registers a listener for state transitions.
func (client *Client) AddConnectionStateListener(listener ConnectionStateListener) {
	if listener == nil {
		return
	}
	client.lock.Lock()
	client.stateListeners = append(client.stateListeners, listener)
	client.lock.Unlock()
}

// Connect starts a connection attempt unless one is already connecting or
// open. The token is read from the provider on every call. Connect never
// blocks; the outcome is observed through state listeners and subscribers.
func (client *Client) Connect() {
	token := client.tokens.Token()

	client.lock.Lock()
	if client.state == StateConnecting || client.state == StateOpen {
		client.lock.Unlock()
		return
	}
	attempt := client.startAttemptLocked()
	client.lock.Unlock()

	client.launch(attempt, token)
}

func (client *Client) reconnect(generation uint64) {
	token := client.tokens.Token()

	client.lock.Lock()
	if client.generation != generation || client.state != StateClosed {
		client.lock.Unlock()
		return
	}
	client.reconnectTimer = nil
	attempt := client.startAttemptLocked()
	client.lock.Unlock()

	client.logger.Debug("reconnecting", "conn_id", attempt.id)
	client.launch(attempt, token)
}

func (client *Client) startAttemptLocked() *connectionAttempt {
	client.stopReconnectTimerLocked()
	client.generation++
	ctx, cancel := context.WithCancel(context.Background())
	attempt := &connectionAttempt{
		id:         uuid.NewString(),
		generation: client.generation,
		ctx:        ctx,
		cancel:     cancel,
	}
	client.attempt = attempt
	client.setStateLocked(StateConnecting)
	return attempt
}

func (client *Client) launch(attempt *connectionAttempt, token string) {
	client.flushStateNotifications()
	go client.run(attempt, token)
}

// run dials and then becomes the connection's reader.
func (client *Client) run(attempt *connectionAttempt, token string) {
	target, err := StreamURL(client.endpoint, token)
	if err != nil {
		client.logger.Error("cannot build stream url", "conn_id", attempt.id, "error", err)
		client.reportException(err)
		client.handleClose(attempt, err)
		return
	}

	client.logger.Debug("dialing", "conn_id", attempt.id, "url", redactToken(target))
	conn, err := client.dialer.Dial(attempt.ctx, target)
	if err != nil {
		if attempt.ctx.Err() != nil {
			return
		}
		client.logger.Warn("dial failed", "conn_id", attempt.id, "error", err)
		client.reportException(err)
		client.handleClose(attempt, err)
		return
	}

	client.lock.Lock()
	if client.attempt != attempt || attempt.closed {
		client.lock.Unlock()
		_ = conn.Close()
		return
	}
	attempt.conn = conn
	client.conn = conn
	client.setStateLocked(StateOpen)
	client.delayStrategy.Reset()
	client.lock.Unlock()

	client.logger.Info("connected", "conn_id", attempt.id)
	client.flushStateNotifications()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			client.handleClose(attempt, err)
			return
		}
		if !client.isCurrent(attempt) {
			return
		}
		client.dispatch(frame)
	}
}

func (client *Client) isCurrent(attempt *connectionAttempt) bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.attempt == attempt && !attempt.closed
}

// handleClose moves a live attempt to StateClosed and arms the reconnect
// timer. Closes reported by stale attempts are ignored, so each connection is
// closed exactly once.
func (client *Client) handleClose(attempt *connectionAttempt, cause error) {
	client.lock.Lock()
	if client.attempt != attempt || attempt.closed {
		client.lock.Unlock()
		return
	}
	attempt.closed = true
	attempt.cancel()
	conn := attempt.conn
	client.attempt = nil
	client.conn = nil
	client.setStateLocked(StateClosed)

	delay := client.delayStrategy.NextDelay()
	generation := client.generation
	client.reconnectTimer = client.afterFunc(delay, func() {
		client.reconnect(generation)
	})
	client.lock.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cause != nil && cause != io.EOF {
		client.logger.Info("connection closed", "conn_id", attempt.id, "reconnect_in", delay, "error", cause)
	} else {
		client.logger.Info("connection closed", "conn_id", attempt.id, "reconnect_in", delay)
	}
	client.flushStateNotifications()
}

// Disconnect closes the connection, abandons any in-flight dial and cancels
// the pending reconnect. It is safe to call in any state.
func (client *Client) Disconnect() {
	client.lock.Lock()
	client.generation++
	client.stopReconnectTimerLocked()
	attempt := client.attempt
	conn := client.conn
	previous := client.state
	client.attempt = nil
	client.conn = nil
	if previous != StateIdle {
		client.setStateLocked(StateIdle)
	}
	if attempt != nil {
		attempt.closed = true
		attempt.cancel()
	}
	client.lock.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if previous != StateIdle {
		client.logger.Info("disconnected", "previous_state", previous.String())
		client.flushStateNotifications()
	}
}

func (client *Client) stopReconnectTimerLocked() {
	if client.reconnectTimer != nil {
		client.reconnectTimer()
		client.reconnectTimer = nil
	}
}

// Send writes one envelope when the connection is open. It returns false
// without writing in any other state, and false when encoding or the write
// fails; a failed write closes the connection and schedules a reconnect.
// payload may be nil, a json.RawMessage, or any JSON-marshalable value.
func (client *Client) Send(topic string, payload interface{}) bool {
	client.lock.Lock()
	if client.state != StateOpen || client.conn == nil {
		client.lock.Unlock()
		return false
	}
	conn := client.conn
	attempt := client.attempt
	client.lock.Unlock()

	frame, err := encodeEnvelope(topic, payload)
	if err != nil {
		client.logger.Warn("cannot encode envelope", "type", topic, "error", err)
		client.reportException(err)
		return false
	}

	client.writeLock.Lock()
	err = conn.WriteMessage(frame)
	client.writeLock.Unlock()
	if err != nil {
		err = NewError(ConnectionError, err)
		client.logger.Warn("write failed", "conn_id", attempt.id, "type", topic, "error", err)
		client.reportException(err)
		client.handleClose(attempt, err)
		return false
	}
	return true
}

// Subscribe registers handler for envelopes whose type is topic. Subscribing
// to WildcardTopic ("*") behaves like SubscribeAll, except the handler gets
// the whole envelope as JSON, e.g. {"type":"typing","payload":{...}}.
func (client *Client) Subscribe(topic string, handler Handler) *Subscription {
	return client.router.addRoute(topic, handler)
}

// SubscribeAll registers handler for every envelope.
func (client *Client) SubscribeAll(handler EnvelopeHandler) *Subscription {
	return client.router.addWildcardRoute(handler)
}

// Unsubscribe removes a registration made by Subscribe or SubscribeAll.
func (client *Client) Unsubscribe(subscription *Subscription) {
	if subscription == nil || subscription.router != client.router {
		return
	}
	subscription.Unsubscribe()
}

func (client *Client) dispatch(frame []byte) {
	envelope, err := parseEnvelope(frame)
	if err != nil {
		client.logger.Warn("dropping malformed frame", "error", err, "size", len(frame))
		client.reportException(err)
		return
	}
	client.router.deliver(envelope, func(err error) {
		client.logger.Error("subscriber panicked", "type", envelope.Type, "error", err)
		client.reportException(err)
	})
}

func (client *Client) reportException(err error) {
	if err == nil {
		return
	}
	client.lock.Lock()
	listener := client.exceptionListener
	client.lock.Unlock()
	if listener != nil {
		listener.ExceptionThrown(err)
	}
}

func (client *Client) setStateLocked(state State) {
	client.state = state
	client.pendingStates = append(client.pendingStates, state)
}

// flushStateNotifications delivers queued transitions in the order they
// happened. If another goroutine is already delivering, it picks up whatever
// is queued here, so listeners never observe transitions out of order and the
// last state they see matches State once deliveries drain.
func (client *Client) flushStateNotifications() {
	client.lock.Lock()
	if client.notifying {
		client.lock.Unlock()
		return
	}
	client.notifying = true
	for len(client.pendingStates) > 0 {
		state := client.pendingStates[0]
		client.pendingStates = client.pendingStates[1:]
		listeners := append([]ConnectionStateListener(nil), client.stateListeners...)
		client.lock.Unlock()
		for _, listener := range listeners {
			listener.ConnectionStateChanged(state)
		}
		client.lock.Lock()
	}
	client.pendingStates = nil
	client.notifying = false
	client.lock.Unlock()
}
