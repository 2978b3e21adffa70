package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const waitTimeout = 2 * time.Second

type testConn struct {
	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	closeCalls atomic.Int32

	lock     sync.Mutex
	written  [][]byte
	writeErr error
}

func newTestConn() *testConn {
	return &testConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (connection *testConn) ReadMessage() ([]byte, error) {
	select {
	case <-connection.closed:
		return nil, io.EOF
	default:
	}
	select {
	case frame := <-connection.inbound:
		return frame, nil
	case <-connection.closed:
		return nil, io.EOF
	}
}

func (connection *testConn) WriteMessage(frame []byte) error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.writeErr != nil {
		return connection.writeErr
	}
	select {
	case <-connection.closed:
		return io.ErrClosedPipe
	default:
	}
	connection.written = append(connection.written, append([]byte(nil), frame...))
	return nil
}

func (connection *testConn) Close() error {
	connection.closeCalls.Add(1)
	connection.shutdown()
	return nil
}

// shutdown simulates the remote end dropping the connection.
func (connection *testConn) shutdown() {
	connection.closeOnce.Do(func() { close(connection.closed) })
}

func (connection *testConn) isClosed() bool {
	select {
	case <-connection.closed:
		return true
	default:
		return false
	}
}

func (connection *testConn) push(frame string) {
	connection.inbound <- []byte(frame)
}

func (connection *testConn) Written() []string {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	frames := make([]string, 0, len(connection.written))
	for _, frame := range connection.written {
		frames = append(frames, string(frame))
	}
	return frames
}

func (connection *testConn) failWrites(err error) {
	connection.lock.Lock()
	connection.writeErr = err
	connection.lock.Unlock()
}

type dialResult struct {
	conn Conn
	err  error
}

type pendingDial struct {
	url      string
	ctx      context.Context
	reply    chan dialResult
	answered bool
	conn     *testConn
}

func (dial *pendingDial) live() bool {
	return !dial.answered && dial.ctx.Err() == nil
}

type testDialer struct {
	lock         sync.Mutex
	dials        []*pendingDial
	ignoreCancel bool
}

func (dialer *testDialer) Dial(ctx context.Context, url string) (Conn, error) {
	if err := ctx.Err(); err != nil && !dialer.ignoreCancel {
		return nil, err
	}
	dial := &pendingDial{url: url, ctx: ctx, reply: make(chan dialResult, 1)}
	dialer.lock.Lock()
	dialer.dials = append(dialer.dials, dial)
	dialer.lock.Unlock()

	if dialer.ignoreCancel {
		result := <-dial.reply
		return result.conn, result.err
	}
	select {
	case result := <-dial.reply:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (dialer *testDialer) count() int {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	return len(dialer.dials)
}

func (dialer *testDialer) dial(index int) *pendingDial {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	return dialer.dials[index]
}

// pending waits for the newest unanswered dial.
func (dialer *testDialer) pending(t *testing.T) *pendingDial {
	t.Helper()
	var found *pendingDial
	waitFor(t, "pending dial", func() bool {
		dialer.lock.Lock()
		defer dialer.lock.Unlock()
		for index := len(dialer.dials) - 1; index >= 0; index-- {
			if !dialer.dials[index].answered {
				found = dialer.dials[index]
				return true
			}
		}
		return false
	})
	return found
}

func (dialer *testDialer) livePending() *pendingDial {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	for _, dial := range dialer.dials {
		if dial.live() {
			return dial
		}
	}
	return nil
}

func (dialer *testDialer) accept(dial *pendingDial) *testConn {
	conn := newTestConn()
	dialer.lock.Lock()
	dial.answered = true
	dial.conn = conn
	dialer.lock.Unlock()
	dial.reply <- dialResult{conn: conn}
	return conn
}

func (dialer *testDialer) fail(dial *pendingDial, err error) {
	dialer.lock.Lock()
	dial.answered = true
	dialer.lock.Unlock()
	dial.reply <- dialResult{err: err}
}

func (dialer *testDialer) openConns() int {
	dialer.lock.Lock()
	defer dialer.lock.Unlock()
	open := 0
	for _, dial := range dialer.dials {
		if dial.conn != nil && !dial.conn.isClosed() {
			open++
		}
	}
	return open
}

type testTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
	fired   bool
}

type testScheduler struct {
	lock   sync.Mutex
	timers []*testTimer
}

func (scheduler *testScheduler) afterFunc(delay time.Duration, fire func()) stopFunc {
	timer := &testTimer{delay: delay, fire: fire}
	scheduler.lock.Lock()
	scheduler.timers = append(scheduler.timers, timer)
	scheduler.lock.Unlock()
	return func() bool {
		scheduler.lock.Lock()
		defer scheduler.lock.Unlock()
		wasActive := !timer.stopped && !timer.fired
		timer.stopped = true
		return wasActive
	}
}

func (scheduler *testScheduler) count() int {
	scheduler.lock.Lock()
	defer scheduler.lock.Unlock()
	return len(scheduler.timers)
}

func (scheduler *testScheduler) timer(index int) *testTimer {
	scheduler.lock.Lock()
	defer scheduler.lock.Unlock()
	return scheduler.timers[index]
}

func (scheduler *testScheduler) last(t *testing.T) *testTimer {
	t.Helper()
	var timer *testTimer
	waitFor(t, "reconnect timer", func() bool {
		scheduler.lock.Lock()
		defer scheduler.lock.Unlock()
		if len(scheduler.timers) == 0 {
			return false
		}
		timer = scheduler.timers[len(scheduler.timers)-1]
		return true
	})
	return timer
}

func (scheduler *testScheduler) delays() []time.Duration {
	scheduler.lock.Lock()
	defer scheduler.lock.Unlock()
	delays := make([]time.Duration, 0, len(scheduler.timers))
	for _, timer := range scheduler.timers {
		delays = append(delays, timer.delay)
	}
	return delays
}

// fireTimer runs the callback even if stopped, the way a timer that already
// fired before Stop would.
func (scheduler *testScheduler) fireTimer(timer *testTimer) {
	scheduler.lock.Lock()
	timer.fired = true
	scheduler.lock.Unlock()
	timer.fire()
}

func (scheduler *testScheduler) active(timer *testTimer) bool {
	scheduler.lock.Lock()
	defer scheduler.lock.Unlock()
	return !timer.stopped && !timer.fired
}

type errorRecorder struct {
	lock   sync.Mutex
	errors []error
}

func (recorder *errorRecorder) ExceptionThrown(err error) {
	recorder.lock.Lock()
	recorder.errors = append(recorder.errors, err)
	recorder.lock.Unlock()
}

func (recorder *errorRecorder) withCode(code int) int {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	count := 0
	for _, err := range recorder.errors {
		if IsCode(err, code) {
			count++
		}
	}
	return count
}

type testHarness struct {
	client    *Client
	dialer    *testDialer
	scheduler *testScheduler
	errors    *errorRecorder
}

func newTestHarness(t *testing.T, options ...ClientOption) *testHarness {
	t.Helper()
	harness := &testHarness{
		dialer:    &testDialer{},
		scheduler: &testScheduler{},
		errors:    &errorRecorder{},
	}
	base := []ClientOption{
		WithEndpoint("https://console.example.com"),
		WithTokenProvider(StaticToken("secret")),
		WithDialer(harness.dialer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithExceptionListener(harness.errors),
	}
	harness.client = NewClient(append(base, options...)...)
	harness.client.afterFunc = harness.scheduler.afterFunc
	t.Cleanup(harness.client.Disconnect)
	return harness
}

// open connects the client and accepts the dial.
func (harness *testHarness) open(t *testing.T) *testConn {
	t.Helper()
	harness.client.Connect()
	conn := harness.dialer.accept(harness.dialer.pending(t))
	waitForState(t, harness.client, StateOpen)
	return conn
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForState(t *testing.T, client *Client, state State) {
	t.Helper()
	waitFor(t, "state "+state.String(), func() bool { return client.State() == state })
}
