package realtime

// State is the lifecycle state of the client's connection.
type State int

const (
	// StateIdle means no connection exists and none will be attempted until Connect.
	StateIdle State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the transport is open and Send writes to it.
	StateOpen
	// StateClosed means the transport closed and a reconnect is scheduled.
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionStateListener receives connection state updates.
type ConnectionStateListener interface {
	ConnectionStateChanged(State)
}

// ConnectionStateListenerFunc adapts a function to ConnectionStateListener.
type ConnectionStateListenerFunc func(State)

func (f ConnectionStateListenerFunc) ConnectionStateChanged(state State) { f(state) }

// ExceptionListener receives background errors: failed dials, malformed
// frames, failed writes and panicking handlers.
type ExceptionListener interface {
	ExceptionThrown(error)
}

// ExceptionListenerFunc adapts a function to ExceptionListener.
type ExceptionListenerFunc func(error)

func (f ExceptionListenerFunc) ExceptionThrown(err error) { f(err) }

// TokenProvider supplies the credential attached to each connection attempt.
// An empty string means no credential is available.
type TokenProvider interface {
	Token() string
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func() string

func (f TokenProviderFunc) Token() string { return f() }

// StaticToken is a TokenProvider that always returns the same credential.
type StaticToken string

func (token StaticToken) Token() string { return string(token) }
