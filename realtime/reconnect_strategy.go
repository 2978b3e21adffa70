package realtime

import (
	"sync"
	"time"
)

// Reconnect delay defaults used by NewClient.
const (
	DefaultReconnectDelay    = time.Second
	DefaultMaxReconnectDelay = 30 * time.Second
	DefaultReconnectFactor   = 1.5
)

// ReconnectDelayStrategy yields the wait before each reconnection attempt.
// NextDelay is called once per transport close; Reset is called whenever a
// connection reaches the open state.
type ReconnectDelayStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// FixedDelayStrategy waits the same duration before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// NextDelay returns the configured delay.
func (strategy *FixedDelayStrategy) NextDelay() time.Duration {
	if strategy == nil {
		return 0
	}
	return strategy.Delay
}

// Reset is a no-op for fixed delays.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay by Factor after every attempt,
// capped at MaxDelay, and falls back to BaseDelay on Reset.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	current   time.Duration
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxReconnectDelay
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	if factor < 1 {
		factor = DefaultReconnectFactor
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		current:   baseDelay,
	}
}

// NewDefaultDelayStrategy returns the 1s / x1.5 / 30s strategy.
func NewDefaultDelayStrategy() *ExponentialDelayStrategy {
	return NewExponentialDelayStrategy(DefaultReconnectDelay, DefaultMaxReconnectDelay, DefaultReconnectFactor)
}

// NextDelay returns the current delay and advances it for the next call.
func (strategy *ExponentialDelayStrategy) NextDelay() time.Duration {
	if strategy == nil {
		return 0
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	delay := strategy.current
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}

	next := time.Duration(float64(delay) * strategy.Factor)
	if next > strategy.MaxDelay || next < 0 {
		next = strategy.MaxDelay
	}
	strategy.current = next
	return delay
}

// Reset returns the strategy to BaseDelay.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.current = strategy.BaseDelay
	strategy.lock.Unlock()
}
