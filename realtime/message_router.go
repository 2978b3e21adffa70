package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// WildcardTopic subscribes a Handler to every envelope. Such handlers
// receive the whole envelope encoded as JSON rather than just the payload.
const WildcardTopic = "*"

// Handler receives the payload of envelopes published on one topic.
type Handler func(payload json.RawMessage)

// EnvelopeHandler receives every envelope regardless of topic.
type EnvelopeHandler func(envelope Envelope)

// Subscription is the handle returned by Subscribe and SubscribeAll. The
// method value sub.Unsubscribe is the no-argument function that removes the
// registration; calling it more than once is harmless.
type Subscription struct {
	id       uint64
	topic    string
	wildcard bool
	router   *messageRouter
	removed  atomic.Bool
}

// Topic returns the subscribed topic. It is empty for wildcard subscriptions.
func (subscription *Subscription) Topic() string {
	if subscription == nil {
		return ""
	}
	return subscription.topic
}

// Wildcard reports whether the subscription was made with SubscribeAll.
func (subscription *Subscription) Wildcard() bool {
	return subscription != nil && subscription.wildcard
}

// Active reports whether the registration is still in place.
func (subscription *Subscription) Active() bool {
	return subscription != nil && !subscription.removed.Load()
}

// Unsubscribe removes exactly this registration.
func (subscription *Subscription) Unsubscribe() {
	if subscription == nil || subscription.router == nil {
		return
	}
	subscription.router.removeRoute(subscription)
}

type messageRouter struct {
	lock      sync.RWMutex
	nextID    uint64
	routes    map[string]map[uint64]Handler
	wildcards map[uint64]EnvelopeHandler
}

func newMessageRouter() *messageRouter {
	return &messageRouter{
		routes:    make(map[string]map[uint64]Handler),
		wildcards: make(map[uint64]EnvelopeHandler),
	}
}

func (router *messageRouter) addRoute(topic string, handler Handler) *Subscription {
	if topic == WildcardTopic && handler != nil {
		return router.addWildcardRoute(func(envelope Envelope) {
			frame, err := json.Marshal(envelope)
			if err != nil {
				panic(err)
			}
			handler(frame)
		})
	}

	subscription := &Subscription{topic: topic, router: router}
	if handler == nil {
		subscription.removed.Store(true)
		return subscription
	}

	router.lock.Lock()
	router.nextID++
	subscription.id = router.nextID
	handlers := router.routes[topic]
	if handlers == nil {
		handlers = make(map[uint64]Handler)
		router.routes[topic] = handlers
	}
	handlers[subscription.id] = handler
	router.lock.Unlock()
	return subscription
}

func (router *messageRouter) addWildcardRoute(handler EnvelopeHandler) *Subscription {
	subscription := &Subscription{wildcard: true, router: router}
	if handler == nil {
		subscription.removed.Store(true)
		return subscription
	}

	router.lock.Lock()
	router.nextID++
	subscription.id = router.nextID
	router.wildcards[subscription.id] = handler
	router.lock.Unlock()
	return subscription
}

func (router *messageRouter) removeRoute(subscription *Subscription) {
	if subscription.removed.Swap(true) {
		return
	}

	router.lock.Lock()
	defer router.lock.Unlock()

	if subscription.wildcard {
		delete(router.wildcards, subscription.id)
		return
	}
	handlers := router.routes[subscription.topic]
	delete(handlers, subscription.id)
	if len(handlers) == 0 {
		delete(router.routes, subscription.topic)
	}
}

func (router *messageRouter) routeCount(topic string) int {
	router.lock.RLock()
	defer router.lock.RUnlock()
	return len(router.routes[topic])
}

func (router *messageRouter) wildcardCount() int {
	router.lock.RLock()
	defer router.lock.RUnlock()
	return len(router.wildcards)
}

// deliver runs wildcard handlers with the full envelope, then the topic
// handlers with the payload. Handlers added or removed during delivery take
// effect from the next envelope. A panicking handler is reported through
// onPanic and does not stop the remaining handlers.
func (router *messageRouter) deliver(envelope Envelope, onPanic func(error)) int {
	router.lock.RLock()
	wildcards := make([]EnvelopeHandler, 0, len(router.wildcards))
	for _, handler := range router.wildcards {
		wildcards = append(wildcards, handler)
	}
	var handlers []Handler
	if envelope.Type != "" {
		topicHandlers := router.routes[envelope.Type]
		handlers = make([]Handler, 0, len(topicHandlers))
		for _, handler := range topicHandlers {
			handlers = append(handlers, handler)
		}
	}
	router.lock.RUnlock()

	delivered := 0
	for _, handler := range wildcards {
		if invokeHandler(func() { handler(envelope) }, envelope.Type, onPanic) {
			delivered++
		}
	}
	for _, handler := range handlers {
		if invokeHandler(func() { handler(envelope.Payload) }, envelope.Type, onPanic) {
			delivered++
		}
	}
	return delivered
}

func invokeHandler(call func(), topic string, onPanic func(error)) (ok bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			ok = false
			if onPanic != nil {
				onPanic(NewError(MessageHandlerError, fmt.Sprintf("handler for %q panicked: %v", topic, recovered)))
			}
		}
	}()
	call()
	return true
}
