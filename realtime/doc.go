// Package realtime provides a reconnecting, multiplexed client for the
// support console's event stream.
//
// The primary lifecycle is:
//   - construct a Client with NewClient, passing WithEndpoint and WithTokenProvider
//   - register handlers with Subscribe or SubscribeAll
//   - Connect; the client dials in the background and reconnects on its own
//   - Send envelopes while the state is StateOpen
//   - Disconnect to stop; Connect again to resume
//
// Every frame on the wire is a JSON object {"type": ..., "payload": ...}.
// Topic handlers receive only the payload; wildcard handlers receive the whole
// envelope and always run before the topic handlers of the same envelope.
// Subscriptions survive reconnects and Disconnect; only Unsubscribe removes
// them.
//
// After a transport close the client waits 1s before redialing, growing the
// wait by 1.5x per consecutive failure up to 30s, and resets it once a
// connection opens. The credential is read from the TokenProvider on every
// attempt, so a refreshed token is used by the next reconnect.
//
// Background failures never surface as returned errors. They are logged
// through the configured slog.Logger and passed to the ExceptionListener as
// coded errors created with NewError.
package realtime
