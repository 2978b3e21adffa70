package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open transport connection. ReadMessage is called from a single
// goroutine; WriteMessage calls are serialized by the client; Close may be
// called concurrently with both.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// Dialer opens transport connections. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

const closeGracePeriod = time.Second

// WebSocketDialer dials the stream endpoint with gorilla/websocket.
type WebSocketDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
}

// NewWebSocketDialer returns a WebSocketDialer with the given handshake and
// write timeouts. Zero disables the corresponding timeout.
func NewWebSocketDialer(handshakeTimeout time.Duration, writeTimeout time.Duration) *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		WriteTimeout: writeTimeout,
	}
}

// Dial performs the WebSocket handshake.
func (dialer *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	wsDialer := dialer.Dialer
	if wsDialer == nil {
		wsDialer = websocket.DefaultDialer
	}

	conn, response, err := wsDialer.DialContext(ctx, url, dialer.Header)
	if err != nil {
		if response != nil {
			return nil, NewError(ConnectionRefusedError, fmt.Errorf("%w (status %s)", err, response.Status))
		}
		return nil, NewError(ConnectionRefusedError, err)
	}
	return &webSocketConn{conn: conn, writeTimeout: dialer.WriteTimeout}, nil
}

type webSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (connection *webSocketConn) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := connection.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (connection *webSocketConn) WriteMessage(frame []byte) error {
	if connection.writeTimeout > 0 {
		if err := connection.conn.SetWriteDeadline(time.Now().Add(connection.writeTimeout)); err != nil {
			return err
		}
	}
	return connection.conn.WriteMessage(websocket.TextMessage, frame)
}

func (connection *webSocketConn) Close() error {
	_ = connection.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	return connection.conn.Close()
}
