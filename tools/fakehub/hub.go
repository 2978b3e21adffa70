package main

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20
	defaultOutSize = 256
)

type hubClient struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

type hub struct {
	lock      sync.Mutex
	clients   map[*hubClient]struct{}
	outDepth  int
	echo      bool
	dropAfter time.Duration
	logConn   bool

	accepted  atomic.Uint64
	published atomic.Uint64
}

func newHub(outDepth int, echo bool, dropAfter time.Duration, logConn bool) *hub {
	if outDepth <= 0 {
		outDepth = defaultOutSize
	}
	return &hub{
		clients:   make(map[*hubClient]struct{}),
		outDepth:  outDepth,
		echo:      echo,
		dropAfter: dropAfter,
		logConn:   logConn,
	}
}

// serve registers conn and runs its pumps until the connection ends.
func (h *hub) serve(conn *websocket.Conn) {
	client := &hubClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.outDepth),
	}
	h.register(client)

	if h.dropAfter > 0 {
		timer := time.AfterFunc(h.dropAfter, func() {
			if h.logConn {
				log.Printf("fakehub: dropping client %s after %v", client.id, h.dropAfter)
			}
			_ = conn.Close()
		})
		defer timer.Stop()
	}

	go client.writePump()
	h.readPump(client)
}

func (h *hub) register(client *hubClient) {
	h.lock.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.lock.Unlock()

	h.accepted.Add(1)
	if h.logConn {
		log.Printf("fakehub: client %s connected (%d active)", client.id, total)
	}
}

func (h *hub) unregister(client *hubClient) {
	h.lock.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.lock.Unlock()

	if !present {
		return
	}
	client.closeOnce.Do(func() { close(client.send) })
	if h.logConn {
		log.Printf("fakehub: client %s disconnected (%d active)", client.id, total)
	}
}

func (h *hub) count() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// broadcast queues frame for every client. Clients whose queue is full are
// disconnected rather than allowed to stall the hub.
func (h *hub) broadcast(frame []byte) int {
	h.published.Add(1)

	h.lock.Lock()
	var slow []*hubClient
	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- frame:
			delivered++
		default:
			slow = append(slow, client)
		}
	}
	h.lock.Unlock()

	for _, client := range slow {
		log.Printf("fakehub: client %s is too slow, dropping", client.id)
		h.unregister(client)
	}
	return delivered
}

func (h *hub) readPump(client *hubClient) {
	defer h.unregister(client)

	client.conn.SetReadLimit(maxFrameSize)
	for {
		_, frame, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		if !h.echo {
			continue
		}
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil || envelope.Type == "" {
			log.Printf("fakehub: ignoring malformed frame from %s", client.id)
			continue
		}
		h.broadcast(frame)
	}
}

func (client *hubClient) writePump() {
	defer client.conn.Close()

	for frame := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = client.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}
