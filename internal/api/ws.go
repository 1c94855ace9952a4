package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridwatch/vms/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHub fans bus messages out to every connected websocket client. Each
// frame is one events.Message encoded as {"event": ..., "data": ...}.
// A client that cannot keep up is disconnected rather than blocking the hub.
type WSHub struct {
	bus *events.Bus

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Message
}

func NewWSHub(bus *events.Bus) *WSHub {
	return &WSHub{
		bus:     bus,
		clients: make(map[*wsClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins relaying bus traffic. Stop with Stop.
func (h *WSHub) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	sub := h.bus.Subscribe(0)

	go func() {
		defer close(h.done)
		defer sub.Unsubscribe()
		for {
			select {
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				h.broadcast(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *WSHub) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *WSHub) broadcast(msg events.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow consumer: drop the connection, not the bus.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ServeWS upgrades the connection. Authentication happens upstream in the
// JWT middleware, which also accepts ?token= for browser websocket clients.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan events.Message, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is to notice the close handshake
// and pong replies.
func (h *WSHub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
