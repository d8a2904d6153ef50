package signal

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 64

	// maxMessageSize bounds a single inbound frame. Batch requests carry
	// whole image sets, so this sits above the pipeline's payload ceiling.
	maxMessageSize = 50 * 1024 * 1024
)

// Conn is one live signaling connection. Role and session are assigned on a
// successful join and cleared on leave.
type Conn struct {
	ID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	// Owned by the hub under its lock after registration.
	role      string
	sessionID string
	secret    string
	joinedAt  time.Time
}

func newConn(hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:   uuid.NewString(),
		hub:  hub,
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// enqueue hands a frame to the write pump. Delivery is best-effort: frames
// for a closed connection or a full buffer are dropped. The send channel is
// never closed; teardown is signalled through done so that handlers running
// on their own goroutines can enqueue safely at any time.
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump reads frames and dispatches them to the hub until the connection
// errors or closes. Runs as the connection's single reader goroutine.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warnf("connection %s read error: %v", c.ID, err)
			}
			return
		}
		c.hub.handleMessage(c, data)
	}
}

// writePump writes queued frames and keep-alive pings. Runs as the
// connection's single writer goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ServeWS upgrades an HTTP request to a signaling connection and starts its
// pumps.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     hub.checkOrigin,
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warnf("websocket upgrade failed: %v", err)
		return
	}

	c := newConn(hub, ws)
	hub.register(c)

	go c.writePump()
	go c.readPump()
}
