package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// hub tracks push channel connections and what each one follows.
type hub struct {
	mu     sync.Mutex
	conns  map[*client]struct{}
	closed bool
	logger *slog.Logger
}

// client is one push channel connection. Writes happen only on the
// connection's write loop; roots is guarded by the hub lock.
type client struct {
	ws    *websocket.Conn
	send  chan []byte
	roots map[string]struct{}
	once  sync.Once
}

func newHub(logger *slog.Logger) *hub {
	return &hub{conns: make(map[*client]struct{}), logger: logger}
}

// serve upgrades the request and runs the connection until it drops.
func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{ws: ws, send: make(chan []byte, sendBuffer), roots: make(map[string]struct{})}
	if !h.add(c) {
		ws.Close()
		return
	}
	h.logger.Debug("push client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

// drop unregisters c and stops its write loop. Safe to call repeatedly.
func (h *hub) drop(c *client) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	c.once.Do(func() { close(c.send) })
}

func (h *hub) readLoop(c *client) {
	defer func() {
		h.drop(c)
		c.ws.Close()
		h.logger.Debug("push client disconnected")
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var cmd wire.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Warn("invalid push command", "error", err)
			continue
		}
		h.handle(c, cmd)
	}
}

func (h *hub) handle(c *client, cmd wire.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch cmd.Action {
	case wire.ActionSubscribeBlocks:
		for _, id := range cmd.BlockIDs {
			c.roots[id] = struct{}{}
		}
	case wire.ActionUnsubscribeBlocks:
		for _, id := range cmd.BlockIDs {
			delete(c.roots, id)
		}
	default:
		h.logger.Warn("unknown push command", "action", cmd.Action)
	}
}

func (h *hub) writeLoop(c *client) {
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("push write failed", "error", err)
			c.ws.Close()
			h.drop(c)
			// Drain so publishers never block on a dead client.
			for range c.send {
			}
			return
		}
	}
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// publish sends msg to every client following b's root. Root-level blocks
// also go to clients following the workspace root "". A client whose
// buffer is full is disconnected; it resyncs on reconnect.
func (h *hub) publish(b block.Block, msg []byte) {
	h.mu.Lock()
	var slow []*client
	for c := range h.conns {
		if !c.follows(b) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("push client too slow, disconnecting")
		h.drop(c)
	}
}

// follows must be called with the hub lock held.
func (c *client) follows(b block.Block) bool {
	if _, ok := c.roots[b.RootID]; ok {
		return true
	}
	_, ok := c.roots[""]
	return ok && b.IsRoot()
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.drop(c)
	}
}

func (h *hub) followers(rootID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.conns {
		if _, ok := c.roots[rootID]; ok {
			n++
		}
	}
	return n
}
