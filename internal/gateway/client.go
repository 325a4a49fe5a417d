package gateway

import (
	"encoding/json"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendQueue  = 256
)

// Client is one WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.RWMutex
	filtered bool // false until the client names channels
	channels []string
}

func newClient(h *Hub, conn *websocket.Conn, channels []string) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendQueue),
		hub:      h,
		filtered: len(channels) > 0,
		channels: channels,
	}
}

// wants reports whether channel matches the client's subscription. A
// pattern ending in "*" matches by prefix.
func (c *Client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.filtered {
		return true
	}
	for _, p := range c.channels {
		if p == channel {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// sendInitialState queues the latest value of every wanted channel newer
// than lastTS.
func (c *Client) sendInitialState(lastTS time.Time) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	c.queueLatest(lastTS)
}

// queueLatest is sendInitialState for callers holding the hub lock.
func (c *Client) queueLatest(lastTS time.Time) {
	for channel, entry := range c.hub.latest {
		if !lastTS.IsZero() && !entry.TS.After(lastTS) {
			continue
		}
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- envelope(channel, entry.Data, entry.TS, c.hub.seq, entry.Seq, true):
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// coalesce whatever is queued into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			for n := len(c.send); n > 0; n-- {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// control is a client-to-server message.
type control struct {
	Type     string   `json:"type"` // SUBSCRIBE, UNSUBSCRIBE
	Channels []string `json:"channels"`
	Ping     int64    `json:"ping"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg control) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		c.mu.Lock()
		c.filtered = true
		for _, ch := range msg.Channels {
			if !slices.Contains(c.channels, ch) {
				c.channels = append(c.channels, ch)
			}
		}
		c.mu.Unlock()
		c.sendInitialState(time.Time{})

	case "UNSUBSCRIBE":
		c.mu.Lock()
		c.filtered = true
		c.channels = slices.DeleteFunc(c.channels, func(ch string) bool {
			return slices.Contains(msg.Channels, ch)
		})
		c.mu.Unlock()

	default:
		if msg.Ping > 0 {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}
