// Package gateway fans live indicator rows and signal transitions out to
// WebSocket clients.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const replayDepth = 500

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Hub tracks connected clients, the latest value of every channel and a
// short replay history per channel. Channels are named "bars:<instrument>"
// and "signals:<instrument>".
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seqs    map[string]int64 // per-channel sequence for gap detection
	replay  map[string]*ReplayBuffer
	seq     int64

	now func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		seqs:    make(map[string]int64),
		replay:  make(map[string]*ReplayBuffer),
		now:     time.Now,
	}
}

// Publish encodes v and broadcasts it on channel. Values that fail to
// encode are dropped with a log line.
func (h *Hub) Publish(channel string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[gateway] drop %s: %v", channel, err)
		return
	}
	h.Broadcast(channel, data)
}

// Broadcast sends pre-encoded JSON on channel to every matching client.
// Slow clients whose queue is full miss the message and can backfill it
// through Replay.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seqs[channel]++
	chSeq := h.seqs[channel]
	h.seq++
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: chSeq}

	env := envelope(channel, data, now, h.seq, chSeq, false)
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(replayDepth)
		h.replay[channel] = rb
	}
	rb.Push(chSeq, env)

	for c := range h.clients {
		if !c.wants(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
		}
	}
}

// envelope hand-builds {"channel","data","ts","seq","channel_seq"} to skip
// a second marshal of data.
func envelope(channel string, data []byte, ts time.Time, seq, chSeq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, chSeq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// ServeHTTP upgrades the request to a WebSocket. Query parameters:
// channels (comma separated names or "<prefix>*" patterns, default all)
// and last_ts (RFC3339; latest values not newer than it are skipped).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}

	var lastTS time.Time
	if v := r.URL.Query().Get("last_ts"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			lastTS = t
		}
	}

	c := newClient(h, conn, splitChannels(r.URL.Query().Get("channels")))
	conn.EnableWriteCompression(true)

	// registering and queueing the snapshot under one lock keeps the
	// snapshot ahead of any live message
	h.mu.Lock()
	h.clients[c] = true
	c.queueLatest(lastTS)
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[gateway] ws client connected (%d total)", count)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Latest returns a copy of the newest payload of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		out[k] = v.Data
	}
	return out
}

// Replay returns buffered envelopes of channel with seq in [from, to].
func (h *Hub) Replay(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(from, to)
}

// ChannelSeq returns the current sequence number of channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func splitChannels(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
