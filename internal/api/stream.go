package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"cryptodash/internal/metrics"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
)

// envelope is the frame format of the stream.
type envelope struct {
	Type    string      `json:"type"` // "report" or "error"
	Account string      `json:"account"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	TS      string      `json:"ts"`
}

// Client is one websocket subscriber to an account's reports.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	account string
}

// Hub pushes fresh reports to websocket clients. Reports are built once per
// account per tick and fanned out to every client of that account.
type Hub struct {
	reporter Reporter
	interval time.Duration
	m        *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	refresh chan string
}

// NewHub creates a hub. A non-positive interval defaults to 5s.
func NewHub(rep Reporter, interval time.Duration, m *metrics.Metrics) *Hub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Hub{
		reporter: rep,
		interval: interval,
		m:        m,
		clients:  make(map[*Client]bool),
		refresh:  make(chan string, 64),
	}
}

// Run broadcasts on every interval and on refresh requests until ctx is
// done, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast(ctx, h.accounts())
		case account := <-h.refresh:
			h.broadcast(ctx, []string{account})
		}
	}
}

// Refresh asks the hub to push a new report for account soon. It never
// blocks; a full queue drops the request since the next tick covers it.
func (h *Hub) Refresh(account string) {
	select {
	case h.refresh <- account:
	default:
	}
}

// HandleWSRequest registers a connection and sends it an initial report.
func (h *Hub) HandleWSRequest(ctx context.Context, conn *websocket.Conn, account string) {
	client := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		account: account,
	}

	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	if h.m != nil {
		h.m.StreamClients.Inc()
	}
	log.Printf("[api] ws client connected account=%s (total: %d)", account, n)

	h.deliver(client, h.frame(ctx, account))

	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()

	if h.m != nil {
		h.m.StreamClients.Dec()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) accounts() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for c := range h.clients {
		if !seen[c.account] {
			seen[c.account] = true
			out = append(out, c.account)
		}
	}
	return out
}

func (h *Hub) broadcast(ctx context.Context, accounts []string) {
	for _, account := range accounts {
		msg := h.frame(ctx, account)

		h.mu.RLock()
		for c := range h.clients {
			if c.account != account {
				continue
			}
			select {
			case c.send <- msg:
			default:
				// Slow client: skip this frame, the next one supersedes it.
			}
		}
		h.mu.RUnlock()
	}
}

// deliver queues msg for one client if it is still registered.
func (h *Hub) deliver(c *Client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// frame builds the report envelope for an account.
func (h *Hub) frame(ctx context.Context, account string) []byte {
	env := envelope{Type: "report", Account: account, TS: time.Now().UTC().Format(time.RFC3339Nano)}
	report, err := h.reporter.Report(ctx, account)
	if err != nil {
		env.Type = "error"
		env.Error = err.Error()
	} else {
		env.Data = report
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Printf("[stream] encode report for %s: %v", account, err)
		env.Type, env.Error, env.Data = "error", "internal error", nil
		b, _ = json.Marshal(env)
	}
	return b
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.RemoveClient(c)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump keeps the connection alive and handles {"type":"refresh"}
// requests for an immediate report.
func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Printf("[api] ws client disconnected account=%s", c.account)
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var req struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &req) != nil {
			continue
		}
		if req.Type == "refresh" {
			c.hub.Refresh(c.account)
		}
	}
}
