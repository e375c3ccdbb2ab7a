package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/xosactivity/pkg/types"
)

const (
	writeWait      = 5 * time.Second
	backlogOnJoin  = 50
	logSubscribeSz = 256
)

// Stream message types.
const (
	MessageLog     = "log"
	MessageWallets = "wallets"
)

// LogSource is the operator log stream.
type LogSource interface {
	Subscribe(buffer int) (<-chan types.LogEvent, func())
	Recent(limit int) []types.LogEvent
}

// WalletSource publishes refreshed wallet snapshots.
type WalletSource interface {
	Subscribe() (<-chan []types.WalletSnapshot, func())
}

// logMessage is a log event tagged with its message type.
type logMessage struct {
	Type string `json:"type"`
	types.LogEvent
}

type walletsMessage struct {
	Type    string                 `json:"type"`
	Wallets []types.WalletSnapshot `json:"wallets"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		originURL, err := url.Parse(origin)
		if err != nil {
			return false
		}

		if originURL.Host == r.Host {
			return true
		}

		// Allow localhost connections (common for development)
		if originURL.Hostname() == "localhost" || originURL.Hostname() == "127.0.0.1" {
			return true
		}

		return false
	},
}

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketServer streams log events and wallet snapshots to connected
// clients.
type WebSocketServer struct {
	streams Streams
	logger  *slog.Logger

	clients   map[*client]bool
	clientsMu sync.RWMutex
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(streams Streams, logger *slog.Logger) *WebSocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketServer{
		streams: streams,
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

// Handler returns the WebSocket HTTP handler.
func (ws *WebSocketServer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ws.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		c := &client{conn: conn}

		// Backlog first, so a new client sees recent history before live events.
		if ws.streams.Logs != nil {
			for _, ev := range ws.streams.Logs.Recent(backlogOnJoin) {
				if data, err := json.Marshal(logMessage{Type: MessageLog, LogEvent: ev}); err == nil {
					_ = c.write(data)
				}
			}
		}

		ws.clientsMu.Lock()
		ws.clients[c] = true
		total := len(ws.clients)
		ws.clientsMu.Unlock()

		ws.logger.Debug("WebSocket client connected", slog.Int("total_clients", total))

		defer func() {
			ws.clientsMu.Lock()
			delete(ws.clients, c)
			total := len(ws.clients)
			ws.clientsMu.Unlock()
			conn.Close()

			ws.logger.Debug("WebSocket client disconnected", slog.Int("total_clients", total))
		}()

		// Read messages (mainly for ping/pong and close)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.Debug("WebSocket read error", slog.String("error", err.Error()))
				}
				break
			}
		}
	}
}

// Run forwards stream updates to clients until ctx is done, then closes
// every connection.
func (ws *WebSocketServer) Run(ctx context.Context) {
	var (
		logs    <-chan types.LogEvent
		wallets <-chan []types.WalletSnapshot
	)
	if ws.streams.Logs != nil {
		ch, cancel := ws.streams.Logs.Subscribe(logSubscribeSz)
		defer cancel()
		logs = ch
	}
	if ws.streams.Wallets != nil {
		ch, cancel := ws.streams.Wallets.Subscribe()
		defer cancel()
		wallets = ch
	}
	defer ws.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-logs:
			if !ok {
				logs = nil
				continue
			}
			ws.broadcast(logMessage{Type: MessageLog, LogEvent: ev})
		case snaps, ok := <-wallets:
			if !ok {
				wallets = nil
				continue
			}
			ws.broadcast(walletsMessage{Type: MessageWallets, Wallets: snaps})
		}
	}
}

// broadcast sends msg to all connected clients.
func (ws *WebSocketServer) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		ws.logger.Debug("Failed to marshal stream message", slog.String("error", err.Error()))
		return
	}

	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()

	for c := range ws.clients {
		if err := c.write(data); err != nil {
			// Cleaned up by the read loop.
			continue
		}
	}
}

func (ws *WebSocketServer) closeAll() {
	ws.clientsMu.Lock()
	defer ws.clientsMu.Unlock()
	for c := range ws.clients {
		c.conn.Close()
	}
	ws.clients = make(map[*client]bool)
}

// ClientCount returns the number of connected clients.
func (ws *WebSocketServer) ClientCount() int {
	ws.clientsMu.RLock()
	defer ws.clientsMu.RUnlock()
	return len(ws.clients)
}
