package websockets

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	sendBuffer = 64
	maxMessage = 4096
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketManager fans change events out to connected clients according to
// the subscriptions each client registered.
type WebSocketManager struct {
	clients    map[*Client]bool
	broadcast  chan model.ChangeEvent
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	log       *zap.Logger
	connected prometheus.Gauge
}

// NewWebSocketManager initializes a WebSocketManager. The connected client
// gauge is registered with reg when reg is not nil.
func NewWebSocketManager(log *zap.Logger, reg prometheus.Registerer) *WebSocketManager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &WebSocketManager{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan model.ChangeEvent, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "civic_patrol",
			Subsystem: "websocket",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connected)
	}
	return m
}

// Run starts the WebSocket manager and blocks until ctx is done, at which
// point every client is disconnected.
func (manager *WebSocketManager) Run(ctx context.Context) {
	defer close(manager.done)
	for {
		select {
		case <-ctx.Done():
			manager.mu.Lock()
			for client := range manager.clients {
				manager.drop(client)
			}
			manager.mu.Unlock()
			return

		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = true
			manager.connected.Inc()
			manager.mu.Unlock()

		case client := <-manager.unregister:
			manager.mu.Lock()
			if manager.clients[client] {
				manager.drop(client)
				manager.log.Debug("client disconnected", zap.String("user_id", client.UserID))
			}
			manager.mu.Unlock()

		case ev := <-manager.broadcast:
			manager.deliver(ev)
		}
	}
}

// drop must be called with mu held.
func (manager *WebSocketManager) drop(client *Client) {
	delete(manager.clients, client)
	client.close()
	manager.connected.Dec()
}

func (manager *WebSocketManager) deliver(ev model.ChangeEvent) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	for client := range manager.clients {
		for _, id := range client.matching(ev) {
			if !manager.enqueue(client, Message{Type: MsgTypeEvent, SubID: id, Event: &ev}) {
				manager.log.Warn("dropping slow websocket client", zap.String("user_id", client.UserID))
				manager.drop(client)
				break
			}
		}
	}
}

func (manager *WebSocketManager) enqueue(client *Client, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		manager.log.Error("encode websocket message", zap.Error(err))
		return true
	}
	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Broadcast queues ev for every client with a matching subscription.
func (manager *WebSocketManager) Broadcast(ev model.ChangeEvent) {
	select {
	case manager.broadcast <- ev:
	case <-manager.done:
	}
}

func (manager *WebSocketManager) ClientCount() int {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	return len(manager.clients)
}

// HandleConnections upgrades HTTP requests to WebSocket connections. The
// route must sit behind the login middleware.
func (manager *WebSocketManager) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, _ := util.GetUserIDFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		manager.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, userID, sendBuffer)
	select {
	case manager.register <- client:
	case <-manager.done:
		conn.Close()
		return
	}

	go manager.writePump(client)
	manager.readPump(client)

	select {
	case manager.unregister <- client:
	case <-manager.done:
	}
}

func (manager *WebSocketManager) readPump(client *Client) {
	client.Conn.SetReadLimit(maxMessage)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := client.Conn.ReadMessage()
		if err != nil {
			return
		}

		var message Message
		if err := json.Unmarshal(msg, &message); err != nil {
			manager.reply(client, Message{Type: MsgTypeError, Content: "invalid json"})
			continue
		}

		switch message.Type {
		case MsgTypeSubscribe:
			if message.SubID == "" || !message.Channel.Valid() {
				manager.reply(client, Message{Type: MsgTypeError, SubID: message.SubID, Content: "subscribe needs sub_id and a known channel"})
				continue
			}
			var filter model.Filter
			if message.Filter != nil {
				filter = *message.Filter
			}
			client.subscribe(message.SubID, subscription{channel: message.Channel, filter: filter})
			manager.reply(client, Message{Type: MsgTypeSubscribed, SubID: message.SubID, Channel: message.Channel})

		case MsgTypeUnsubscribe:
			client.unsubscribe(message.SubID)

		default:
			manager.reply(client, Message{Type: MsgTypeError, Content: "unknown message type " + message.Type})
		}
	}
}

func (manager *WebSocketManager) reply(client *Client, msg Message) {
	manager.mu.Lock()
	defer manager.mu.Unlock()
	if !manager.enqueue(client, msg) {
		manager.log.Warn("websocket reply dropped", zap.String("user_id", client.UserID), zap.String("type", msg.Type))
	}
}

func (manager *WebSocketManager) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload := <-client.send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = client.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}
