package websockets

import (
	"encoding/json"
	"sync"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/gorilla/websocket"
)

// Message types
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeSubscribed  = "subscribed"
	MsgTypeEvent       = "event"
	MsgTypeError       = "error"
)

// Message is the envelope exchanged in both directions. Clients send
// subscribe and unsubscribe; the server answers with subscribed, event or
// error. SubID is chosen by the client and echoed on every event.
type Message struct {
	Type    string             `json:"type"`
	SubID   string             `json:"sub_id,omitempty"`
	Channel model.Channel      `json:"channel,omitempty"`
	Filter  *model.Filter      `json:"filter,omitempty"`
	Event   *model.ChangeEvent `json:"event,omitempty"`
	Content string             `json:"content,omitempty"`
}

type subscription struct {
	channel model.Channel
	filter  model.Filter
}

// Client represents a connected WebSocket user
type Client struct {
	Conn   *websocket.Conn
	UserID string

	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[string]subscription
}

func newClient(conn *websocket.Conn, userID string, buffer int) *Client {
	return &Client{
		Conn:   conn,
		UserID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		subs:   make(map[string]subscription),
	}
}

func (c *Client) subscribe(id string, s subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = s
}

func (c *Client) unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

// matching returns the ids of this client's subscriptions ev satisfies.
func (c *Client) matching(ev model.ChangeEvent) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, s := range c.subs {
		if s.matches(ev) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (s subscription) matches(ev model.ChangeEvent) bool {
	if s.channel != ev.Channel {
		return false
	}
	if id := s.filter.ReportID; id != "" && id != ev.ReportID && id != ev.EntityID {
		return false
	}
	if ev.Channel == model.ChannelReportCreated && len(ev.Record) > 0 {
		var r model.Report
		if err := json.Unmarshal(ev.Record, &r); err != nil {
			return false
		}
		return s.filter.Matches(r)
	}
	return true
}
