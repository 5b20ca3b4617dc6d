package client

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/bwise1/civic_patrol/util/websockets"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const ackTimeout = 5 * time.Second

var ErrStreamClosed = errors.New("stream closed")

// Stream multiplexes channel subscriptions over one websocket connection.
// Handlers run on the stream's read goroutine.
type Stream struct {
	conn *websocket.Conn
	log  *zap.Logger
	done chan struct{}

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]func(model.ChangeEvent)
	acks     map[string]chan error
	closed   bool
}

// Dial opens the websocket at wsURL authenticated with token.
func Dial(ctx context.Context, wsURL, token string, log *zap.Logger) (*Stream, error) {
	if log == nil {
		log = zap.NewNop()
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set(values.HeaderRequestSource, requestSource)

	dialer := websocket.Dialer{HandshakeTimeout: defaultTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: %s", wsURL, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", wsURL)
	}

	s := &Stream{
		conn:     conn,
		log:      log,
		done:     make(chan struct{}),
		handlers: make(map[string]func(model.ChangeEvent)),
		acks:     make(map[string]chan error),
	}
	go s.readLoop()
	return s, nil
}

// Subscribe implements livesync.Subscriber. It returns once the server has
// acknowledged the subscription.
func (s *Stream) Subscribe(channel model.Channel, filter model.Filter, handler func(model.ChangeEvent)) (func(), error) {
	ack := make(chan error, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.nextID++
	id := strconv.FormatUint(s.nextID, 10)
	s.handlers[id] = handler
	s.acks[id] = ack
	s.mu.Unlock()

	err := s.write(websockets.Message{Type: websockets.MsgTypeSubscribe, SubID: id, Channel: channel, Filter: &filter})
	if err == nil {
		select {
		case err = <-ack:
		case <-s.done:
			err = ErrStreamClosed
		case <-time.After(ackTimeout):
			err = errors.Errorf("subscription %s to %s not acknowledged", id, channel)
		}
	}
	if err != nil {
		s.forget(id)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.forget(id)
			if err := s.write(websockets.Message{Type: websockets.MsgTypeUnsubscribe, SubID: id}); err != nil && !errors.Is(err, ErrStreamClosed) {
				s.log.Debug("unsubscribe not sent", zap.String("sub_id", id), zap.Error(err))
			}
		})
	}, nil
}

func (s *Stream) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
	delete(s.acks, id)
}

func (s *Stream) write(msg websockets.Message) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *Stream) readLoop() {
	defer func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		var msg websockets.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("stream read failed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case websockets.MsgTypeEvent:
			s.mu.Lock()
			handler := s.handlers[msg.SubID]
			s.mu.Unlock()
			if handler != nil && msg.Event != nil {
				handler(*msg.Event)
			}
		case websockets.MsgTypeSubscribed:
			s.resolve(msg.SubID, nil)
		case websockets.MsgTypeError:
			if msg.SubID != "" {
				s.resolve(msg.SubID, errors.New(msg.Content))
				continue
			}
			s.log.Warn("stream error", zap.String("content", msg.Content))
		}
	}
}

func (s *Stream) resolve(id string, err error) {
	s.mu.Lock()
	ack := s.acks[id]
	delete(s.acks, id)
	s.mu.Unlock()
	if ack != nil {
		ack <- err
	}
}

// Done is closed once the connection is gone.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(time.Second):
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
