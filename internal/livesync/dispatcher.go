package livesync

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Dispatcher turns pushed change events into field merges on the Cache.
// Each subscription drains its own queue on one goroutine, so events of a
// channel are applied in arrival order.
type Dispatcher struct {
	cache     *Cache
	sub       Subscriber
	log       *zap.Logger
	metrics   *Metrics
	queueSize int

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*Subscription
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = l }
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func NewDispatcher(cache *Cache, sub Subscriber, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cache:     cache,
		sub:       sub,
		log:       zap.NewNop(),
		queueSize: defaultQueueSize,
		active:    make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscription is the handle returned by Watch. Unsubscribe may be called
// any number of times, from any goroutine, including from onEvent.
type Subscription struct {
	id      uint64
	channel model.Channel
	filter  model.Filter
	onEvent func(model.ChangeEvent)

	d      *Dispatcher
	queue  chan model.ChangeEvent
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	mu     sync.Mutex
	cancel func()
}

func (s *Subscription) Channel() model.Channel { return s.channel }

func (s *Subscription) Filter() model.Filter { return s.filter }

// Unsubscribe stops delivery. Events still queued are discarded.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.mu.Lock()
		cancel := s.cancel
		s.cancel = nil
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.d.forget(s.id)
	})
}

// Watch subscribes to channel and merges each event into the Cache before
// passing it to onEvent, which may be nil.
func (d *Dispatcher) Watch(channel model.Channel, filter model.Filter, onEvent func(model.ChangeEvent)) (*Subscription, error) {
	if !channel.Valid() {
		return nil, errors.Errorf("unknown channel %q", channel)
	}

	d.mu.Lock()
	d.nextID++
	s := &Subscription{
		id:      d.nextID,
		channel: channel,
		filter:  filter,
		onEvent: onEvent,
		d:       d,
		queue:   make(chan model.ChangeEvent, d.queueSize),
		done:    make(chan struct{}),
	}
	d.active[s.id] = s
	d.mu.Unlock()

	cancel, err := d.sub.Subscribe(channel, filter, s.enqueue)
	if err != nil {
		d.forget(s.id)
		return nil, errors.Wrapf(err, "subscribe %s", channel)
	}
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		cancel()
	} else {
		s.cancel = cancel
		s.mu.Unlock()
	}

	go s.run()
	return s, nil
}

// Active returns the number of live subscriptions.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// Close unsubscribes every live subscription.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.active))
	for _, s := range d.active {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (d *Dispatcher) forget(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, id)
}

// enqueue runs on the stream's read goroutine and must not block it: a
// subscription whose queue is full loses the event rather than stalling
// every other channel.
func (s *Subscription) enqueue(ev model.ChangeEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- ev:
	case <-s.done:
	default:
		s.d.metrics.drop(string(s.channel))
		s.d.log.Warn("subscription queue full, dropping change event",
			zap.String("channel", string(s.channel)),
			zap.String("entity_id", ev.EntityID),
			zap.Int("queue_size", cap(s.queue)),
		)
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			if s.closed.Load() {
				return
			}
			s.deliver(ev)
		}
	}
}

// deliver never lets one bad event stop the loop.
func (s *Subscription) deliver(ev model.ChangeEvent) {
	d := s.d
	defer func() {
		if r := recover(); r != nil {
			d.metrics.drop(string(s.channel))
			d.log.Error("event handler panicked",
				zap.String("channel", string(s.channel)),
				zap.String("entity_id", ev.EntityID),
				zap.Any("panic", r),
			)
		}
	}()

	if ev.Channel == "" {
		ev.Channel = s.channel
	}
	if err := d.apply(ev); err != nil {
		d.metrics.drop(string(s.channel))
		d.log.Warn("dropping change event",
			zap.String("channel", string(s.channel)),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err),
		)
		return
	}
	d.metrics.applied(string(s.channel))
	if s.onEvent != nil && !s.closed.Load() {
		s.onEvent(ev)
	}
}

func (d *Dispatcher) apply(ev model.ChangeEvent) error {
	if ev.EntityID == "" {
		return errors.Wrap(ErrMalformedEvent, "missing entity id")
	}
	switch ev.Channel {
	case model.ChannelReportCreated:
		var r model.Report
		if err := json.Unmarshal(ev.Record, &r); err != nil {
			return errors.Wrapf(ErrMalformedEvent, "report record: %v", err)
		}
		if r.ID != ev.EntityID || !model.IsKnownStatus(r.Status) {
			return errors.Wrapf(ErrMalformedEvent, "report record %q does not match event", r.ID)
		}
		d.cache.PutReport(r)
		return nil

	case model.ChannelReportStatus:
		return d.merge(Ref{model.SubjectReport, ev.EntityID}, ev.Fields)

	case model.ChannelLikeCount:
		if !ev.SubjectKind.Valid() {
			return errors.Wrapf(ErrMalformedEvent, "subject kind %q", ev.SubjectKind)
		}
		return d.merge(Ref{ev.SubjectKind, ev.EntityID}, onlyFields(ev.Fields, model.FieldLikeCount))

	case model.ChannelCommentCount:
		return d.merge(Ref{model.SubjectReport, ev.EntityID}, onlyFields(ev.Fields, model.FieldCommentCount))
	}
	return errors.Wrapf(ErrMalformedEvent, "channel %q", ev.Channel)
}

func (d *Dispatcher) merge(ref Ref, fields map[string]json.RawMessage) error {
	if len(fields) == 0 {
		return errors.Wrap(ErrMalformedEvent, "no fields")
	}
	p, err := decodePatch(fields)
	if err != nil {
		return err
	}
	// entities outside the cache belong to no open view
	_, err = d.cache.Merge(ref, p)
	return err
}

// onlyFields keeps the scalar a count channel is allowed to carry.
func onlyFields(fields map[string]json.RawMessage, keep string) map[string]json.RawMessage {
	if raw, ok := fields[keep]; ok {
		return map[string]json.RawMessage{keep: raw}
	}
	return nil
}
