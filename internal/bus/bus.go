package bus

import (
	"context"
	"sync"

	"github.com/norish-recipes/norish-sub000/pkg/id"
	"github.com/norish-recipes/norish-sub000/pkg/log"
)

// subscriberBuffer is the per-subscription channel depth. Beyond it, messages
// to that subscriber are dropped, not queued.
const subscriberBuffer = 64

// Message is one published event as seen by a subscriber. ID is assigned at
// publish time and is identical across all subscribers of that publish.
type Message struct {
	ID      string
	Channel string
	Payload []byte
}

// Subscription is a cancellable stream of messages. C is closed after Close
// (or the subscribe context ends), never before the subscription is
// unregistered, so a drained C means no more deliveries will happen.
type Subscription struct {
	ch      chan Message
	done    chan struct{}
	once    sync.Once
	cleanup func(*Subscription)
}

// C returns the receive channel.
func (s *Subscription) C() <-chan Message { return s.ch }

// Close cancels the subscription. Safe to call multiple times and safe to
// call concurrently with Publish.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cleanup != nil {
			s.cleanup(s)
		}
		close(s.done)
	})
}

// Bus routes published messages to channel subscribers.
type Bus struct {
	logger log.Logger
	gen    *id.Generator

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]*Subscription
}

// New creates a bus.
func New(logger log.Logger) *Bus {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Bus{
		logger: logger.WithComponent("bus"),
		gen:    id.NewGenerator(),
		subs:   make(map[string]map[uint64]*Subscription),
	}
}

// Publish delivers payload to current subscribers of channel. Returns true
// when at least one subscriber received the message. Empty channel names are
// rejected.
func (b *Bus) Publish(channel string, payload []byte) bool {
	if channel == "" {
		b.logger.Warn("publish on empty channel dropped")
		return false
	}

	msg := Message{ID: b.gen.Next().String(), Channel: channel, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, s := range b.subs[channel] {
		select {
		case s.ch <- msg:
			delivered++
		default:
			// Slow subscriber; fire-and-forget means we drop, not block.
			b.logger.Debug("subscriber buffer full, message dropped", log.Str("channel", channel))
		}
	}
	return delivered > 0
}

// Subscribe registers a subscription on channel. The subscription ends when
// Close is called or ctx is cancelled, whichever comes first; both paths run
// the same cleanup exactly once.
func (b *Bus) Subscribe(ctx context.Context, channel string) *Subscription {
	s := &Subscription{
		ch:   make(chan Message, subscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	b.nextID++
	sid := b.nextID
	m := b.subs[channel]
	if m == nil {
		m = make(map[uint64]*Subscription)
		b.subs[channel] = m
	}
	m[sid] = s
	b.mu.Unlock()

	s.cleanup = func(sub *Subscription) {
		b.mu.Lock()
		if m := b.subs[channel]; m != nil {
			delete(m, sid)
			if len(m) == 0 {
				delete(b.subs, channel)
			}
		}
		b.mu.Unlock()
		// No publisher can hold sub.ch past this point; closing is safe.
		close(sub.ch)
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-s.done:
			}
		}()
	}
	return s
}

// ActiveSubscriptions reports the number of live subscriptions across all
// channels. Exposed for shutdown accounting and tests.
func (b *Bus) ActiveSubscriptions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, m := range b.subs {
		n += len(m)
	}
	return n
}
