// Package pubsub fans membership reports and client events out to local
// subscribers such as the admin event stream.
package pubsub

import (
	"context"
	"errors"
	"sync"
)

// Topics published by the membership engine
const (
	TopicMembership = "membership"
	TopicEvents     = "events"
)

const subscriptionBuffer = 100

var ErrShutdown = errors.New("pubsub: shut down")

// PubSub provides publish/subscribe with a retained last message per topic.
// A new subscriber receives the retained message first, so a client that
// connects between transitions still learns the current membership.
type PubSub struct {
	subscribers map[string]map[*Subscription]bool
	retained    map[string]any
	dropped     map[string]uint64
	mu          sync.RWMutex
	shutdown    chan struct{}
	shutdownMu  sync.Mutex
	isShutdown  bool
}

// Subscription represents a subscription to a topic
type Subscription struct {
	topic     string
	channel   chan any
	ps        *PubSub
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPubSub creates a new PubSub instance
func NewPubSub() *PubSub {
	return &PubSub{
		subscribers: make(map[string]map[*Subscription]bool),
		retained:    make(map[string]any),
		dropped:     make(map[string]uint64),
		shutdown:    make(chan struct{}),
	}
}

// Subscribe creates a new subscription to a topic. It ends when ctx is
// cancelled, Unsubscribe is called or the PubSub shuts down.
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return nil, ErrShutdown
	}
	ps.shutdownMu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan any, subscriptionBuffer),
		ps:      ps,
		ctx:     subCtx,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription]bool)
	}
	ps.subscribers[topic][sub] = true
	if last, ok := ps.retained[topic]; ok {
		sub.channel <- last
	}
	ps.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
		}
	}()

	return sub, nil
}

// Publish sends a message to all subscribers of a topic and retains it.
// Slow subscribers whose buffer is full miss the message.
func (ps *PubSub) Publish(topic string, message any) {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.shutdownMu.Unlock()

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.retained[topic] = message
	for sub := range ps.subscribers[topic] {
		select {
		case sub.channel <- message:
		default:
			ps.dropped[topic]++
		}
	}
}

// Last returns the retained message of a topic.
func (ps *PubSub) Last(topic string) (any, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	v, ok := ps.retained[topic]
	return v, ok
}

// Dropped returns how many deliveries to full subscribers were skipped.
func (ps *PubSub) Dropped(topic string) uint64 {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.dropped[topic]
}

// GetSubscriberCount returns the number of subscribers for a topic
func (ps *PubSub) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Shutdown closes all subscriptions and shuts down the PubSub
func (ps *PubSub) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic := range ps.subscribers {
		for sub := range ps.subscribers[topic] {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Channel returns the subscription's message channel
func (s *Subscription) Channel() <-chan any {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	defer s.ps.mu.Unlock()

	if s.ps.subscribers[s.topic] != nil {
		delete(s.ps.subscribers[s.topic], s)
		if len(s.ps.subscribers[s.topic]) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}

	s.close()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
