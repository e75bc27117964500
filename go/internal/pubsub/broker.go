package pubsub

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscriber receives frames published to the topics it is subscribed to.
// Deliver must not block; it returns false when the frame was not accepted.
type Subscriber interface {
	ID() string
	Deliver(frame []byte) bool
}

// Topic is the fan-out group of one room
type Topic struct {
	name string

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// Name returns the topic name
func (t *Topic) Name() string { return t.name }

// Subscribe adds s. Subscribing twice is a no-op.
func (t *Topic) Subscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[s.ID()] = s
}

// Unsubscribe removes the subscriber with the given id
func (t *Topic) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

// Has reports whether id is subscribed
func (t *Topic) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.subs[id]
	return ok
}

// Len returns the number of subscribers
func (t *Topic) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Publish delivers frame to every subscriber except exceptID and returns how many
// accepted it. An empty exceptID publishes to everyone.
func (t *Topic) Publish(frame []byte, exceptID string) int {
	// Snapshot subscribers so Deliver runs without holding the lock
	t.mu.RLock()
	targets := make([]Subscriber, 0, len(t.subs))
	for id, s := range t.subs {
		if exceptID != "" && id == exceptID {
			continue
		}
		targets = append(targets, s)
	}
	t.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Deliver(frame) {
			delivered++
			continue
		}
		log.Warn().
			Str("topic", t.name).
			Str("subscriber_id", s.ID()).
			Msg("subscriber rejected frame")
	}
	return delivered
}

// Broker owns the topics
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*Topic
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{topics: make(map[string]*Topic)}
}

// Topic returns the named topic, creating it on first use
func (b *Broker) Topic(name string) *Topic {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok {
		t = &Topic{name: name, subs: make(map[string]Subscriber)}
		b.topics[name] = t
	}
	return t
}

// Lookup returns the named topic without creating it
func (b *Broker) Lookup(name string) (*Topic, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[name]
	return t, ok
}

// Publish is a shorthand for publishing to an existing topic.
// Publishing to a topic nobody subscribed to delivers nothing.
func (b *Broker) Publish(name string, frame []byte, exceptID string) int {
	t, ok := b.Lookup(name)
	if !ok {
		return 0
	}
	return t.Publish(frame, exceptID)
}

// Drop removes the topic if it has no subscribers left
func (b *Broker) Drop(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[name]
	if !ok || t.Len() > 0 {
		return false
	}
	delete(b.topics, name)
	return true
}

// Len returns the number of live topics
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}
