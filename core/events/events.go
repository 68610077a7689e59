// Package events is the publish/subscribe service the back office announces domain events on.
// A Bus is constructed once per process and handed to the services that need it.
package events

import (
	"context"
	"sync"
	"time"
)

// Topics
const (
	TopicStudentMoved       = "student.moved"
	TopicClassDeleted       = "class.deleted"
	TopicJobFailed          = "job.failed"
	TopicGuardianMissing    = "guardian.missing"
	TopicCountersReconciled = "counters.reconciled"
	TopicEntityDeleted      = "entity.deleted"

	// AllTopics subscribes a handler to every topic.
	AllTopics = "*"
)

type (
	Event struct {
		Topic   string                 `json:"topic"`
		At      time.Time              `json:"at"`
		Payload map[string]interface{} `json:"payload,omitempty"`
	}

	Handler func(Event)

	Bus interface {
		Publish(ctx context.Context, evt Event) error
		// Subscribe registers h for topic (or AllTopics); the returned func unregisters it.
		Subscribe(topic string, h Handler) (func(), error)
		Close() error
	}
)

var NowFunc = time.Now // mockable

func New(topic string, payload map[string]interface{}) Event {
	return Event{Topic: topic, At: NowFunc().UTC(), Payload: payload}
}

// LocalBus delivers events synchronously to the handlers registered in this process.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

var _ Bus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string]map[int]Handler)}
}

func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if evt.At.IsZero() {
		evt.At = NowFunc().UTC()
	}
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[evt.Topic])+len(b.handlers[AllTopics]))
	for _, h := range b.handlers[evt.Topic] {
		targets = append(targets, h)
	}
	for _, h := range b.handlers[AllTopics] {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(evt)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.handlers[topic][id] = h
	return func() {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		b.mu.Unlock()
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[string]map[int]Handler)
	b.mu.Unlock()
	return nil
}

// Recorder keeps every event it receives; handy in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topics returns the topics received, in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Topic)
	}
	return out
}
