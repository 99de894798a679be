// Package eventbus provides the in-process, topic-keyed
// publish/subscribe bus consumed by the transport layer. It carries a
// watermill in-memory gochannel for out-of-process consumers but keeps
// direct synchronous delivery on the main path, so handler order and
// payload types are preserved (watermill's channel hop would lose
// both).
package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"
)

// Topic identifies one event stream on the bus.
type Topic string

const (
	ProcessingStarted   Topic = "processing:started"
	ProcessingCompleted Topic = "processing:completed"
	ProcessingError     Topic = "processing:error"
	ProcessingAborted   Topic = "processing:aborted"

	ToolExecutionCreated   Topic = "tool:execution:created"
	ToolExecutionStarted   Topic = "tool:execution:started"
	ToolExecutionCompleted Topic = "tool:execution:completed"
	ToolExecutionError     Topic = "tool:execution:error"
	ToolExecutionAborted   Topic = "tool:execution:aborted"
	ToolExecutionLegacy    Topic = "tool:execution" // alias for completed

	PermissionRequested Topic = "permission:requested"
	PermissionResolved  Topic = "permission:resolved"

	FastEditEnabled  Topic = "fast_edit_mode_enabled"
	FastEditDisabled Topic = "fast_edit_mode_disabled"

	SessionSaved   Topic = "session:saved"
	SessionLoaded  Topic = "session:loaded"
	SessionDeleted Topic = "session:deleted"
	SessionRemoved Topic = "session:removed"

	EnvironmentStatusChanged Topic = "environment_status_changed"
)

// Event is a single message published on the bus.
type Event struct {
	Topic   Topic
	Payload any
}

// Handler receives events for a subscribed topic.
type Handler func(Event)

// Unsubscribe removes a previously-registered Handler.
type Unsubscribe func()

type subscriber struct {
	id uint64
	fn Handler
}

// Bus is a synchronous, topic-keyed pub/sub bus. Handlers for a given
// emission run in registration order on the publishing goroutine; a
// panic in one handler is recovered and logged so later handlers and the
// emitter still run.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscriber
	global      []subscriber
	nextID      uint64

	// pubsub is the watermill leg of the bus: every Emit also publishes
	// the event onto a gochannel topic, so transports that want delivery
	// off the emitter's goroutine consume through Subscribe instead of
	// registering a direct handler.
	pubsub *gochannel.GoChannel
}

// New creates a new, independent Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Topic][]subscriber),
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NopLogger{},
		),
	}
}

// Close releases the bus's watermill backing channel.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// On subscribes fn to topic and returns an Unsubscribe handle.
func (b *Bus) On(topic Topic, fn Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.newID()
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{id: id, fn: fn})
	return func() { b.off(topic, id) }
}

// OnAll subscribes fn to every topic.
func (b *Bus) OnAll(fn Handler) Unsubscribe {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.newID()
	b.global = append(b.global, subscriber{id: id, fn: fn})
	return func() { b.offGlobal(id) }
}

func (b *Bus) off(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) offGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.global {
		if s.id == id {
			b.global = append(b.global[:i:i], b.global[i+1:]...)
			return
		}
	}
}

// Emit delivers ev to every subscriber of ev.Topic plus every global
// subscriber, in registration order, on the calling goroutine, then
// forwards the same event onto the watermill topic named after
// ev.Topic for any Subscribe consumer.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[ev.Topic])+len(b.global))
	for _, s := range b.subscribers[ev.Topic] {
		handlers = append(handlers, s.fn)
	}
	for _, s := range b.global {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.callSafely(h, ev)
	}

	b.forward(ev)
}

// forward publishes ev onto its watermill topic, with the payload
// marshalled to JSON. Payloads that cannot be marshalled (and publish
// failures after Close) are logged and dropped — the direct handlers
// above have already run, so the in-process contract is unaffected.
func (b *Bus) forward(ev Event) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		log.Error().Err(err).Str("topic", string(ev.Topic)).Msg("eventbus payload not forwardable")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(string(ev.Topic), msg); err != nil {
		log.Error().Err(err).Str("topic", string(ev.Topic)).Msg("eventbus forward failed")
	}
}

// Subscribe returns a watermill-backed stream of JSON-marshalled events
// for topic. Unlike On, delivery happens on the subscriber's own
// goroutine; messages published while nobody is subscribed to topic are
// dropped, not queued.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, string(topic))
}

func (b *Bus) callSafely(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("topic", string(ev.Topic)).Msg("eventbus handler panicked")
		}
	}()
	h(ev)
}
