// Package eventbus implements the in-process typed pub/sub used by every
// component of the pipeline. Dispatch is single-threaded and
// cooperative: Publish enqueues, a drain loop runs subscribers to
// completion in registration order, and a subscriber's error never stops
// the others. This mirrors the registration-ordered, coalesced dispatch
// loop in the juju changestream worker, simplified to an in-process queue
// since there is no cross-process change stream to poll here.
package eventbus

import (
	"log/slog"
	"sync"
)

// Topic names the well-known event topics the bus carries.
type Topic string

const (
	TopicChangeSubmitted     Topic = "ChangeSubmitted"
	TopicChangeAdmitted      Topic = "ChangeAdmitted"
	TopicChangeSuperseded    Topic = "ChangeSuperseded"
	TopicChangeAccepted      Topic = "ChangeAccepted"
	TopicChangeRejected      Topic = "ChangeRejected"
	TopicClusterUpdated      Topic = "ClusterUpdated"
	TopicBatchCreated        Topic = "BatchCreated"
	TopicBatchFinalized      Topic = "BatchFinalized"
	TopicSessionStarted      Topic = "SessionStarted"
	TopicSessionEnded        Topic = "SessionEnded"
	TopicMigrationStarted    Topic = "MigrationStarted"
	TopicMigrationCompleted  Topic = "MigrationCompleted"
	TopicMigrationFailed     Topic = "MigrationFailed"
	TopicMigrationRolledBack Topic = "MigrationRollbackCompleted"
	TopicQuotaExceeded       Topic = "QuotaExceeded"
	TopicThrottled           Topic = "Throttled"
	TopicSensitiveData       Topic = "SensitiveDataDetected"
	TopicPolicyViolation     Topic = "PolicyViolation"
	TopicOperationCancelled  Topic = "OperationCancelled"
)

// Event is the payload delivered to subscribers. Data is topic-specific.
type Event struct {
	Topic Topic
	Data  any
}

// Callback handles one delivered event. An error is logged and does not
// stop delivery to later subscribers.
type Callback func(Event) error

// Subscription can be used to unsubscribe a previously registered callback.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
}

// Unsubscribe removes the callback from the bus. Safe to call more than
// once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.topic, s.id)
}

type subscriber struct {
	id uint64
	cb Callback
}

// Bus is a single-threaded cooperative dispatcher. All exported methods are
// safe to call concurrently; delivery itself always happens on whichever
// goroutine calls Drain (normally the pipeline's single mutator loop).
type Bus struct {
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[Topic][]subscriber
	nextID      uint64
	queue       []Event
}

// New constructs an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		subscribers: make(map[Topic][]subscriber),
	}
}

// Subscribe registers cb for topic. Dispatch order for a topic is
// registration order.
func (b *Bus) Subscribe(topic Topic, cb Callback) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscriber{id: id, cb: cb})
	return &Subscription{bus: b, topic: topic, id: id}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish enqueues an event. Publish never blocks on subscriber execution;
// call Drain to run queued callbacks to completion.
func (b *Bus) Publish(topic Topic, data any) {
	b.mu.Lock()
	b.queue = append(b.queue, Event{Topic: topic, Data: data})
	b.mu.Unlock()
}

// PublishNow enqueues then immediately drains, for call sites that want
// synchronous delivery semantics (the common case for this pipeline, since
// all mutating operations already run on a single cooperative loop).
func (b *Bus) PublishNow(topic Topic, data any) {
	b.Publish(topic, data)
	b.Drain()
}

// Drain runs every queued event to completion, dispatching to subscribers
// of its topic in registration order. A subscriber's error is logged; it
// does not stop delivery to subsequent subscribers or events.
func (b *Bus) Drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		subs := append([]subscriber(nil), b.subscribers[ev.Topic]...)
		b.mu.Unlock()

		for _, s := range subs {
			if err := s.cb(ev); err != nil {
				b.logger.Error("eventbus subscriber error", "topic", ev.Topic, "error", err)
			}
		}
	}
}

// Pending reports the number of events not yet drained.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
