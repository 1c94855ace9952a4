package events

import (
	"sync"
	"sync/atomic"
)

type Topic string

const (
	TopicCameraAdded      Topic = "camera-added"
	TopicCameraUpdated    Topic = "camera-updated"
	TopicCameraDeleted    Topic = "camera-deleted"
	TopicCameraStatus     Topic = "camera-status"
	TopicRecordingStarted Topic = "recording-started"
	TopicRecordingStopped Topic = "recording-stopped"
	TopicANPREvent        Topic = "anpr-event"
)

type Message struct {
	Topic   Topic `json:"event"`
	Payload any   `json:"data"`
}

// DefaultQueueSize bounds each subscriber's queue.
const DefaultQueueSize = 256

// Bus is the in-process publish mechanism between supervisors, workers and the
// control surface. Publish never blocks: when a subscriber's queue is full the
// oldest queued message is dropped and the dropped counter increments.
// Delivery is FIFO per subscriber across topics, at-most-once.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscriber]struct{}
	closed  bool
	dropped atomic.Int64
}

type Subscriber struct {
	bus *Bus

	mu      sync.Mutex
	queue   []Message
	wake    chan struct{}
	out     chan Message
	done    chan struct{}
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber with a bounded queue. buffer <= 0 uses the default.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultQueueSize
	}
	s := &Subscriber{
		bus:   b,
		queue: make([]Message, 0, buffer),
		wake:  make(chan struct{}, 1),
		out:   make(chan Message),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.drain(buffer)
	return s
}

// Publish fans the message out to every subscriber without blocking.
func (b *Bus) Publish(topic Topic, payload any) {
	msg := Message{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.enqueue(msg, b)
	}
}

// Dropped reports the total messages discarded across all subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close terminates all subscribers. Further publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (s *Subscriber) enqueue(msg Message, b *Bus) {
	s.mu.Lock()
	if len(s.queue) == cap(s.queue) {
		// Drop-oldest: the head of the queue gives way to the new message.
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped.Add(1)
		b.dropped.Add(1)
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) drain(buffer int) {
	defer close(s.out)
	for {
		s.mu.Lock()
		var msg Message
		have := len(s.queue) > 0
		if have {
			msg = s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue = s.queue[:len(s.queue)-1]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

// C is the delivery channel. It closes when the subscriber is unsubscribed
// or the bus shuts down.
func (s *Subscriber) C() <-chan Message { return s.out }

// Dropped reports how many messages this subscriber lost to overflow.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe detaches from the bus and closes C.
func (s *Subscriber) Unsubscribe() {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s]
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	if ok {
		s.stop()
	}
}

func (s *Subscriber) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
