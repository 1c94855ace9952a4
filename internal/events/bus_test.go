package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscriber, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("timed out after %d of %d messages", len(out), n)
		}
	}
	return out
}

func TestBus_FIFOAcrossTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(16)
	bus.Publish(TopicRecordingStarted, "r1")
	bus.Publish(TopicANPREvent, "p1")
	bus.Publish(TopicRecordingStopped, "r1")

	got := collect(t, sub, 3)
	assert.Equal(t, TopicRecordingStarted, got[0].Topic)
	assert.Equal(t, TopicANPREvent, got[1].Topic)
	assert.Equal(t, TopicRecordingStopped, got[2].Topic)
}

func TestSubscriber_DropOldestOnOverflow(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Drive enqueue directly so the drain goroutine cannot race the overflow.
	s := &Subscriber{
		bus:   bus,
		queue: make([]Message, 0, 4),
		wake:  make(chan struct{}, 1),
		out:   make(chan Message),
		done:  make(chan struct{}),
	}
	for i := 0; i < 8; i++ {
		s.enqueue(Message{Topic: TopicCameraStatus, Payload: i}, bus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.queue, 4)
	// Oldest four were dropped, newest four survive in order.
	for i, msg := range s.queue {
		assert.Equal(t, i+4, msg.Payload)
	}
	assert.EqualValues(t, 4, s.Dropped())
	assert.EqualValues(t, 4, bus.Dropped())
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	slow := bus.Subscribe(1)
	fast := bus.Subscribe(16)
	_ = slow // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TopicANPREvent, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	got := collect(t, fast, 16)
	assert.Len(t, got, 16)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(4)
	sub.Unsubscribe()

	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after unsubscribe")

	// Publishing after unsubscribe must not panic or deliver.
	bus.Publish(TopicCameraAdded, "x")
}

func TestBus_CloseTerminatesSubscribers(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	bus.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	// Idempotent close and post-close publish are no-ops.
	bus.Close()
	bus.Publish(TopicCameraAdded, "x")
}
