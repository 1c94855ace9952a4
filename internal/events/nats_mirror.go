package events

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSMirror republishes every bus message to an external NATS subject so
// out-of-process consumers can follow the event stream. Mirroring is best
// effort: a failed publish is logged, never retried into the hot path.
type NATSMirror struct {
	conn          *nats.Conn
	subjectPrefix string
	sub           *Subscriber
	stopped       chan struct{}
}

func NewNATSMirror(conn *nats.Conn, subjectPrefix string) *NATSMirror {
	if subjectPrefix == "" {
		subjectPrefix = "vms.events"
	}
	return &NATSMirror{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		stopped:       make(chan struct{}),
	}
}

// Start subscribes to the bus and mirrors until Stop is called.
func (m *NATSMirror) Start(bus *Bus) {
	m.sub = bus.Subscribe(DefaultQueueSize)
	go func() {
		defer close(m.stopped)
		for msg := range m.sub.C() {
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("[events] nats mirror marshal error: %v", err)
				continue
			}
			subject := fmt.Sprintf("%s.%s", m.subjectPrefix, msg.Topic)
			if err := m.conn.Publish(subject, data); err != nil {
				log.Printf("[events] nats mirror publish error: %v", err)
			}
		}
	}()
}

func (m *NATSMirror) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
		<-m.stopped
	}
}
