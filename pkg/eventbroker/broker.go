// Package eventbroker fans connection events out to live subscribers keyed by
// instance name. Delivery is best effort: slow or gone subscribers are skipped
// and late subscribers miss earlier events.
package eventbroker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EventQRCode  = "qrcode"
	EventState   = "state"
	EventSuccess = "success"
	EventMessage = "message"

	DefaultBuffer = 16
	relayChannel  = "events"
	relayTimeout  = 2 * time.Second
)

type Event struct {
	Instance string    `json:"instance"`
	Name     string    `json:"event"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

// Subscription is a live handle. Read events from C until it is closed.
type Subscription struct {
	C        <-chan Event
	Instance string

	id uint64
	ch chan Event
}

// Relay carries events between replicas. *valkey.Client satisfies it.
type Relay interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) error
}

type envelope struct {
	SenderID string          `json:"sender_id"`
	Instance string          `json:"instance"`
	Name     string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	At       time.Time       `json:"at"`
}

type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool

	relay    Relay
	senderID string
}

func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

// WithRelay enables cross-replica fan-out. serverID tags outgoing events so
// a replica ignores its own echoes.
func (b *Broker) WithRelay(relay Relay, serverID string) *Broker {
	b.relay = relay
	b.senderID = serverID
	return b
}

func (b *Broker) Subscribe(instance string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, Instance: instance, id: b.nextID, ch: ch}
	if b.closed {
		close(ch)
		return sub
	}
	if b.subs[instance] == nil {
		b.subs[instance] = make(map[uint64]*Subscription)
	}
	b.subs[instance][sub.id] = sub
	logrus.Debugf("[BROKER] subscribed %s (#%d)", instance, sub.id)
	return sub
}

// Unsubscribe is safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.Instance]
	if !ok {
		return
	}
	if _, ok := set[sub.id]; !ok {
		return
	}
	delete(set, sub.id)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, sub.Instance)
	}
}

// Broadcast never blocks and never fails.
func (b *Broker) Broadcast(instance, name string, data any) {
	evt := Event{Instance: instance, Name: name, Data: data, At: time.Now().UTC()}
	b.deliver(evt)

	if b.relay != nil {
		go b.publish(evt)
	}
}

func (b *Broker) SubscriberCount(instance string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[instance])
}

// Run attaches the relay subscriber until ctx is done. Without a relay it
// just waits for ctx.
func (b *Broker) Run(ctx context.Context) {
	if b.relay == nil {
		<-ctx.Done()
		return
	}
	logrus.Info("[BROKER] starting relay subscriber for distributed events")
	err := b.relay.Subscribe(ctx, relayChannel, func(payload []byte) {
		b.receive(payload)
	})
	if err != nil && ctx.Err() == nil {
		logrus.WithError(err).Error("[BROKER] relay subscriber stopped")
	}
}

// Close drops every subscriber.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for instance, set := range b.subs {
		for _, sub := range set {
			close(sub.ch)
		}
		delete(b.subs, instance)
	}
}

func (b *Broker) deliver(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[evt.Instance] {
		select {
		case sub.ch <- evt:
		default:
			logrus.Debugf("[BROKER] subscriber #%d for %s is full, skipping %s", sub.id, evt.Instance, evt.Name)
		}
	}
}

func (b *Broker) publish(evt Event) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		logrus.WithError(err).Warn("[BROKER] cannot encode event for relay")
		return
	}
	payload, err := json.Marshal(envelope{
		SenderID: b.senderID,
		Instance: evt.Instance,
		Name:     evt.Name,
		Data:     data,
		At:       evt.At,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := b.relay.Publish(ctx, relayChannel, payload); err != nil {
		logrus.WithError(err).Warn("[BROKER] failed to publish event to relay")
	}
}

func (b *Broker) receive(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logrus.WithError(err).Debug("[BROKER] dropping malformed relay message")
		return
	}
	if env.SenderID == b.senderID {
		return
	}
	b.deliver(Event{Instance: env.Instance, Name: env.Name, Data: env.Data, At: env.At})
}
