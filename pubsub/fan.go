// Package pubsub provides cross-instance room fan-out over Redis
// pub/sub. Each active document room maps to one channel; envelopes
// carry the originating instance id so subscribers skip their own
// messages, giving at-most-one delivery of echoed events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"scribe.evalgo.org/common"
)

// Envelope is the wire format of one room event crossing instances.
type Envelope struct {
	Instance string          `json:"instance"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// RemoteHandler receives room events published by other instances.
type RemoteHandler func(documentID string, env Envelope)

// Connect opens a Redis client from a URL and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Fan is the gateway's room-event adapter. One subscription exists per
// active room; it is dropped when the room empties.
type Fan struct {
	client   *redis.Client
	instance string
	handler  RemoteHandler

	mu   sync.Mutex
	subs map[string]*roomSub
}

type roomSub struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewFan builds a fan-out adapter. instance must be unique per process;
// handler receives events from other instances only.
func NewFan(client *redis.Client, instance string, handler RemoteHandler) *Fan {
	return &Fan{
		client:   client,
		instance: instance,
		handler:  handler,
		subs:     make(map[string]*roomSub),
	}
}

func channelFor(documentID string) string {
	return "room:" + documentID
}

// Publish sends a room event to peers on every instance. A failure is a
// TransientInfraError; the caller still delivers locally, degrading to
// single-instance mode.
func (f *Fan) Publish(ctx context.Context, documentID, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}
	env := Envelope{Instance: f.instance, Event: event, Data: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(documentID), body).Err(); err != nil {
		return common.NewTransientError("room publish failed, delivering locally only", err)
	}
	return nil
}

// Subscribe opens the room's channel if it is not already open.
// Idempotent.
func (f *Fan) Subscribe(ctx context.Context, documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[documentID]; ok {
		return
	}

	pubsub := f.client.Subscribe(ctx, channelFor(documentID))
	sub := &roomSub{pubsub: pubsub, done: make(chan struct{})}
	f.subs[documentID] = sub

	go f.pump(documentID, sub)
}

// pump delivers remote envelopes until the subscription closes. go-redis
// reconnects the underlying connection itself; a closed channel means
// Unsubscribe or Close was called.
func (f *Fan) pump(documentID string, sub *roomSub) {
	log := common.Logger.WithField("document_id", documentID)
	for msg := range sub.pubsub.Channel() {
		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.WithError(err).Warn("dropping malformed room envelope")
			continue
		}
		if env.Instance == f.instance {
			continue
		}
		f.handler(documentID, env)
	}
	close(sub.done)
}

// Unsubscribe closes the room's channel. Idempotent.
func (f *Fan) Unsubscribe(documentID string) {
	f.mu.Lock()
	sub, ok := f.subs[documentID]
	if ok {
		delete(f.subs, documentID)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.pubsub.Close(); err != nil {
		common.Logger.WithError(err).WithField("document_id", documentID).
			Warn("error closing room subscription")
	}
	<-sub.done
}

// ActiveRooms reports how many room subscriptions are open.
func (f *Fan) ActiveRooms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drains every subscription.
func (f *Fan) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[string]*roomSub)
	f.mu.Unlock()

	for id, sub := range subs {
		if err := sub.pubsub.Close(); err != nil {
			common.Logger.WithError(err).WithField("document_id", id).
				Warn("error closing room subscription")
		}
		<-sub.done
	}
}
