// Package realtime pushes new readings, alerts and risk updates to
// subscribed dashboard sessions. Delivery is fire-and-forget: a
// disconnected or slow subscriber simply misses updates.
package realtime

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// Topic prefixes. Patient-scoped topics append ":<patientID>".
const (
	TopicReadings = "readings"
	TopicAlerts   = "alerts"
	TopicRisk     = "risk"
)

// Broadcaster publishes an event to every subscriber of a topic.
// Implementations must not block the caller and give no delivery guarantee.
type Broadcaster interface {
	Publish(topic string, payload interface{})
}

// PatientTopic builds a patient-scoped topic name
func PatientTopic(prefix, patientID string) string {
	return prefix + ":" + patientID
}

// Multi fans an event out to several broadcasters
type Multi []Broadcaster

// Publish forwards the event to every broadcaster
func (m Multi) Publish(topic string, payload interface{}) {
	for _, b := range m {
		b.Publish(topic, payload)
	}
}

// Nop is a Broadcaster that drops everything
type Nop struct{}

// Publish does nothing
func (Nop) Publish(topic string, payload interface{}) {}

// RedisBroadcaster publishes events to Redis pub/sub channels so external
// consumers (and other instances) can relay them
type RedisBroadcaster struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisBroadcaster creates a Redis-backed broadcaster
func NewRedisBroadcaster(client *redis.Client, keyPrefix string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, keyPrefix: keyPrefix}
}

// Publish sends the event to the topic's Redis channel. Failures are
// logged and dropped.
func (b *RedisBroadcaster) Publish(topic string, payload interface{}) {
	data, err := marshalPayload(payload)
	if err != nil {
		log.Printf("realtime: failed to encode payload for %s: %v", topic, err)
		return
	}

	go func() {
		if err := b.client.Publish(context.Background(), b.keyPrefix+":"+topic, data).Err(); err != nil {
			log.Printf("realtime: redis publish to %s failed: %v", topic, err)
		}
	}()
}
