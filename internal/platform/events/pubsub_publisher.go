// Package events publishes sync failure and ambiguity events for alerting.
package events

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/ledgersync/internal/services"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEventID returns a lexicographically sortable event id prefixed with "evt_".
func NewEventID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "evt_" + strings.ToLower(ulid.MustNew(ulid.Timestamp(at), entropy).String())
}

// PubSubPublisher publishes sync events to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	now     func() time.Time
}

var _ services.SyncEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed sync event publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic, marshal: json.Marshal, now: time.Now}, nil
}

// PublishSyncEvent publishes one message per event and waits for the server id.
func (p *PubSubPublisher) PublishSyncEvent(ctx context.Context, event services.SyncEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	if strings.TrimSpace(event.EventID) == "" {
		event.EventID = NewEventID(event.OccurredAt)
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal sync event: %w", err)
	}

	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "kind", event.Kind)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "gateway", event.Gateway)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return "", fmt.Errorf("publish sync event: %w", err)
	}
	return event.EventID, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
