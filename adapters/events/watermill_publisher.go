package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// TopicLogin carries one message per successful authentication
const TopicLogin = "auth47.login"

// LoginEvent represents a successful login
type LoginEvent struct {
	Identity string    `json:"identity"`
	Nonce    string    `json:"nonce"`
	At       time.Time `json:"at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     TopicLogin,
		now:       time.Now,
	}
}

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, identity string, nonce string) error {
	event := LoginEvent{
		Identity: identity,
		Nonce:    nonce,
		At:       p.now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Discard is an EventPublisher that drops every event
type Discard struct{}

// PublishLogin does nothing
func (Discard) PublishLogin(context.Context, string, string) error { return nil }
