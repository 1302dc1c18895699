package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogin(ctx context.Context, identity string, nonce string) error
}
