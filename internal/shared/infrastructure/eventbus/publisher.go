// Package eventbus publishes domain events to a message broker so other
// tools in the account can react to license and sync transitions.
package eventbus

import "context"

// Publisher delivers serialized domain events under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}
