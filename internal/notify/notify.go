// Package notify delivers text messages to a chat channel.
package notify

import "context"

// Notifier sends a pre-formatted message to the configured channel.
// Implementations do not retry.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
