// Package noop provides a publisher that drops every event.
package noop

import "context"

// Publisher discards published events. Used when eventing is disabled.
type Publisher struct{}

// New returns a no-op publisher.
func New() *Publisher { return &Publisher{} }

// Publish drops the payload.
func (*Publisher) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
