package events

import "context"

// EventPublisher is the interface for publishing bridge events.
type EventPublisher interface {
	Publish(ctx context.Context, event *BridgeEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (for a router with no bus attached).
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *BridgeEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *BridgeEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *BridgeEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// Publish calls the callback.
func (p *CallbackPublisher) Publish(ctx context.Context, event *BridgeEvent) error {
	return p.callback(ctx, event)
}
