package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.Publish(context.Background(), &BridgeEvent{
		Kind: KindEmit,
		Name: "window.focus",
		Data: "{}",
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *BridgeEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *BridgeEvent) error {
		captured = event
		return nil
	})

	event := &BridgeEvent{
		Kind:      KindSend,
		Seq:       "-1",
		Data:      `{"source":"platform.event","data":{}}`,
		Timestamp: "2025-01-01T00:00:00Z",
	}

	err := pub.Publish(context.Background(), event)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.Kind != KindSend {
		t.Errorf("expected kind send, got %s", captured.Kind)
	}
	if captured.Seq != "-1" {
		t.Errorf("expected seq -1, got %s", captured.Seq)
	}
}

func TestCallbackPublisher_PropagatesError(t *testing.T) {
	want := errors.New("bus down")
	pub := NewCallbackPublisher(func(_ context.Context, _ *BridgeEvent) error {
		return want
	})
	if err := pub.Publish(context.Background(), &BridgeEvent{Kind: KindEmit}); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
