// Package events defines the bridge event type and publishers that carry
// fire-and-forget sends and listener emits outside the router.
package events

// Event kinds.
const (
	KindEmit = "emit"
	KindSend = "send"
)

// BridgeEvent is published for every emit and every fire-and-forget send.
type BridgeEvent struct {
	Kind      string            `json:"kind"`
	Name      string            `json:"name,omitempty"`
	Seq       string            `json:"seq,omitempty"`
	Data      string            `json:"data"`
	Body      []byte            `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp string            `json:"timestamp"`
}
