package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/native-bridge/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// SubjectPrefix overrides the event subject prefix (e.g. from COMMS_EVENT_SUBJECT_PREFIX).
	SubjectPrefix string
}

// CommsPublisher mirrors bridge events onto COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	subjectPrefix string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	prefix := commsutil.SubjectEventPrefix
	if opts != nil && opts.SubjectPrefix != "" {
		prefix = opts.SubjectPrefix
	}
	return &CommsPublisher{nc: nc, subjectPrefix: prefix}
}

// Publish encodes the event and publishes it to <prefix>.<kind>[.<name>].
func (p *CommsPublisher) Publish(_ context.Context, event *BridgeEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subject := commsutil.BuildEventSubject(p.subjectPrefix, event.Kind, event.Name)
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event to %s", commsPublisherLogPrefix, event.Kind, subject))
	return nil
}
