package workbench

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// Metadata keys of the pubsub messages consumed and produced by the real-time
// workbench.
const (
	MetadataTwinID   = "twin-id"
	MetadataModel    = "model"
	MetadataProvider = "provider"
)

// Serve returns a component.Proc that delivers every message received from sub
// to the instance named by its MetadataTwinID metadata. Message bodies are
// decoded with the model decoder, as by SendBytes.
//
// Messages are acknowledged before delivery. A message that cannot be
// delivered is logged and dropped. The proc returns when the workbench is
// closed or the component shuts down.
func (e *Endpoint) Serve(sub *pubsub.Subscription) component.Proc {
	return NewEventSource(sub).Stream(e.receive)
}

// receive delivers a single event to the instance named by its metadata.
func (e *Endpoint) receive(ctx context.Context, msg *pubsub.Message) error {
	id := msg.Metadata[MetadataTwinID]
	if id == "" {
		return fmt.Errorf("%w: message has no %q metadata", ErrInvalidName, MetadataTwinID)
	}
	return e.SendBytes(ctx, id, msg.Body)
}

// EventSource wraps a pubsub subscription as a stream of events.
type EventSource struct {
	subscription *pubsub.Subscription
}

// NewEventSource returns an EventSource receiving from sub.
func NewEventSource(sub *pubsub.Subscription) EventSource {
	return EventSource{subscription: sub}
}

// EventHandler processes a single received message.
type EventHandler func(ctx context.Context, msg *pubsub.Message) error

// Stream returns a component.Proc that continuously receives messages from the
// subscription and passes them to h.
func (s EventSource) Stream(h EventHandler) component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context())
		for l.Continue() {
			msg, err := s.subscription.Receive(l.Context())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Fatal(fmt.Errorf("receive: %w", err))
			}
			// always ack, even if we fail to deliver.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			if err := h(l.Context(), msg); err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				logger.Warn("Dropped event",
					slog.String("msg.id", msg.LoggableID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// encodeAlert encodes a posted alert for the alert topics.
func encodeAlert(a PostedAlert) (*pubsub.Message, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(a); err != nil {
		return nil, fmt.Errorf("encode gob: %w", err)
	}
	return &pubsub.Message{
		Body:     b.Bytes(),
		Metadata: map[string]string{MetadataProvider: a.Provider},
	}, nil
}

// DecodeAlert decodes the body of a message published on an alert topic.
func DecodeAlert(p []byte) (PostedAlert, error) {
	var a PostedAlert
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&a); err != nil {
		return PostedAlert{}, fmt.Errorf("decode gob: %w", err)
	}
	return a, nil
}
