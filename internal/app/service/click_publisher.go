package service

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
)

// ClickPublisher publishes committed clicks to NATS JetStream.
type ClickPublisher struct {
	js nats.JetStreamContext
}

// NewClickPublisher creates a new click event publisher.
func NewClickPublisher(js nats.JetStreamContext) *ClickPublisher {
	return &ClickPublisher{js: js}
}

// Publish enqueues the event without waiting for the server ack.
func (p *ClickPublisher) Publish(event model.ClickEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal click event: %w", err)
	}

	msg := nats.NewMsg(model.ClickStreamSubject)
	msg.Data = data
	// Deduplicates redeliveries within the stream's duplicate window.
	msg.Header.Set(nats.MsgIdHdr, event.ID)

	if _, err := p.js.PublishMsgAsync(msg); err != nil {
		return fmt.Errorf("publish click event: %w", err)
	}
	return nil
}

var _ ClickNotifier = (*ClickPublisher)(nil)
