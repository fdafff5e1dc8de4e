package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/shortlink/internal/app/model"
	metrics "github.com/sifan077/shortlink/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	clickFetchBatch   = 10
	clickFetchMaxWait = 5 * time.Second
)

// ClickConsumer drains the click stream into Prometheus counters. The
// database stays the source of truth for statistics.
type ClickConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewClickConsumer creates a new click event consumer.
func NewClickConsumer(js nats.JetStreamContext, logger *zap.Logger) *ClickConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickConsumer{js: js, logger: logger}
}

// Start ensures the stream and durable consumer exist and consumes until ctx is done.
func (c *ClickConsumer) Start(ctx context.Context) error {
	if _, err := c.js.StreamInfo(model.ClickStreamName); err != nil {
		if _, err := c.js.AddStream(&nats.StreamConfig{
			Name:     model.ClickStreamName,
			Subjects: []string{model.ClickStreamSubject},
			MaxBytes: model.ClickStreamMaxBytes,
		}); err != nil {
			return fmt.Errorf("create click stream: %w", err)
		}
	}

	if _, err := c.js.ConsumerInfo(model.ClickStreamName, model.ClickConsumerName); err != nil {
		if _, err := c.js.AddConsumer(model.ClickStreamName, &nats.ConsumerConfig{
			Durable:   model.ClickConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		}); err != nil {
			return fmt.Errorf("create click consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.ClickStreamSubject, model.ClickConsumerName,
		nats.Bind(model.ClickStreamName, model.ClickConsumerName))
	if err != nil {
		return fmt.Errorf("subscribe click stream: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

func (c *ClickConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe click consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("click consumer stopped")
			return
		}

		msgs, err := sub.Fetch(clickFetchBatch, nats.MaxWait(clickFetchMaxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("click consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch click events", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			c.handle(msg)
		}
	}
}

func (c *ClickConsumer) handle(msg *nats.Msg) {
	event, err := decodeClickEvent(msg.Data)
	if err != nil {
		// A malformed payload will never decode; drop it instead of redelivering.
		c.logger.Error("failed to decode click event", zap.Error(err))
		_ = msg.Term()
		return
	}

	metrics.ClickEvents.WithLabelValues(event.DeviceType).Inc()
	c.logger.Debug("click event consumed",
		zap.String("id", event.ID),
		zap.String("code", event.ShortCode),
		zap.String("device_type", event.DeviceType),
		zap.Time("clicked_at", event.ClickedAt),
	)

	if err := msg.Ack(); err != nil {
		c.logger.Warn("failed to ack click event", zap.Error(err), zap.String("id", event.ID))
	}
}

func decodeClickEvent(data []byte) (model.ClickEvent, error) {
	var event model.ClickEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("unmarshal click event: %w", err)
	}
	if event.ShortCode == "" || event.DeviceType == "" {
		return event, errors.New("click event is missing short_code or device_type")
	}
	return event, nil
}
