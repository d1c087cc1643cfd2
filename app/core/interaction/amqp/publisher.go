package amqp

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"leadrouter/app/core/events"
)

// Publisher emits routed-contact envelopes to the topic exchange.
type Publisher struct {
	client     *Client
	exchange   string
	routingKey string
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{
		client:     client,
		exchange:   client.cfg.Exchange,
		routingKey: client.cfg.OutboundRoutingKey,
	}
}

func (p *Publisher) PublishRouted(ctx context.Context, env events.Envelope) error {
	if env.Meta.ID == "" {
		return fmt.Errorf("envelope meta id is required")
	}
	if env.Meta.CorrelationID == "" {
		env.Meta.CorrelationID = env.Meta.ID
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ch, err := p.client.borrow(ctx)
	if err != nil {
		return fmt.Errorf("borrow channel: %w", err)
	}
	defer p.client.giveBack(ch)

	return ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         events.Producer,
	})
}
