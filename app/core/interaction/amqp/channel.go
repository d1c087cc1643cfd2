package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"leadrouter/app/core/crm/routing"
	"leadrouter/app/core/events"
	"leadrouter/app/pkg/logger"
	"leadrouter/app/pkg/types"
)

// ContactRouter is the dispatch surface the consumer feeds.
type ContactRouter interface {
	Route(ctx context.Context, req types.ContactRequest) (routing.Result, error)
}

// InboundChannel consumes contact.inbound events from the queue and
// routes them. Supervised: a dropped connection is redialed with
// capped, jittered backoff.
type InboundChannel struct {
	id     string
	client *Client
	router ContactRouter
}

func NewInboundChannel(client *Client, router ContactRouter) *InboundChannel {
	return &InboundChannel{id: "amqp", client: client, router: router}
}

func (c *InboundChannel) ID() string {
	return c.id
}

func (c *InboundChannel) Start(ctx context.Context) error {
	base := time.Duration(c.client.cfg.BackoffBaseSec) * time.Second
	capd := time.Duration(c.client.cfg.BackoffCapSec) * time.Second
	backoff := base

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		logger.Error("amqp consumer stopped, reconnecting: %v", err)

		for {
			if ctx.Err() != nil {
				return nil
			}
			if rerr := c.client.Reconnect(); rerr != nil {
				wait := jitteredDelay(backoff, capd, c.client.cfg.JitterPercent)
				logger.Error("amqp reconnect failed (retry in %s): %v", wait, rerr)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
				if backoff*2 < capd {
					backoff *= 2
				}
				continue
			}
			backoff = base
			break
		}
	}
}

func (c *InboundChannel) consume(ctx context.Context) error {
	conn := c.client.Connection()
	if conn == nil {
		return errors.New("not connected")
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	cfg := c.client.cfg
	if _, err := ch.QueueDeclare(cfg.InboundQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(cfg.InboundQueue, cfg.InboundRoutingKey, cfg.Exchange, false, nil); err != nil {
		return err
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(cfg.InboundQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	logger.Info("amqp consuming queue %s (key %s)", cfg.InboundQueue, cfg.InboundRoutingKey)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-closed:
			if !ok || err == nil {
				return errors.New("connection closed")
			}
			return err
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle decides the ack per delivery: malformed and unroutable
// messages are acked away (poison), storage failures requeue.
func (c *InboundChannel) handle(ctx context.Context, d amqp.Delivery) {
	var env struct {
		Meta events.Meta             `json:"meta"`
		Data events.ContactInboundV1 `json:"data"`
	}
	if err := json.Unmarshal(d.Body, &env); err != nil {
		logger.Error("amqp poison message %s: %v", d.MessageId, err)
		_ = d.Ack(false)
		return
	}

	correlationID := env.Meta.CorrelationID
	if correlationID == "" {
		correlationID = d.CorrelationId
	}

	_, err := c.router.Route(ctx, types.ContactRequest{
		SourceCode:    env.Data.SourceCode,
		ExternalID:    env.Data.ExternalID,
		Phone:         env.Data.Phone,
		Email:         env.Data.Email,
		Payload:       env.Data.Payload,
		ChannelID:     c.id,
		CorrelationID: correlationID,
	})
	if err != nil {
		var notFound *routing.SourceNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, routing.ErrAnonymousLead) {
			logger.Error("amqp message %s rejected: %v", d.MessageId, err)
			_ = d.Ack(false)
			return
		}
		logger.Error("amqp message %s routing failed, requeueing: %v", d.MessageId, err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
