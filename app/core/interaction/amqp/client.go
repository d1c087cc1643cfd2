package amqp

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	config "leadrouter/app/configs"
)

const publishPoolSize = 4

// Client owns one AMQP connection, the declared topology and a small
// channel pool for publishing. Consumers reconnect through it.
type Client struct {
	cfg config.AMQPConfig

	mu   sync.Mutex
	conn *amqp.Connection
	pool chan *amqp.Channel
}

func Dial(cfg config.AMQPConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	c := &Client{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.DialConfig(c.cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(time.Duration(c.cfg.ConnTimeoutSec) * time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	setupCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := setupCh.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = setupCh.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %q: %w", c.cfg.Exchange, err)
	}
	_ = setupCh.Close()

	pool := make(chan *amqp.Channel, publishPoolSize)
	for i := 0; i < publishPoolSize; i++ {
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("fill publish pool: %w", err)
		}
		pool <- ch
	}

	c.mu.Lock()
	c.conn = conn
	c.pool = pool
	c.mu.Unlock()
	return nil
}

// Reconnect drops the broken connection and dials again. Safe to call
// from the consumer supervisor.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return c.connect()
}

func (c *Client) Connection() *amqp.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) borrow(ctx context.Context) (*amqp.Channel, error) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("client not connected")
	}
	select {
	case ch := <-pool:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) giveBack(ch *amqp.Channel) {
	c.mu.Lock()
	pool := c.pool
	c.mu.Unlock()
	if pool == nil {
		_ = ch.Close()
		return
	}
	select {
	case pool <- ch:
	default:
		_ = ch.Close()
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.pool = nil
}

func jitteredDelay(base, cap time.Duration, jitterPct int) time.Duration {
	if jitterPct <= 0 {
		jitterPct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(jitterPct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	if wait > cap {
		wait = cap
	}
	return wait
}
