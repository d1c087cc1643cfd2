package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	config "leadrouter/app/configs"
	"leadrouter/app/core/crm/identity"
	"leadrouter/app/core/crm/routing"
	"leadrouter/app/core/events"
	"leadrouter/app/pkg/logger"
	"leadrouter/app/pkg/types"

	"github.com/tidwall/sjson"
)

// EventPublisher receives a routed-contact event after every decision.
// Nil publisher means events are skipped (HTTP-only deployments).
type EventPublisher interface {
	PublishRouted(ctx context.Context, env events.Envelope) error
}

type Dispatcher struct {
	engine    *routing.Engine
	idPaths   config.IdentityPathsConfig
	publisher EventPublisher

	mu       sync.RWMutex
	channels map[string]types.Channel

	processedRequests uint64
	failedRequests    uint64
	lastRequestUnix   atomic.Int64
	startedUnix       atomic.Int64
}

type HealthStatus struct {
	Started            bool      `json:"started"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	RegisteredChannels []string  `json:"registered_channels"`
	ProcessedRequests  uint64    `json:"processed_requests"`
	FailedRequests     uint64    `json:"failed_requests"`
	LastRequestAt      time.Time `json:"last_request_at,omitempty"`
}

func NewDispatcher(engine *routing.Engine, idPaths config.IdentityPathsConfig) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		idPaths:  idPaths,
		channels: make(map[string]types.Channel),
	}
}

func (d *Dispatcher) SetPublisher(p EventPublisher) {
	d.publisher = p
}

func (d *Dispatcher) RegisterChannel(c types.Channel) {
	if c == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[c.ID()] = c
}

// Start runs every registered channel and blocks until the context is
// cancelled or a channel fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.RLock()
	channels := make([]types.Channel, 0, len(d.channels))
	for _, c := range d.channels {
		channels = append(channels, c)
	}
	d.mu.RUnlock()

	if len(channels) == 0 {
		return fmt.Errorf("no channels registered")
	}
	d.startedUnix.Store(time.Now().Unix())

	errCh := make(chan error, len(channels))
	for _, c := range channels {
		ch := c
		go func() {
			logger.Info("starting channel: %s", ch.ID())
			if err := ch.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("channel %s: %w", ch.ID(), err)
				return
			}
			errCh <- nil
		}()
	}

	for range channels {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Route is the single dispatch path for every channel: identity
// extraction, the routing engine, counters, then event publishing.
func (d *Dispatcher) Route(ctx context.Context, req types.ContactRequest) (routing.Result, error) {
	d.lastRequestUnix.Store(time.Now().Unix())

	fields := identity.FromPayload(identity.Fields{
		ExternalID: strings.TrimSpace(req.ExternalID),
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
	}, req.Payload, d.idPaths)

	result, err := d.engine.RouteContact(ctx, routing.RouteRequest{
		SourceCode: strings.TrimSpace(req.SourceCode),
		ExternalID: fields.ExternalID,
		Phone:      fields.Phone,
		Email:      fields.Email,
		Payload:    req.Payload,
	})
	if err != nil {
		atomic.AddUint64(&d.failedRequests, 1)
		return routing.Result{}, err
	}
	atomic.AddUint64(&d.processedRequests, 1)

	d.publishRouted(ctx, req.CorrelationID, result)
	return result, nil
}

func (d *Dispatcher) publishRouted(ctx context.Context, correlationID string, result routing.Result) {
	if d.publisher == nil {
		return
	}
	env := events.NewEnvelope(events.TypeContactRoutedV1, correlationID, events.ContactRoutedV1{
		ContactID:  result.Contact.ID,
		LeadID:     result.Lead.ID,
		SourceID:   result.Source.ID,
		SourceCode: result.Source.Code,
		OperatorID: result.Contact.OperatorID,
		Status:     result.Contact.Status,
		RoutedAt:   time.Unix(result.Contact.CreatedAt, 0).UTC(),
		Payload:    annotatePayload(result),
	})
	if err := d.publisher.PublishRouted(ctx, env); err != nil {
		// Event delivery is best effort; the contact is already committed.
		logger.Error("publish routed event for contact %d: %v", result.Contact.ID, err)
	}
}

// annotatePayload stamps the routing outcome into a copy of the opaque
// payload carried on the event, so downstream consumers see both.
func annotatePayload(result routing.Result) []byte {
	payload := result.Contact.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	out, err := sjson.SetBytes(payload, "routing.contact_id", result.Contact.ID)
	if err != nil {
		return result.Contact.Payload
	}
	if result.Contact.OperatorID != nil {
		if out, err = sjson.SetBytes(out, "routing.operator_id", *result.Contact.OperatorID); err != nil {
			return result.Contact.Payload
		}
	}
	return out
}

func (d *Dispatcher) Health() HealthStatus {
	d.mu.RLock()
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	d.mu.RUnlock()
	sort.Strings(ids)

	status := HealthStatus{
		RegisteredChannels: ids,
		ProcessedRequests:  atomic.LoadUint64(&d.processedRequests),
		FailedRequests:     atomic.LoadUint64(&d.failedRequests),
	}
	if started := d.startedUnix.Load(); started > 0 {
		status.Started = true
		status.StartedAt = time.Unix(started, 0).UTC()
	}
	if last := d.lastRequestUnix.Load(); last > 0 {
		status.LastRequestAt = time.Unix(last, 0).UTC()
	}
	return status
}
