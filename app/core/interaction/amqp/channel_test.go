package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"leadrouter/app/core/crm/routing"
	"leadrouter/app/core/events"
	"leadrouter/app/pkg/types"
)

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

type fakeRouter struct {
	err  error
	last types.ContactRequest
}

func (r *fakeRouter) Route(_ context.Context, req types.ContactRequest) (routing.Result, error) {
	r.last = req
	if r.err != nil {
		return routing.Result{}, r.err
	}
	return routing.Result{}, nil
}

func inboundBody(t *testing.T, data events.ContactInboundV1) []byte {
	t.Helper()
	body, err := json.Marshal(events.NewEnvelope(events.TypeContactInboundV1, "corr-9", data))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestHandleAcksAndRoutesValidMessage(t *testing.T) {
	router := &fakeRouter{}
	ch := NewInboundChannel(&Client{}, router)
	ack := &fakeAcknowledger{}

	body := inboundBody(t, events.ContactInboundV1{
		SourceCode: "bot",
		Phone:      "+79001112233",
		Payload:    json.RawMessage(`{"message":"hi"}`),
	})
	ch.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: body})

	if !ack.acked || ack.nacked {
		t.Fatalf("valid message should be acked: %+v", ack)
	}
	if router.last.SourceCode != "bot" || router.last.Phone != "+79001112233" {
		t.Fatalf("request not forwarded to router: %+v", router.last)
	}
	if router.last.CorrelationID != "corr-9" {
		t.Fatalf("envelope correlation id lost: %q", router.last.CorrelationID)
	}
	if router.last.ChannelID != "amqp" {
		t.Fatalf("unexpected channel id: %q", router.last.ChannelID)
	}
}

func TestHandleAcksPoisonMessage(t *testing.T) {
	router := &fakeRouter{}
	ch := NewInboundChannel(&Client{}, router)
	ack := &fakeAcknowledger{}

	ch.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{broken")})

	if !ack.acked || ack.nacked {
		t.Fatalf("poison message should be acked away: %+v", ack)
	}
	if router.last.SourceCode != "" {
		t.Fatalf("poison message must not reach the router: %+v", router.last)
	}
}

func TestHandleAcksUnroutableMessage(t *testing.T) {
	router := &fakeRouter{err: &routing.SourceNotFoundError{Code: "ghost"}}
	ch := NewInboundChannel(&Client{}, router)
	ack := &fakeAcknowledger{}

	ch.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: inboundBody(t, events.ContactInboundV1{SourceCode: "ghost", Phone: "+1"})})

	if !ack.acked || ack.nacked {
		t.Fatalf("unknown source should be acked, not requeued: %+v", ack)
	}
}

func TestHandleAcksAnonymousLead(t *testing.T) {
	router := &fakeRouter{err: routing.ErrAnonymousLead}
	ch := NewInboundChannel(&Client{}, router)
	ack := &fakeAcknowledger{}

	ch.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: inboundBody(t, events.ContactInboundV1{SourceCode: "bot"})})

	if !ack.acked || ack.nacked {
		t.Fatalf("anonymous lead should be acked away: %+v", ack)
	}
}

func TestHandleRequeuesOnStorageFailure(t *testing.T) {
	router := &fakeRouter{err: errors.New("database is locked")}
	ch := NewInboundChannel(&Client{}, router)
	ack := &fakeAcknowledger{}

	ch.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: inboundBody(t, events.ContactInboundV1{SourceCode: "bot", Phone: "+1"})})

	if ack.acked {
		t.Fatalf("transient failure must not ack: %+v", ack)
	}
	if !ack.nacked || !ack.requeue {
		t.Fatalf("transient failure should requeue: %+v", ack)
	}
}

func TestHandleFallsBackToDeliveryCorrelationID(t *testing.T) {
	router := &fakeRouter{}
	ch := NewInboundChannel(&Client{}, router)

	env := events.Envelope{Meta: events.Meta{Type: events.TypeContactInboundV1}, Data: events.ContactInboundV1{SourceCode: "bot", Phone: "+1"}}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ch.handle(context.Background(), amqp.Delivery{Acknowledger: &fakeAcknowledger{}, Body: body, CorrelationId: "hdr-corr"})

	if router.last.CorrelationID != "hdr-corr" {
		t.Fatalf("header correlation id should be used: %q", router.last.CorrelationID)
	}
}

func TestJitteredDelayStaysWithinBounds(t *testing.T) {
	base := 4 * time.Second
	capd := 30 * time.Second
	lo := time.Duration(float64(base) * 0.74)
	hi := time.Duration(float64(base) * 1.26)

	for i := 0; i < 200; i++ {
		wait := jitteredDelay(base, capd, 25)
		if wait < lo || wait > hi {
			t.Fatalf("delay out of jitter window: %s", wait)
		}
	}
}

func TestJitteredDelayRespectsCap(t *testing.T) {
	for i := 0; i < 50; i++ {
		if wait := jitteredDelay(time.Minute, 10*time.Second, 25); wait > 10*time.Second {
			t.Fatalf("delay exceeds cap: %s", wait)
		}
	}
}
