package events

import (
	"time"

	"github.com/google/uuid"
)

type Meta struct {
	// Unique event ID
	ID string `json:"id"`
	// Trace / request correlation ID
	CorrelationID string `json:"correlation_id,omitempty"`
	// Emitting service and version
	Producer string `json:"producer,omitempty"`
	// Timestamp when the event was emitted
	Time time.Time `json:"time"`
	// Event name and version, e.g. crm.contact.routed.v1
	Type string `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

const Producer = "leadrouter"

func NewEnvelope(eventType, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Producer:      Producer,
			Time:          time.Now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}
}
