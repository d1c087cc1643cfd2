package events

import (
	"encoding/json"
	"time"
)

const (
	TypeContactInboundV1 = "crm.contact.inbound.v1"
	TypeContactRoutedV1  = "crm.contact.routed.v1"
)

// ContactInboundV1 is the wire shape of a contact event arriving over
// AMQP from a bot/channel integration.
type ContactInboundV1 struct {
	SourceCode string          `json:"source_code"`
	ExternalID string          `json:"external_id,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Email      string          `json:"email,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ContactRoutedV1 is emitted after every routing decision, assigned or
// not. OperatorID is nil for unassigned contacts.
type ContactRoutedV1 struct {
	ContactID  int64           `json:"contact_id"`
	LeadID     int64           `json:"lead_id"`
	SourceID   int64           `json:"source_id"`
	SourceCode string          `json:"source_code"`
	OperatorID *int64          `json:"operator_id,omitempty"`
	Status     string          `json:"status"`
	RoutedAt   time.Time       `json:"routed_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
