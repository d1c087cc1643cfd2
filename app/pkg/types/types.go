package types

import (
	"context"
	"encoding/json"
)

// ContactRequest represents one inbound contact event from any channel.
type ContactRequest struct {
	SourceCode    string
	ExternalID    string
	Phone         string
	Email         string
	Payload       json.RawMessage
	ChannelID     string // ingesting channel identifier (e.g., "http", "amqp")
	CorrelationID string
}

// Channel represents an ingestion surface (HTTP API, AMQP queue). The
// routing dispatch is injected at construction; Start blocks until the
// context is cancelled or the channel fails.
type Channel interface {
	Start(ctx context.Context) error
	ID() string
}
