package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const ProviderStripe = "stripe"

// Outcome is what the handler did with an acknowledged delivery.
type Outcome string

const (
	OutcomeActivated           Outcome = "activated"
	OutcomeAlreadyActive       Outcome = "already_active"
	OutcomeDuplicateEvent      Outcome = "duplicate_event"
	OutcomeIgnored             Outcome = "ignored"
	OutcomeMalformed           Outcome = "malformed"
	OutcomeUnknownOrganization Outcome = "unknown_organization"
	OutcomeConflict            Outcome = "activation_conflict"
)

type Result struct {
	EventID   string
	EventType string
	Outcome   Outcome
	OrgID     snowflake.ID
	// InviteError is set when activation succeeded but the admin invite did
	// not. It never changes the acknowledgement.
	InviteError error
}

type Service interface {
	// Handle verifies and processes one delivery. An error means the
	// delivery must not be acknowledged.
	Handle(ctx context.Context, payload []byte, signatureHeader string) (*Result, error)
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Receive stores the delivery, or returns the stored copy when the
	// event was seen before.
	Receive(ctx context.Context, record *EventRecord) (*EventRecord, bool, error)
	FindByEvent(ctx context.Context, provider, eventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, id snowflake.ID, outcome Outcome, orgID *snowflake.ID, now time.Time) error
}
