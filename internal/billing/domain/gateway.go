package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const EventTypeCheckoutCompleted = "checkout.session.completed"

// Metadata keys attached to checkout sessions; the webhook correlates on them.
const (
	MetadataOrgID        = "org_id"
	MetadataOrgName      = "org_name"
	MetadataSubdomain    = "subdomain"
	MetadataContactName  = "contact_name"
	MetadataContactEmail = "contact_email"
	MetadataContactPhone = "contact_phone"
)

var (
	ErrInvalidAmount      = errors.New("invalid_monthly_fee")
	ErrInvalidCheckout    = errors.New("invalid_checkout_request")
	ErrInvalidBaseURL     = errors.New("invalid_base_url")
	ErrExternalService    = errors.New("external_service_error")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrUnexpectedEvent    = errors.New("unexpected_event_type")
	ErrGatewayUnavailable = errors.New("payment_gateway_not_configured")
)

type MonthlyPriceRequest struct {
	Amount           decimal.Decimal
	OrganizationName string
	Subdomain        string
}

type Price struct {
	ID         string
	UnitAmount int64
	Currency   string
}

type CheckoutRequest struct {
	PriceID        string
	OrganizationID string
	ContactName    string
	ContactEmail   string
	ContactPhone   string
	BaseURL        string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Event is a verified gateway notification.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage
}

// CheckoutCompleted is the decoded payload of a completed checkout session.
type CheckoutCompleted struct {
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
	CustomerEmail     string
	Metadata          map[string]string
}

type PriceProvisioner interface {
	CreateMonthlyPrice(ctx context.Context, req MonthlyPriceRequest) (*Price, error)
	ArchivePrice(ctx context.Context, priceID string) error
}

type CheckoutSessionFactory interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

type EventVerifier interface {
	// ConstructEvent authenticates payload against the signature header.
	ConstructEvent(payload []byte, signatureHeader string) (*Event, error)
	ParseCheckoutCompleted(event *Event) (*CheckoutCompleted, error)
}

type Gateway interface {
	PriceProvisioner
	CheckoutSessionFactory
	EventVerifier
}
