// Package stripe implements the billing gateway on top of stripe-go.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/billing/domain"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	ProductID     string
	Currency      string
	// APIURL replaces https://api.stripe.com when set.
	APIURL     string
	HTTPClient *http.Client
}

type Gateway struct {
	api     *client.API
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Gateway, error) {
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.WebhookSecret = strings.TrimSpace(cfg.WebhookSecret)
	cfg.ProductID = strings.TrimSpace(cfg.ProductID)
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = string(stripego.CurrencyUSD)
	}
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" || cfg.ProductID == "" {
		return nil, domain.ErrGatewayUnavailable
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelError},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg)

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripego.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &Gateway{
		api:     api,
		cfg:     cfg,
		log:     log.Named("billing.stripe"),
		metrics: m,
	}, nil
}

func (g *Gateway) CreateMonthlyPrice(ctx context.Context, req domain.MonthlyPriceRequest) (*domain.Price, error) {
	amount, err := domain.MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	params := &stripego.PriceParams{
		UnitAmount: stripego.Int64(amount),
		Currency:   stripego.String(g.cfg.Currency),
		Product:    stripego.String(g.cfg.ProductID),
		Recurring: &stripego.PriceRecurringParams{
			Interval: stripego.String(string(stripego.PriceRecurringIntervalMonth)),
		},
	}
	params.Context = ctx
	params.AddMetadata(domain.MetadataOrgName, req.OrganizationName)
	if req.Subdomain != "" {
		params.AddMetadata(domain.MetadataSubdomain, req.Subdomain)
	}

	start := time.Now()
	price, err := g.api.Prices.New(params)
	g.metrics.ObserveExternalCall("stripe.create_price", start, err)
	if err != nil {
		return nil, wrapStripeError("create price", err)
	}

	return &domain.Price{
		ID:         price.ID,
		UnitAmount: price.UnitAmount,
		Currency:   string(price.Currency),
	}, nil
}

// ArchivePrice deactivates a price that no organization references.
func (g *Gateway) ArchivePrice(ctx context.Context, priceID string) error {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil
	}
	params := &stripego.PriceParams{Active: stripego.Bool(false)}
	params.Context = ctx

	start := time.Now()
	_, err := g.api.Prices.Update(priceID, params)
	g.metrics.ObserveExternalCall("stripe.archive_price", start, err)
	if err != nil {
		return wrapStripeError("archive price", err)
	}
	return nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	if strings.TrimSpace(req.PriceID) == "" || strings.TrimSpace(req.OrganizationID) == "" || strings.TrimSpace(req.ContactEmail) == "" {
		return nil, domain.ErrInvalidCheckout
	}
	base, err := domain.NormalizeBaseURL(req.BaseURL)
	if err != nil {
		return nil, err
	}

	params := &stripego.CheckoutSessionParams{
		Mode:               stripego.String(string(stripego.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripego.StringSlice([]string{"card"}),
		LineItems: []*stripego.CheckoutSessionLineItemParams{
			{
				Price:    stripego.String(req.PriceID),
				Quantity: stripego.Int64(1),
			},
		},
		SuccessURL:        stripego.String(domain.SuccessURL(base)),
		CancelURL:         stripego.String(domain.CancelURL(base)),
		CustomerEmail:     stripego.String(req.ContactEmail),
		ClientReferenceID: stripego.String(req.OrganizationID),
		SubscriptionData: &stripego.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{domain.MetadataOrgID: req.OrganizationID},
		},
	}
	params.Context = ctx
	params.AddMetadata(domain.MetadataOrgID, req.OrganizationID)
	params.AddMetadata(domain.MetadataContactName, req.ContactName)
	params.AddMetadata(domain.MetadataContactEmail, req.ContactEmail)
	params.AddMetadata(domain.MetadataContactPhone, req.ContactPhone)

	start := time.Now()
	session, err := g.api.CheckoutSessions.New(params)
	g.metrics.ObserveExternalCall("stripe.create_checkout_session", start, err)
	if err != nil {
		return nil, wrapStripeError("create checkout session", err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no url", domain.ErrExternalService, session.ID)
	}

	out := &domain.CheckoutSession{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// API version mismatches are tolerated; only the fields read here matter.
func (g *Gateway) ConstructEvent(payload []byte, signatureHeader string) (*domain.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, domain.ErrInvalidPayload
	}

	return &domain.Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Data:    event.Data.Raw,
	}, nil
}

func (g *Gateway) ParseCheckoutCompleted(event *domain.Event) (*domain.CheckoutCompleted, error) {
	if event == nil || event.Type != domain.EventTypeCheckoutCompleted {
		return nil, domain.ErrUnexpectedEvent
	}

	var session stripego.CheckoutSession
	if err := json.Unmarshal(event.Data, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	out := &domain.CheckoutCompleted{
		SessionID:         session.ID,
		ClientReferenceID: session.ClientReferenceID,
		CustomerEmail:     session.CustomerEmail,
		Metadata:          session.Metadata,
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %s: %s (%s)", domain.ErrExternalService, op, stripeErr.Msg, stripeErr.Code)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrExternalService, op, err)
}

var _ domain.Gateway = (*Gateway)(nil)
