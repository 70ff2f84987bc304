package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/clubhouse/internal/billing/domain"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
	"github.com/smallbiznis/clubhouse/internal/onboarding/domain"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	"github.com/smallbiznis/clubhouse/internal/subdomain"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

const defaultCallTimeout = 10 * time.Second

type Params struct {
	fx.In

	Orgs     orgdomain.Service
	Prices   billingdomain.PriceProvisioner
	Checkout billingdomain.CheckoutSessionFactory
	Cred     rls.ServiceCredential
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics     `optional:"true"`
	Tracer   trace.TracerProvider `optional:"true"`
}

type service struct {
	orgs             orgdomain.Service
	prices           billingdomain.PriceProvisioner
	checkout         billingdomain.CheckoutSessionFactory
	cred             rls.ServiceCredential
	allocator        *subdomain.Allocator
	baseURL          string
	defaultStorageGB int
	callTimeout      time.Duration
	log              *zap.Logger
	metrics          *metrics.Metrics
	tracer           trace.Tracer
}

func NewService(p Params) domain.Service {
	timeout := p.Config.Onboarding.ExternalCallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	storage := p.Config.Onboarding.DefaultStorageLimitGB
	if storage <= 0 {
		storage = orgdomain.DefaultStorageLimitGB
	}
	tp := p.Tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	s := &service{
		orgs:             p.Orgs,
		prices:           p.Prices,
		checkout:         p.Checkout,
		cred:             p.Cred,
		baseURL:          p.Config.Onboarding.BaseURL,
		defaultStorageGB: storage,
		callTimeout:      timeout,
		log:              p.Log.Named("onboarding.service"),
		metrics:          p.Metrics,
		tracer:           tp.Tracer("github.com/smallbiznis/clubhouse/internal/onboarding"),
	}
	s.allocator = subdomain.NewAllocator(subdomain.CheckerFunc(func(ctx context.Context, value string) (bool, error) {
		return s.orgs.SubdomainExists(ctx, s.cred, value)
	}))
	return s
}

func (s *service) Provision(ctx context.Context, req domain.Request) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "onboarding.Provision")
	defer span.End()

	create := orgdomain.CreateRequest{
		Name:           req.Name,
		ContactName:    req.ContactName,
		ContactEmail:   req.ContactEmail,
		ContactPhone:   req.ContactPhone,
		Address:        req.Address,
		City:           req.City,
		State:          req.State,
		Zip:            req.Zip,
		MonthlyFee:     req.MonthlyFee,
		StorageLimitGB: req.StorageLimitGB,
	}
	create, err := orgdomain.NormalizeCreate(create, s.defaultStorageGB)
	if err != nil {
		return nil, s.fail(span, "validation_error", err)
	}
	if _, err := billingdomain.MinorUnits(create.MonthlyFee); err != nil {
		return nil, s.fail(span, "validation_error", orgdomain.ErrInvalidMonthlyFee)
	}

	alloc, err := s.allocator.Allocate(ctx, create.Name)
	if err != nil {
		if errors.Is(err, subdomain.ErrInvalidName) {
			err = orgdomain.ErrInvalidName
		}
		return nil, s.fail(span, allocationOutcome(err), err)
	}
	span.SetAttributes(attribute.String("subdomain", alloc.Subdomain))

	var price *billingdomain.Price
	err = s.external(ctx, func(ctx context.Context) error {
		var err error
		price, err = s.prices.CreateMonthlyPrice(ctx, billingdomain.MonthlyPriceRequest{
			Amount:           create.MonthlyFee,
			OrganizationName: create.Name,
			Subdomain:        alloc.Subdomain,
		})
		return err
	})
	if err != nil {
		return nil, s.fail(span, "price_failed", err)
	}
	create.StripePriceID = price.ID

	org, err := s.insert(ctx, create, alloc)
	if err != nil {
		s.archiveOrphan(ctx, price.ID)
		return nil, s.fail(span, insertOutcome(err), err)
	}
	span.SetAttributes(attribute.String("org_id", org.ID.String()))

	result, err := s.openCheckout(ctx, org)
	if err != nil {
		return nil, s.fail(span, "checkout_failed", err)
	}

	s.metrics.IncProvisioning("success")
	s.log.Info("organization provisioned",
		zap.String("org_id", org.ID.String()),
		zap.String("subdomain", org.Subdomain),
		zap.String("price_id", price.ID),
	)
	return result, nil
}

// insert walks the allocator forward when the unique index reports the
// candidate was taken between the check and the insert.
func (s *service) insert(ctx context.Context, create orgdomain.CreateRequest, alloc subdomain.Allocation) (*orgdomain.Organization, error) {
	for {
		create.Subdomain = alloc.Subdomain
		org, err := s.orgs.Create(ctx, s.cred, create)
		if err == nil {
			return org, nil
		}
		if !errors.Is(err, orgdomain.ErrSubdomainTaken) {
			return nil, err
		}
		s.log.Info("subdomain taken at insert, trying next candidate", zap.String("subdomain", alloc.Subdomain))
		alloc, err = s.allocator.Next(ctx, alloc)
		if err != nil {
			return nil, err
		}
	}
}

// openCheckout creates a session for a stored organization and records it.
// A failure leaves the row for the reconciliation sweep.
func (s *service) openCheckout(ctx context.Context, org *orgdomain.Organization) (*domain.Result, error) {
	if org.StripePriceID == nil || *org.StripePriceID == "" {
		return nil, orgdomain.ErrInvalidPrice
	}

	var session *billingdomain.CheckoutSession
	err := s.external(ctx, func(ctx context.Context) error {
		var err error
		session, err = s.checkout.CreateCheckoutSession(ctx, billingdomain.CheckoutRequest{
			PriceID:        *org.StripePriceID,
			OrganizationID: org.ID.String(),
			ContactName:    org.ContactName,
			ContactEmail:   org.ContactEmail,
			ContactPhone:   deref(org.ContactPhone),
			BaseURL:        s.baseURL,
		})
		return err
	})
	if err != nil {
		if recErr := s.orgs.RecordCheckoutFailure(ctx, s.cred, org.ID); recErr != nil {
			s.log.Error("record checkout failure", zap.String("org_id", org.ID.String()), zap.Error(recErr))
		}
		s.log.Warn("checkout session failed",
			zap.String("org_id", org.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	err = s.orgs.RecordCheckout(ctx, s.cred, org.ID, orgdomain.CheckoutRef{
		SessionID: session.ID,
		URL:       session.URL,
		ExpiresAt: session.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		OrgID:             org.ID,
		OrgName:           org.Name,
		Subdomain:         org.Subdomain,
		PaymentURL:        session.URL,
		CheckoutSessionID: session.ID,
	}, nil
}

func (s *service) ResumeCheckout(ctx context.Context, orgID snowflake.ID) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "onboarding.ResumeCheckout",
		trace.WithAttributes(attribute.String("org_id", orgID.String())))
	defer span.End()

	org, err := s.orgs.GetByID(ctx, s.cred, orgID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	if org.SubscriptionStatus != orgdomain.SubscriptionStatusPendingPayment ||
		org.OnboardingStep == orgdomain.OnboardingStepAbandoned {
		return nil, recordSpanError(span, orgdomain.ErrNotPending)
	}

	result, err := s.openCheckout(ctx, org)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	s.log.Info("checkout reissued",
		zap.String("org_id", org.ID.String()),
		zap.Int("attempts", org.OnboardingAttempts+1),
	)
	return result, nil
}

func (s *service) Get(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	return s.orgs.GetByID(ctx, s.cred, orgID)
}

func (s *service) Abandon(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	org, err := s.orgs.MarkAbandoned(ctx, s.cred, orgID)
	if err != nil {
		return nil, err
	}
	if org.StripePriceID != nil {
		s.archiveOrphan(ctx, *org.StripePriceID)
	}
	s.log.Info("organization abandoned", zap.String("org_id", org.ID.String()))
	return org, nil
}

// archiveOrphan deactivates a price nothing will use. Failures are logged;
// an active but unused price is harmless.
func (s *service) archiveOrphan(ctx context.Context, priceID string) {
	ctx = context.WithoutCancel(ctx)
	err := s.external(ctx, func(ctx context.Context) error {
		return s.prices.ArchivePrice(ctx, priceID)
	})
	if err != nil {
		s.log.Warn("archive orphaned price", zap.String("price_id", priceID), zap.Error(err))
	}
}

func (s *service) external(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, billingdomain.ErrExternalService) {
		return errors.Join(billingdomain.ErrExternalService, err)
	}
	return err
}

func (s *service) fail(span trace.Span, outcome string, err error) error {
	s.metrics.IncProvisioning(outcome)
	return recordSpanError(span, err)
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func allocationOutcome(err error) string {
	switch {
	case errors.Is(err, subdomain.ErrAllocationExhausted):
		return "allocation_exhausted"
	case orgdomain.IsValidationError(err):
		return "validation_error"
	default:
		return "persistence_failed"
	}
}

func insertOutcome(err error) string {
	if errors.Is(err, subdomain.ErrAllocationExhausted) {
		return "allocation_exhausted"
	}
	return "persistence_failed"
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
