package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/clubhouse/internal/billing/domain"
	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/migration"
	"github.com/smallbiznis/clubhouse/internal/onboarding/domain"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	orgrepo "github.com/smallbiznis/clubhouse/internal/organization/repository"
	orgservice "github.com/smallbiznis/clubhouse/internal/organization/service"
	"github.com/smallbiznis/clubhouse/internal/subdomain"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

type fakeGateway struct {
	mu          sync.Mutex
	prices      []billingdomain.MonthlyPriceRequest
	archived    []string
	checkouts   []billingdomain.CheckoutRequest
	priceErr    error
	checkoutErr error
}

func (g *fakeGateway) CreateMonthlyPrice(_ context.Context, req billingdomain.MonthlyPriceRequest) (*billingdomain.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.priceErr != nil {
		return nil, g.priceErr
	}
	g.prices = append(g.prices, req)
	amount, err := billingdomain.MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}
	return &billingdomain.Price{ID: fmt.Sprintf("price_%d", len(g.prices)), UnitAmount: amount, Currency: "usd"}, nil
}

func (g *fakeGateway) ArchivePrice(_ context.Context, priceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.archived = append(g.archived, priceID)
	return nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req billingdomain.CheckoutRequest) (*billingdomain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.checkouts = append(g.checkouts, req)
	id := fmt.Sprintf("cs_test_%d", len(g.checkouts))
	return &billingdomain.CheckoutSession{
		ID:        id,
		URL:       "https://checkout.stripe.test/pay/" + id,
		ExpiresAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}, nil
}

// racyOrgs hides existing subdomains from the pre-check, as if another
// request inserted them between the check and the insert.
type racyOrgs struct {
	orgdomain.Service
}

func (racyOrgs) SubdomainExists(context.Context, rls.ServiceCredential, string) (bool, error) {
	return false, nil
}

type fixture struct {
	db      *gorm.DB
	orgs    orgdomain.Service
	gateway *fakeGateway
	cred    rls.ServiceCredential
	cfg     config.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	cred, err := rls.NewServiceCredential("test")
	require.NoError(t, err)

	cfg := config.Config{Onboarding: config.OnboardingConfig{
		BaseURL:               "clubs.example.com",
		DefaultStorageLimitGB: 1,
		ExternalCallTimeout:   time.Second,
	}}
	orgs := orgservice.NewService(orgservice.Params{
		DB:     conn,
		Repo:   orgrepo.NewRepository(conn),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Log:    zap.NewNop(),
		Config: cfg,
	})
	return fixture{db: conn, orgs: orgs, gateway: &fakeGateway{}, cred: cred, cfg: cfg}
}

func (f fixture) service(orgs orgdomain.Service) domain.Service {
	if orgs == nil {
		orgs = f.orgs
	}
	return NewService(Params{
		Orgs:     orgs,
		Prices:   f.gateway,
		Checkout: f.gateway,
		Cred:     f.cred,
		Config:   f.cfg,
		Log:      zap.NewNop(),
	})
}

func denverHiking() domain.Request {
	return domain.Request{
		Name:         "Denver Hiking",
		MonthlyFee:   decimal.RequireFromString("150"),
		ContactEmail: "a@b.com",
		ContactName:  "John Wick",
		ContactPhone: "555-0102",
	}
}

func (f fixture) countOrgs(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&orgdomain.Organization{}).Count(&n).Error)
	return n
}

func TestProvisionCreatesPendingOrganization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service(nil).Provision(ctx, denverHiking())
	require.NoError(t, err)

	assert.Equal(t, "denver-hiking", res.Subdomain)
	assert.Equal(t, "Denver Hiking", res.OrgName)
	assert.NotEmpty(t, res.PaymentURL)
	assert.NotZero(t, res.OrgID)

	org, err := f.orgs.GetByID(ctx, f.cred, res.OrgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.SubscriptionStatusPendingPayment, org.SubscriptionStatus)
	assert.Equal(t, orgdomain.PaymentStatusPending, org.PaymentStatus)
	assert.Equal(t, orgdomain.OnboardingStepCheckoutCreated, org.OnboardingStep)
	assert.Equal(t, 1, org.OnboardingAttempts)
	require.NotNil(t, org.StripePriceID)
	assert.Equal(t, "price_1", *org.StripePriceID)
	require.NotNil(t, org.CheckoutURL)
	assert.Equal(t, res.PaymentURL, *org.CheckoutURL)

	require.Len(t, f.gateway.prices, 1)
	assert.True(t, f.gateway.prices[0].Amount.Equal(decimal.NewFromInt(150)))
	require.Len(t, f.gateway.checkouts, 1)
	checkout := f.gateway.checkouts[0]
	assert.Equal(t, res.OrgID.String(), checkout.OrganizationID)
	assert.Equal(t, "a@b.com", checkout.ContactEmail)
	assert.Equal(t, "John Wick", checkout.ContactName)
	assert.Equal(t, "555-0102", checkout.ContactPhone)
	assert.Equal(t, "clubs.example.com", checkout.BaseURL)
}

func TestProvisionDefaultsStorageWhenConfigIsZero(t *testing.T) {
	f := newFixture(t)
	f.cfg.Onboarding.DefaultStorageLimitGB = 0
	ctx := context.Background()

	res, err := f.service(nil).Provision(ctx, denverHiking())
	require.NoError(t, err)

	org, err := f.orgs.GetByID(ctx, f.cred, res.OrgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.DefaultStorageLimitGB, org.StorageLimitGB)
}

func TestProvisionSuffixesCollidingSubdomain(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil)

	first, err := svc.Provision(context.Background(), denverHiking())
	require.NoError(t, err)
	second, err := svc.Provision(context.Background(), denverHiking())
	require.NoError(t, err)

	assert.Equal(t, "denver-hiking", first.Subdomain)
	assert.Equal(t, "denver-hiking-1", second.Subdomain)
	assert.NotEqual(t, first.OrgID, second.OrgID)
}

func TestProvisionRetriesOnInsertConflict(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(nil).Provision(context.Background(), denverHiking())
	require.NoError(t, err)

	res, err := f.service(racyOrgs{f.orgs}).Provision(context.Background(), denverHiking())
	require.NoError(t, err)
	assert.Equal(t, "denver-hiking-1", res.Subdomain)
	assert.Empty(t, f.gateway.archived)
}

func TestProvisionExhaustedArchivesPrice(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil)
	for i := 0; i <= subdomain.MaxSuffix; i++ {
		_, err := svc.Provision(context.Background(), denverHiking())
		require.NoError(t, err)
	}

	_, err := svc.Provision(context.Background(), denverHiking())
	require.ErrorIs(t, err, subdomain.ErrAllocationExhausted)
	assert.Len(t, f.gateway.prices, subdomain.MaxSuffix+1)

	_, err = f.service(racyOrgs{f.orgs}).Provision(context.Background(), denverHiking())
	require.ErrorIs(t, err, subdomain.ErrAllocationExhausted)
	assert.Equal(t, []string{fmt.Sprintf("price_%d", subdomain.MaxSuffix+2)}, f.gateway.archived)
	assert.Equal(t, int64(subdomain.MaxSuffix+1), f.countOrgs(t))
}

func TestProvisionValidationHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Request)
		want   error
	}{
		{"missing name", func(r *domain.Request) { r.Name = " " }, orgdomain.ErrInvalidName},
		{"unsluggable name", func(r *domain.Request) { r.Name = "!!!" }, orgdomain.ErrInvalidName},
		{"missing contact", func(r *domain.Request) { r.ContactName = "" }, orgdomain.ErrInvalidContactName},
		{"bad email", func(r *domain.Request) { r.ContactEmail = "nope" }, orgdomain.ErrInvalidContactEmail},
		{"zero fee", func(r *domain.Request) { r.MonthlyFee = decimal.Zero }, orgdomain.ErrInvalidMonthlyFee},
		{"fee rounds to zero", func(r *domain.Request) { r.MonthlyFee = decimal.RequireFromString("0.004") }, orgdomain.ErrInvalidMonthlyFee},
		{"negative storage", func(r *domain.Request) { r.StorageLimitGB = -1 }, orgdomain.ErrInvalidStorageLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := denverHiking()
			tc.mutate(&req)

			_, err := f.service(nil).Provision(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, orgdomain.IsValidationError(err))
			assert.Empty(t, f.gateway.prices)
			assert.Zero(t, f.countOrgs(t))
		})
	}
}

func TestProvisionPriceFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.gateway.priceErr = fmt.Errorf("%w: create price: boom", billingdomain.ErrExternalService)

	_, err := f.service(nil).Provision(context.Background(), denverHiking())
	require.ErrorIs(t, err, billingdomain.ErrExternalService)
	assert.Zero(t, f.countOrgs(t))
}

func TestProvisionCheckoutFailureLeavesRowForSweep(t *testing.T) {
	f := newFixture(t)
	f.gateway.checkoutErr = fmt.Errorf("%w: create checkout session: timeout", billingdomain.ErrExternalService)
	svc := f.service(nil)

	_, err := svc.Provision(context.Background(), denverHiking())
	require.ErrorIs(t, err, billingdomain.ErrExternalService)

	var org orgdomain.Organization
	require.NoError(t, f.db.First(&org).Error)
	assert.Equal(t, orgdomain.OnboardingStepPriceCreated, org.OnboardingStep)
	assert.Equal(t, 1, org.OnboardingAttempts)
	assert.Nil(t, org.CheckoutSessionID)
	assert.Empty(t, f.gateway.archived)

	f.gateway.checkoutErr = nil
	res, err := svc.ResumeCheckout(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, "denver-hiking", res.Subdomain)
	assert.NotEmpty(t, res.PaymentURL)

	reloaded, err := svc.Get(context.Background(), org.ID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.OnboardingStepCheckoutCreated, reloaded.OnboardingStep)
	assert.Equal(t, 2, reloaded.OnboardingAttempts)
}

func TestResumeCheckoutRejectsActiveOrganization(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil)
	res, err := svc.Provision(context.Background(), denverHiking())
	require.NoError(t, err)

	_, err = f.orgs.Activate(context.Background(), f.cred, res.OrgID, orgdomain.ExternalIDs{
		CustomerID: "cus_1", SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	_, err = svc.ResumeCheckout(context.Background(), res.OrgID)
	assert.ErrorIs(t, err, orgdomain.ErrNotPending)

	_, err = svc.ResumeCheckout(context.Background(), snowflake.ID(999))
	assert.ErrorIs(t, err, orgdomain.ErrNotFound)
}

func TestAbandonArchivesPrice(t *testing.T) {
	f := newFixture(t)
	svc := f.service(nil)
	res, err := svc.Provision(context.Background(), denverHiking())
	require.NoError(t, err)

	org, err := svc.Abandon(context.Background(), res.OrgID)
	require.NoError(t, err)
	assert.Equal(t, orgdomain.OnboardingStepAbandoned, org.OnboardingStep)
	assert.Equal(t, []string{"price_1"}, f.gateway.archived)

	_, err = svc.ResumeCheckout(context.Background(), res.OrgID)
	assert.ErrorIs(t, err, orgdomain.ErrNotPending)
}

func TestExternalTimeoutIsExternalServiceError(t *testing.T) {
	f := newFixture(t)
	f.cfg.Onboarding.ExternalCallTimeout = 10 * time.Millisecond
	s := f.service(nil).(*service)

	err := s.external(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, billingdomain.ErrExternalService)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
