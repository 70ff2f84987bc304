package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/invitation/repository"
	"github.com/smallbiznis/clubhouse/internal/migration"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

type fakeSender struct {
	mu         sync.Mutex
	deliveries []domain.Delivery
	errs       []error
}

func (f *fakeSender) SendInvite(_ context.Context, d domain.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, d)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

type fixture struct {
	db     *gorm.DB
	svc    domain.Service
	sender *fakeSender
	cred   rls.ServiceCredential
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := dbpkg.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	cred, err := rls.NewServiceCredential("test")
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sender := &fakeSender{}

	svc := NewService(Params{
		DB:     conn,
		Repo:   repository.NewRepository(conn),
		Sender: sender,
		Policy: config.NewStaticInvitePolicy(config.DefaultInvitePolicy()),
		GenID:  node,
		Clock:  fake,
		Log:    zap.NewNop(),
	})
	return fixture{db: conn, svc: svc, sender: sender, cred: cred, clock: fake}
}

func (f fixture) seedOrganization(t *testing.T, id snowflake.ID, status orgdomain.SubscriptionStatus, activatedAt *time.Time) {
	t.Helper()
	now := f.clock.Now()
	org := &orgdomain.Organization{
		ID:                 id,
		Name:               "Denver Hiking",
		Subdomain:          "club-" + id.String(),
		ContactName:        "Ada Lovelace",
		ContactEmail:       "ada@example.com",
		MonthlyFee:         decimal.RequireFromString("150"),
		StorageLimitGB:     1,
		StorageUsedGB:      decimal.Zero,
		SubscriptionStatus: status,
		PaymentStatus:      orgdomain.PaymentStatusGoodStanding,
		OnboardingStep:     orgdomain.OnboardingStepActivated,
		ActivatedAt:        activatedAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, f.db.Create(org).Error)
}

func adminRequest(orgID snowflake.ID) domain.InviteRequest {
	return domain.InviteRequest{OrgID: orgID, Email: " Ada@Example.com ", FullName: "Ada Lovelace", OrgName: "Denver Hiking"}
}

func TestInviteAdminDeliversPolicy(t *testing.T) {
	f := newFixture(t)
	f.seedOrganization(t, 100, orgdomain.SubscriptionStatusActive, nil)

	res, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
	assert.False(t, res.AlreadySent)

	require.Equal(t, 1, f.sender.count())
	d := f.sender.deliveries[0]
	assert.Equal(t, "ada@example.com", d.Email)
	assert.Equal(t, "admin", d.Role)
	assert.Equal(t, "Denver Hiking", d.OrgName)
	assert.True(t, d.Permissions[config.PermissionCreateEvents])
	assert.True(t, d.Permissions[config.PermissionAddMembers])
	assert.False(t, d.Permissions[config.PermissionUploadDocuments])
	assert.False(t, d.Permissions[config.PermissionCreateAnnouncements])

	var stored domain.Invitation
	require.NoError(t, f.db.First(&stored, "id = ?", res.InvitationID).Error)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.SentAt)
}

func TestInviteAdminIsIdempotentOnceSent(t *testing.T) {
	f := newFixture(t)
	f.seedOrganization(t, 100, orgdomain.SubscriptionStatusActive, nil)

	first, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.NoError(t, err)
	second, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.NoError(t, err)

	assert.True(t, second.AlreadySent)
	assert.Equal(t, first.InvitationID, second.InvitationID)
	assert.Equal(t, 1, f.sender.count())
}

func TestInviteAdminRecordsFailureAndRetries(t *testing.T) {
	f := newFixture(t)
	f.seedOrganization(t, 100, orgdomain.SubscriptionStatusActive, nil)
	f.sender.errs = []error{errors.New("auth server down")}

	_, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.ErrorIs(t, err, domain.ErrInviteFailed)

	var stored domain.Invitation
	require.NoError(t, f.db.First(&stored, "org_id = ?", 100).Error)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "auth server down")

	f.clock.Advance(time.Hour)
	retryable, err := f.svc.ListRetryable(context.Background(), f.cred, domain.RetryFilter{
		UpdatedBefore: f.clock.Now().Add(-time.Minute),
		MaxAttempts:   5,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	res, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.NoError(t, err)
	assert.Equal(t, stored.ID, res.InvitationID)

	require.NoError(t, f.db.First(&stored, "org_id = ?", 100).Error)
	assert.Equal(t, domain.StatusSent, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.LastError)
}

func TestInviteAdminTreatsAlreadyInvitedAsSent(t *testing.T) {
	f := newFixture(t)
	f.seedOrganization(t, 100, orgdomain.SubscriptionStatusActive, nil)
	f.sender.errs = []error{domain.ErrAlreadyInvited}

	res, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(100))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, res.Status)
}

func TestInviteAdminValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.InviteAdmin(context.Background(), f.cred, domain.InviteRequest{Email: "ada@example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = f.svc.InviteAdmin(context.Background(), f.cred, domain.InviteRequest{OrgID: 1, Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	assert.Zero(t, f.sender.count())
}

func TestInviteAdminRejectsInvalidCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.InviteAdmin(context.Background(), rls.ServiceCredential{}, adminRequest(100))
	assert.ErrorIs(t, err, rls.ErrInvalidCredential)
}

func TestListMissingAdmins(t *testing.T) {
	f := newFixture(t)
	activated := f.clock.Now().Add(-time.Hour)
	f.seedOrganization(t, 100, orgdomain.SubscriptionStatusActive, &activated)
	f.seedOrganization(t, 200, orgdomain.SubscriptionStatusActive, &activated)
	f.seedOrganization(t, 300, orgdomain.SubscriptionStatusPendingPayment, nil)

	_, err := f.svc.InviteAdmin(context.Background(), f.cred, adminRequest(200))
	require.NoError(t, err)

	missing, err := f.svc.ListMissingAdmins(context.Background(), f.cred, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, snowflake.ID(100), missing[0].OrgID)
	assert.Equal(t, "ada@example.com", missing[0].ContactEmail)
	assert.Equal(t, "Denver Hiking", missing[0].OrgName)
}
