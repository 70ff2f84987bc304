package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/organization/domain"
	"github.com/smallbiznis/clubhouse/internal/subdomain"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Repo   domain.Repository
	GenID  *snowflake.Node
	Clock  clock.Clock
	Log    *zap.Logger
	Config config.Config
}

type service struct {
	db               *gorm.DB
	repo             domain.Repository
	genID            *snowflake.Node
	clock            clock.Clock
	log              *zap.Logger
	defaultStorageGB int
}

func NewService(p Params) domain.Service {
	storage := p.Config.Onboarding.DefaultStorageLimitGB
	if storage <= 0 {
		storage = domain.DefaultStorageLimitGB
	}
	return &service{
		db:               p.DB,
		repo:             p.Repo,
		genID:            p.GenID,
		clock:            p.Clock,
		log:              p.Log.Named("organization.service"),
		defaultStorageGB: storage,
	}
}

func (s *service) Create(ctx context.Context, cred rls.ServiceCredential, req domain.CreateRequest) (*domain.Organization, error) {
	req, err := domain.NormalizeCreate(req, s.defaultStorageGB)
	if err != nil {
		return nil, err
	}
	if !subdomain.Valid(req.Subdomain) {
		return nil, domain.ErrInvalidSubdomain
	}
	if req.StripePriceID == "" {
		return nil, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	org := &domain.Organization{
		ID:                 s.genID.Generate(),
		Name:               req.Name,
		Subdomain:          req.Subdomain,
		ContactName:        req.ContactName,
		ContactEmail:       req.ContactEmail,
		ContactPhone:       optional(req.ContactPhone),
		Address:            optional(req.Address),
		City:               optional(req.City),
		State:              optional(req.State),
		Zip:                optional(req.Zip),
		MonthlyFee:         req.MonthlyFee.Round(2),
		StorageLimitGB:     req.StorageLimitGB,
		StorageUsedGB:      decimal.Zero,
		FileCount:          0,
		SubscriptionStatus: domain.SubscriptionStatusPendingPayment,
		PaymentStatus:      domain.PaymentStatusPending,
		StripePriceID:      optional(req.StripePriceID),
		OnboardingStep:     domain.OnboardingStepPriceCreated,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Insert(ctx, org)
	})
	if err != nil {
		if dbpkg.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSubdomainTaken
		}
		return nil, s.persistence("insert organization", err)
	}

	s.log.Info("organization created",
		zap.String("org_id", org.ID.String()),
		zap.String("subdomain", org.Subdomain),
	)
	return org, nil
}

func (s *service) GetByID(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) (*domain.Organization, error) {
	if id == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	var org *domain.Organization
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).FindByID(ctx, id)
		org = found
		return err
	})
	if err != nil {
		return nil, s.persistence("load organization", err)
	}
	if org == nil {
		return nil, domain.ErrNotFound
	}
	return org, nil
}

func (s *service) SubdomainExists(ctx context.Context, cred rls.ServiceCredential, value string) (bool, error) {
	var exists bool
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).SubdomainExists(ctx, value)
		exists = found
		return err
	})
	if err != nil {
		return false, s.persistence("check subdomain", err)
	}
	return exists, nil
}

func (s *service) RecordCheckout(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID, ref domain.CheckoutRef) error {
	if id == 0 {
		return domain.ErrInvalidOrganization
	}
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.UpdateCheckout(ctx, id, ref, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 1 {
			return nil
		}
		return notPendingOrMissing(ctx, repo, id)
	})
	return s.classify("record checkout", err)
}

func (s *service) RecordCheckoutFailure(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) error {
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).IncrementAttempts(ctx, id, s.clock.Now())
	})
	if err != nil {
		return s.persistence("record checkout failure", err)
	}
	return nil
}

// Activate binds the gateway identifiers to a pending organization. A replay
// with identical identifiers is a no-op; different identifiers are refused.
func (s *service) Activate(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID, ids domain.ExternalIDs) (*domain.ActivationResult, error) {
	if id == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	ids.CustomerID = strings.TrimSpace(ids.CustomerID)
	ids.SubscriptionID = strings.TrimSpace(ids.SubscriptionID)
	if ids.CustomerID == "" || ids.SubscriptionID == "" {
		return nil, domain.ErrInvalidExternalIDs
	}

	var result *domain.ActivationResult
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.Activate(ctx, id, ids, s.clock.Now())
		if err != nil {
			return err
		}
		org, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if org == nil {
			return domain.ErrNotFound
		}
		switch {
		case rows == 1:
			result = &domain.ActivationResult{Organization: org}
		case ids.Matches(org):
			result = &domain.ActivationResult{Organization: org, AlreadyActive: true}
		default:
			return domain.ErrActivationConflict
		}
		return nil
	})
	if err != nil {
		return nil, s.classify("activate organization", err)
	}

	if !result.AlreadyActive {
		s.log.Info("organization activated", zap.String("org_id", id.String()))
	}
	return result, nil
}

func (s *service) MarkAbandoned(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) (*domain.Organization, error) {
	var org *domain.Organization
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		rows, err := repo.MarkAbandoned(ctx, id, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return notPendingOrMissing(ctx, repo, id)
		}
		org, err = repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.classify("abandon organization", err)
	}
	return org, nil
}

func (s *service) ListResumable(ctx context.Context, cred rls.ServiceCredential, filter domain.ResumableFilter) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).ListResumable(ctx, filter)
		orgs = found
		return err
	})
	if err != nil {
		return nil, s.persistence("list resumable organizations", err)
	}
	return orgs, nil
}

func (s *service) ListAbandonable(ctx context.Context, cred rls.ServiceCredential, createdBefore time.Time, limit int) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).ListAbandonable(ctx, createdBefore, limit)
		orgs = found
		return err
	})
	if err != nil {
		return nil, s.persistence("list abandonable organizations", err)
	}
	return orgs, nil
}

func notPendingOrMissing(ctx context.Context, repo domain.Repository, id snowflake.ID) error {
	org, err := repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if org == nil {
		return domain.ErrNotFound
	}
	return domain.ErrNotPending
}

// classify passes domain outcomes through and wraps everything else as a
// persistence failure.
func (s *service) classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrActivationConflict):
		return err
	default:
		return s.persistence(op, err)
	}
}

func (s *service) persistence(op string, err error) error {
	if errors.Is(err, rls.ErrInvalidCredential) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
