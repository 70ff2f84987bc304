package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/organization/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, org *domain.Organization) error {
	return r.db.WithContext(ctx).Create(org).Error
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) SubdomainExists(ctx context.Context, subdomain string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("subdomain = ?", subdomain).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) UpdateCheckout(ctx context.Context, id snowflake.ID, ref domain.CheckoutRef, now time.Time) (int64, error) {
	var expiresAt *time.Time
	if !ref.ExpiresAt.IsZero() {
		expiresAt = &ref.ExpiresAt
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ? AND subscription_status = ? AND onboarding_step <> ?",
			id, domain.SubscriptionStatusPendingPayment, domain.OnboardingStepAbandoned).
		Updates(map[string]any{
			"checkout_session_id": ref.SessionID,
			"checkout_url":        ref.URL,
			"checkout_expires_at": expiresAt,
			"onboarding_step":     domain.OnboardingStepCheckoutCreated,
			"onboarding_attempts": gorm.Expr("onboarding_attempts + 1"),
			"updated_at":          now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) IncrementAttempts(ctx context.Context, id snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"onboarding_attempts": gorm.Expr("onboarding_attempts + 1"),
			"updated_at":          now,
		}).Error
}

// Activate binds the gateway identifiers in one statement. Rows that already
// carry identifiers are left alone; the caller tells a replay from a
// conflict by re-reading the row.
func (r *repository) Activate(ctx context.Context, id snowflake.ID, ids domain.ExternalIDs, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ? AND subscription_status = ? AND stripe_customer_id IS NULL AND stripe_subscription_id IS NULL",
			id, domain.SubscriptionStatusPendingPayment).
		Updates(map[string]any{
			"subscription_status":    domain.SubscriptionStatusActive,
			"payment_status":         domain.PaymentStatusGoodStanding,
			"stripe_customer_id":     ids.CustomerID,
			"stripe_subscription_id": ids.SubscriptionID,
			"onboarding_step":        domain.OnboardingStepActivated,
			"activated_at":           now,
			"abandoned_at":           nil,
			"updated_at":             now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkAbandoned(ctx context.Context, id snowflake.ID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Organization{}).
		Where("id = ? AND subscription_status = ? AND onboarding_step IN ?", id,
			domain.SubscriptionStatusPendingPayment,
			[]domain.OnboardingStep{domain.OnboardingStepPriceCreated, domain.OnboardingStepCheckoutCreated}).
		Updates(map[string]any{
			"onboarding_step": domain.OnboardingStepAbandoned,
			"abandoned_at":    now,
			"updated_at":      now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListResumable(ctx context.Context, filter domain.ResumableFilter) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := r.db.WithContext(ctx).
		Where("subscription_status = ? AND created_at <= ? AND onboarding_attempts < ?",
			domain.SubscriptionStatusPendingPayment, filter.CreatedBefore, filter.MaxAttempts).
		Where("(onboarding_step = ? OR (onboarding_step = ? AND checkout_expires_at IS NOT NULL AND checkout_expires_at <= ?))",
			domain.OnboardingStepPriceCreated, domain.OnboardingStepCheckoutCreated, filter.Now).
		Order("created_at ASC").
		Limit(filter.Limit).
		Find(&orgs).Error
	return orgs, err
}

func (r *repository) ListAbandonable(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := r.db.WithContext(ctx).
		Where("subscription_status = ? AND created_at <= ? AND onboarding_step IN ?",
			domain.SubscriptionStatusPendingPayment, createdBefore,
			[]domain.OnboardingStep{domain.OnboardingStepPriceCreated, domain.OnboardingStepCheckoutCreated}).
		Order("created_at ASC").
		Limit(limit).
		Find(&orgs).Error
	return orgs, err
}
