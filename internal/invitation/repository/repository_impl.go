package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
	organizationdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
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

func (r *repository) FindByOrgEmail(ctx context.Context, orgID snowflake.ID, email string) (*domain.Invitation, error) {
	var invite domain.Invitation
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND email = ?", orgID, email).
		Take(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repository) Insert(ctx context.Context, invite *domain.Invitation) error {
	return r.db.WithContext(ctx).Create(invite).Error
}

func (r *repository) MarkSent(ctx context.Context, id snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.StatusSent,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": nil,
			"sent_at":    now,
			"updated_at": now,
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id snowflake.ID, reason string, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("id = ? AND status <> ?", id, domain.StatusSent).
		Updates(map[string]any{
			"status":     domain.StatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": now,
		}).Error
}

func (r *repository) ListRetryable(ctx context.Context, filter domain.RetryFilter) ([]domain.Invitation, error) {
	var invites []domain.Invitation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at <= ? AND attempts < ?",
			[]domain.InvitationStatus{domain.StatusPending, domain.StatusFailed},
			filter.UpdatedBefore, filter.MaxAttempts).
		Order("updated_at ASC").
		Limit(filter.Limit).
		Find(&invites).Error
	return invites, err
}

// ListMissingAdmins finds active organizations whose contact never got an
// invitation row, e.g. because the process died between activation and
// the invite.
func (r *repository) ListMissingAdmins(ctx context.Context, activatedBefore time.Time, limit int) ([]domain.PendingAdmin, error) {
	var rows []struct {
		ID           snowflake.ID
		Name         string
		ContactEmail string
		ContactName  string
	}
	err := r.db.WithContext(ctx).
		Table("organizations AS o").
		Select("o.id, o.name, o.contact_email, o.contact_name").
		Joins("LEFT JOIN organization_invitations AS i ON i.org_id = o.id AND i.email = o.contact_email").
		Where("o.subscription_status = ? AND o.activated_at <= ? AND i.id IS NULL",
			organizationdomain.SubscriptionStatusActive, activatedBefore).
		Order("o.activated_at ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	admins := make([]domain.PendingAdmin, 0, len(rows))
	for _, row := range rows {
		admins = append(admins, domain.PendingAdmin{
			OrgID:        row.ID,
			ContactEmail: row.ContactEmail,
			ContactName:  row.ContactName,
			OrgName:      row.Name,
		})
	}
	return admins, nil
}
