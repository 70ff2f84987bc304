package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

const maxErrorLength = 500

var validate = validator.New()

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Sender  domain.Sender
	Policy  *config.InvitePolicyHolder
	GenID   *snowflake.Node
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	repo    domain.Repository
	sender  domain.Sender
	policy  *config.InvitePolicyHolder
	genID   *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		repo:    p.Repo,
		sender:  p.Sender,
		policy:  p.Policy,
		genID:   p.GenID,
		clock:   p.Clock,
		log:     p.Log.Named("invitation.service"),
		metrics: p.Metrics,
	}
}

// InviteAdmin records an invitation row for the organization contact and
// hands it to the identity system. The row is created once per
// organization and email; later calls retry delivery until it succeeds.
func (s *service) InviteAdmin(ctx context.Context, cred rls.ServiceCredential, req domain.InviteRequest) (*domain.InviteResult, error) {
	if req.OrgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := validate.Var(req.Email, "required,email"); err != nil {
		return nil, domain.ErrInvalidEmail
	}

	invite, err := s.findOrCreate(ctx, cred, req)
	if err != nil {
		return nil, err
	}
	if invite.Status == domain.StatusSent {
		s.metrics.IncInvite("already_sent")
		return &domain.InviteResult{InvitationID: invite.ID, Status: invite.Status, AlreadySent: true}, nil
	}

	sendErr := s.sender.SendInvite(ctx, domain.Delivery{
		OrgID:       invite.OrgID,
		Email:       invite.Email,
		FullName:    invite.FullName,
		OrgName:     req.OrgName,
		Role:        invite.Role,
		Permissions: permissionFlags(invite.Permissions),
	})

	if sendErr != nil && !errors.Is(sendErr, domain.ErrAlreadyInvited) {
		s.metrics.IncInvite("failed")
		if err := s.markFailed(ctx, cred, invite.ID, sendErr); err != nil {
			s.log.Error("record invite failure", zap.String("org_id", req.OrgID.String()), zap.Error(err))
		}
		s.log.Warn("invite delivery failed",
			zap.String("org_id", req.OrgID.String()),
			zap.Int("attempts", invite.Attempts+1),
			zap.Error(sendErr),
		)
		return nil, fmt.Errorf("%w: %w", domain.ErrInviteFailed, sendErr)
	}

	now := s.clock.Now()
	err = rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).MarkSent(ctx, invite.ID, now)
	})
	if err != nil {
		return nil, s.persistence("mark invitation sent", err)
	}

	result := "sent"
	if sendErr != nil {
		result = "already_invited"
	}
	s.metrics.IncInvite(result)
	s.log.Info("admin invited",
		zap.String("org_id", req.OrgID.String()),
		zap.String("invitation_id", invite.ID.String()),
		zap.String("result", result),
	)
	return &domain.InviteResult{InvitationID: invite.ID, Status: domain.StatusSent}, nil
}

func (s *service) findOrCreate(ctx context.Context, cred rls.ServiceCredential, req domain.InviteRequest) (*domain.Invitation, error) {
	policy := s.policy.Get()
	var invite *domain.Invitation
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByOrgEmail(ctx, req.OrgID, req.Email)
		if err != nil || existing != nil {
			invite = existing
			return err
		}

		now := s.clock.Now()
		perms := make(datatypes.JSONMap, len(policy.Permissions))
		for name, allowed := range policy.Permissions {
			perms[name] = allowed
		}
		invite = &domain.Invitation{
			ID:          s.genID.Generate(),
			OrgID:       req.OrgID,
			Email:       req.Email,
			FullName:    req.FullName,
			Role:        policy.Role,
			Permissions: perms,
			Status:      domain.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return repo.Insert(ctx, invite)
	})
	if err == nil {
		return invite, nil
	}
	if !dbpkg.IsDuplicateKeyErr(err) {
		return nil, s.persistence("create invitation", err)
	}

	// A concurrent caller created the row first.
	err = rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).FindByOrgEmail(ctx, req.OrgID, req.Email)
		invite = found
		return err
	})
	if err != nil {
		return nil, s.persistence("load invitation", err)
	}
	if invite == nil {
		return nil, s.persistence("load invitation", gorm.ErrRecordNotFound)
	}
	return invite, nil
}

func (s *service) markFailed(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID, cause error) error {
	reason := cause.Error()
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	now := s.clock.Now()
	return rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).MarkFailed(ctx, id, reason, now)
	})
}

func (s *service) ListRetryable(ctx context.Context, cred rls.ServiceCredential, filter domain.RetryFilter) ([]domain.Invitation, error) {
	var invites []domain.Invitation
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).ListRetryable(ctx, filter)
		invites = found
		return err
	})
	if err != nil {
		return nil, s.persistence("list retryable invitations", err)
	}
	return invites, nil
}

func (s *service) ListMissingAdmins(ctx context.Context, cred rls.ServiceCredential, activatedBefore time.Time, limit int) ([]domain.PendingAdmin, error) {
	var admins []domain.PendingAdmin
	err := rls.Transaction(ctx, s.db, cred, func(tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).ListMissingAdmins(ctx, activatedBefore, limit)
		admins = found
		return err
	})
	if err != nil {
		return nil, s.persistence("list missing admin invitations", err)
	}
	return admins, nil
}

func (s *service) persistence(op string, err error) error {
	if errors.Is(err, rls.ErrInvalidCredential) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func permissionFlags(stored datatypes.JSONMap) map[string]bool {
	flags := make(map[string]bool, len(stored))
	for name, value := range stored {
		allowed, _ := value.(bool)
		flags[name] = allowed
	}
	return flags
}
