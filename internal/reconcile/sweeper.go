// Package reconcile repairs onboarding that stopped part way: checkout
// links that were never issued or have expired, organizations nobody paid
// for, and administrators whose invitation never went out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/clock"
	invitationdomain "github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
	onboardingdomain "github.com/smallbiznis/clubhouse/internal/onboarding/domain"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

var ErrInvalidConfig = errors.New("reconcile: invalid dependencies")

type Params struct {
	fx.In

	Onboarding onboardingdomain.Service
	Orgs       orgdomain.Service
	Invites    invitationdomain.Service
	Cred       rls.ServiceCredential
	Clock      clock.Clock
	Log        *zap.Logger
	Config     Config
	Locker     *Locker          `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

type Sweeper struct {
	onboarding onboardingdomain.Service
	orgs       orgdomain.Service
	invites    invitationdomain.Service
	cred       rls.ServiceCredential
	clock      clock.Clock
	log        *zap.Logger
	cfg        Config
	locker     *Locker
	metrics    *metrics.Metrics
}

// Report counts what one run did.
type Report struct {
	Skipped        bool `json:"skipped"`
	Abandoned      int  `json:"abandoned"`
	Resumed        int  `json:"resumed"`
	InvitesRetried int  `json:"invites_retried"`
	InvitesIssued  int  `json:"invites_issued"`
	Failures       int  `json:"failures"`
}

func New(p Params) (*Sweeper, error) {
	if p.Onboarding == nil || p.Orgs == nil || p.Invites == nil || p.Clock == nil || p.Log == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		onboarding: p.Onboarding,
		orgs:       p.Orgs,
		invites:    p.Invites,
		cred:       p.Cred,
		clock:      p.Clock,
		log:        p.Log.Named("reconcile").With(zap.String("component", "reconcile")),
		cfg:        p.Config.withDefaults(),
		locker:     p.Locker,
		metrics:    p.Metrics,
	}, nil
}

// RunOnce performs one sweep. When another replica holds the lease the run
// is skipped and reported as such.
func (s *Sweeper) RunOnce(parent context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	report := &Report{}
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			s.metrics.IncReconcileRun("error")
			return nil, fmt.Errorf("acquire reconcile lock: %w", err)
		}
		if !ok {
			s.metrics.IncReconcileRun("skipped")
			s.log.Debug("reconcile lock held elsewhere, skipping run")
			report.Skipped = true
			return report, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.log.Warn("release reconcile lock", zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	err := errors.Join(
		s.runPhase(ctx, "abandon", report, s.abandonStale),
		s.runPhase(ctx, "resume_checkout", report, s.resumeCheckouts),
		s.runPhase(ctx, "retry_invites", report, s.retryInvites),
		s.runPhase(ctx, "missing_invites", report, s.issueMissingInvites),
	)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.IncReconcileRun(result)
	s.log.Info("reconcile run finished",
		zap.Int("abandoned", report.Abandoned),
		zap.Int("resumed", report.Resumed),
		zap.Int("invites_retried", report.InvitesRetried),
		zap.Int("invites_issued", report.InvitesIssued),
		zap.Int("failures", report.Failures),
		zap.Duration("elapsed", s.clock.Now().Sub(start)),
	)
	return report, err
}

func (s *Sweeper) runPhase(ctx context.Context, name string, report *Report, fn func(context.Context, time.Time, *Report) error) error {
	if err := ctx.Err(); err != nil {
		s.log.Warn("reconcile run out of time", zap.String("phase", name))
		return nil
	}
	if err := fn(ctx, s.clock.Now(), report); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Sweeper) abandonStale(ctx context.Context, now time.Time, report *Report) error {
	orgs, err := s.orgs.ListAbandonable(ctx, s.cred, now.Add(-s.cfg.AbandonAfter), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, org := range orgs {
		_, err := s.onboarding.Abandon(ctx, org.ID)
		if errors.Is(err, orgdomain.ErrNotPending) {
			continue
		}
		s.metrics.IncReconcileAction("abandon", err)
		if err != nil {
			report.Failures++
			s.log.Warn("abandon organization", zap.String("org_id", org.ID.String()), zap.Error(err))
			continue
		}
		report.Abandoned++
	}
	return nil
}

func (s *Sweeper) resumeCheckouts(ctx context.Context, now time.Time, report *Report) error {
	orgs, err := s.orgs.ListResumable(ctx, s.cred, orgdomain.ResumableFilter{
		CreatedBefore: now.Add(-s.cfg.GracePeriod),
		Now:           now,
		MaxAttempts:   s.cfg.MaxCheckoutAttempts,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	for _, org := range orgs {
		_, err := s.onboarding.ResumeCheckout(ctx, org.ID)
		if errors.Is(err, orgdomain.ErrNotPending) {
			continue
		}
		s.metrics.IncReconcileAction("resume_checkout", err)
		if err != nil {
			report.Failures++
			s.log.Warn("resume checkout",
				zap.String("org_id", org.ID.String()),
				zap.Int("attempts", org.OnboardingAttempts),
				zap.Error(err),
			)
			continue
		}
		report.Resumed++
	}
	return nil
}

func (s *Sweeper) retryInvites(ctx context.Context, now time.Time, report *Report) error {
	invites, err := s.invites.ListRetryable(ctx, s.cred, invitationdomain.RetryFilter{
		UpdatedBefore: now.Add(-s.cfg.GracePeriod),
		MaxAttempts:   s.cfg.MaxInviteAttempts,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return err
	}
	for _, invite := range invites {
		_, err := s.invites.InviteAdmin(ctx, s.cred, invitationdomain.InviteRequest{
			OrgID:    invite.OrgID,
			Email:    invite.Email,
			FullName: invite.FullName,
		})
		s.metrics.IncReconcileAction("retry_invite", err)
		if err != nil {
			report.Failures++
			s.log.Warn("retry invite", zap.String("org_id", invite.OrgID.String()), zap.Error(err))
			continue
		}
		report.InvitesRetried++
	}
	return nil
}

func (s *Sweeper) issueMissingInvites(ctx context.Context, now time.Time, report *Report) error {
	admins, err := s.invites.ListMissingAdmins(ctx, s.cred, now.Add(-s.cfg.GracePeriod), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, admin := range admins {
		_, err := s.invites.InviteAdmin(ctx, s.cred, invitationdomain.InviteRequest{
			OrgID:    admin.OrgID,
			Email:    admin.ContactEmail,
			FullName: admin.ContactName,
			OrgName:  admin.OrgName,
		})
		s.metrics.IncReconcileAction("issue_invite", err)
		if err != nil {
			report.Failures++
			s.log.Warn("issue missing invite", zap.String("org_id", admin.OrgID.String()), zap.Error(err))
			continue
		}
		report.InvitesIssued++
	}
	return nil
}
