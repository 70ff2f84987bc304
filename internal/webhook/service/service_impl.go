package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/clubhouse/internal/billing/domain"
	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	invitationdomain "github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
	"github.com/smallbiznis/clubhouse/internal/webhook/domain"
	dbpkg "github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

const defaultInviteTimeout = 30 * time.Second

type Params struct {
	fx.In

	DB       *gorm.DB
	Repo     domain.Repository
	Verifier billingdomain.EventVerifier
	Orgs     orgdomain.Service
	Inviter  invitationdomain.Service
	Cred     rls.ServiceCredential
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Log      *zap.Logger
	Metrics  *metrics.Metrics     `optional:"true"`
	Tracer   trace.TracerProvider `optional:"true"`
}

type service struct {
	db            *gorm.DB
	repo          domain.Repository
	verifier      billingdomain.EventVerifier
	orgs          orgdomain.Service
	inviter       invitationdomain.Service
	cred          rls.ServiceCredential
	genID         *snowflake.Node
	clock         clock.Clock
	inviteTimeout time.Duration
	log           *zap.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

func NewService(p Params) domain.Service {
	inviteTimeout := p.Config.Onboarding.ExternalCallTimeout * time.Duration(max(p.Config.Identity.MaxRetries, 1))
	if inviteTimeout <= 0 {
		inviteTimeout = defaultInviteTimeout
	}
	tp := p.Tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &service{
		db:            p.DB,
		repo:          p.Repo,
		verifier:      p.Verifier,
		orgs:          p.Orgs,
		inviter:       p.Inviter,
		cred:          p.Cred,
		genID:         p.GenID,
		clock:         p.Clock,
		inviteTimeout: inviteTimeout,
		log:           p.Log.Named("webhook.service"),
		metrics:       p.Metrics,
		tracer:        tp.Tracer("github.com/smallbiznis/clubhouse/internal/webhook"),
	}
}

func (s *service) Handle(ctx context.Context, payload []byte, signatureHeader string) (*domain.Result, error) {
	ctx, span := s.tracer.Start(ctx, "webhook.Handle")
	defer span.End()

	event, err := s.verifier.ConstructEvent(payload, signatureHeader)
	if err != nil {
		s.metrics.IncWebhookEvent("unverified", "rejected")
		span.SetStatus(codes.Error, "signature verification failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", event.Type),
	)
	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type))

	record, seen := s.receive(ctx, log, event, payload)
	if seen && record != nil && record.ProcessedAt != nil {
		log.Info("event already processed")
		return s.finish(ctx, log, nil, event, domain.OutcomeDuplicateEvent, 0, nil), nil
	}

	if event.Type != billingdomain.EventTypeCheckoutCompleted {
		log.Debug("event type not handled")
		return s.finish(ctx, log, record, event, domain.OutcomeIgnored, 0, nil), nil
	}

	completed, err := s.verifier.ParseCheckoutCompleted(event)
	if err != nil {
		log.Warn("checkout session payload unreadable", zap.Error(err))
		return s.finish(ctx, log, record, event, domain.OutcomeMalformed, 0, nil), nil
	}
	log = log.With(zap.String("session_id", completed.SessionID))
	activation, problem := parseActivation(completed)
	if problem != "" {
		log.Warn("checkout session metadata incomplete", zap.String("problem", problem))
		return s.finish(ctx, log, record, event, domain.OutcomeMalformed, 0, nil), nil
	}
	log = log.With(zap.String("org_id", activation.orgID.String()))
	span.SetAttributes(attribute.String("org_id", activation.orgID.String()))

	activated, err := s.orgs.Activate(ctx, s.cred, activation.orgID, activation.ids)
	switch {
	case errors.Is(err, orgdomain.ErrNotFound):
		log.Warn("checkout completed for unknown organization")
		return s.finish(ctx, log, record, event, domain.OutcomeUnknownOrganization, activation.orgID, nil), nil
	case errors.Is(err, orgdomain.ErrActivationConflict):
		log.Error("organization already bound to different billing identifiers",
			zap.String("customer_id", activation.ids.CustomerID),
			zap.String("subscription_id", activation.ids.SubscriptionID),
		)
		return s.finish(ctx, log, record, event, domain.OutcomeConflict, activation.orgID, nil), nil
	case orgdomain.IsValidationError(err):
		log.Warn("activation rejected", zap.Error(err))
		return s.finish(ctx, log, record, event, domain.OutcomeMalformed, activation.orgID, nil), nil
	case err != nil:
		s.metrics.IncWebhookEvent(event.Type, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		log.Error("activation failed", zap.Error(err))
		return nil, err
	}

	outcome := domain.OutcomeActivated
	if activated.AlreadyActive {
		outcome = domain.OutcomeAlreadyActive
	}

	inviteErr := s.invite(ctx, activation, activated.Organization)
	if inviteErr != nil {
		log.Error("admin invite failed after activation", zap.Error(inviteErr))
	}
	return s.finish(ctx, log, record, event, outcome, activation.orgID, inviteErr), nil
}

func (s *service) invite(ctx context.Context, activation activation, org *orgdomain.Organization) error {
	ctx, cancel := context.WithTimeout(ctx, s.inviteTimeout)
	defer cancel()

	req := invitationdomain.InviteRequest{
		OrgID:    activation.orgID,
		Email:    activation.contactEmail,
		FullName: activation.contactName,
	}
	if org != nil {
		req.OrgName = org.Name
		if req.FullName == "" {
			req.FullName = org.ContactName
		}
	}
	_, err := s.inviter.InviteAdmin(ctx, s.cred, req)
	return err
}

// receive stores the delivery in the receipt log. The log is bookkeeping:
// a failure to write it is logged and processing continues.
func (s *service) receive(ctx context.Context, log *zap.Logger, event *billingdomain.Event, payload []byte) (*domain.EventRecord, bool) {
	record := &domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        domain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}

	var (
		stored *domain.EventRecord
		seen   bool
	)
	err := rls.Transaction(ctx, s.db, s.cred, func(tx *gorm.DB) error {
		var err error
		stored, seen, err = s.repo.WithTx(tx).Receive(ctx, record)
		return err
	})
	if err != nil && dbpkg.IsDuplicateKeyErr(err) {
		err = rls.Transaction(ctx, s.db, s.cred, func(tx *gorm.DB) error {
			var err error
			stored, err = s.repo.WithTx(tx).FindByEvent(ctx, domain.ProviderStripe, event.ID)
			seen = stored != nil
			return err
		})
	}
	if err != nil {
		log.Error("record webhook receipt", zap.Error(err))
		return nil, false
	}
	return stored, seen
}

func (s *service) finish(ctx context.Context, log *zap.Logger, record *domain.EventRecord, event *billingdomain.Event, outcome domain.Outcome, orgID snowflake.ID, inviteErr error) *domain.Result {
	s.metrics.IncWebhookEvent(event.Type, string(outcome))

	if record != nil {
		var org *snowflake.ID
		if orgID != 0 {
			org = &orgID
		}
		err := rls.Transaction(ctx, s.db, s.cred, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).MarkProcessed(ctx, record.ID, outcome, org, s.clock.Now())
		})
		if err != nil {
			log.Error("mark webhook processed", zap.Error(err))
		}
	}

	log.Info("webhook acknowledged", zap.String("outcome", string(outcome)))
	return &domain.Result{
		EventID:     event.ID,
		EventType:   event.Type,
		Outcome:     outcome,
		OrgID:       orgID,
		InviteError: inviteErr,
	}
}

type activation struct {
	orgID        snowflake.ID
	ids          orgdomain.ExternalIDs
	contactEmail string
	contactName  string
}

// parseActivation pulls the correlation fields out of a completed session.
// The session's client_reference_id carries the organization id too; it
// fills in for missing metadata and must agree with it when both are set.
// The checkout customer email stands in for a missing contact_email.
func parseActivation(c *billingdomain.CheckoutCompleted) (activation, string) {
	rawID := strings.TrimSpace(c.Metadata[billingdomain.MetadataOrgID])
	ref := strings.TrimSpace(c.ClientReferenceID)
	switch {
	case rawID == "" && ref == "":
		return activation{}, "missing org_id"
	case rawID == "":
		rawID = ref
	case ref != "" && ref != rawID:
		return activation{}, fmt.Sprintf("org_id %q does not match client_reference_id %q", rawID, ref)
	}
	orgID, err := snowflake.ParseString(rawID)
	if err != nil || orgID <= 0 {
		return activation{}, fmt.Sprintf("invalid org_id %q", rawID)
	}
	email := strings.TrimSpace(c.Metadata[billingdomain.MetadataContactEmail])
	if email == "" {
		email = strings.TrimSpace(c.CustomerEmail)
	}
	if email == "" {
		return activation{}, "missing contact_email"
	}
	if c.CustomerID == "" || c.SubscriptionID == "" {
		return activation{}, "missing customer or subscription"
	}
	return activation{
		orgID:        orgID,
		ids:          orgdomain.ExternalIDs{CustomerID: c.CustomerID, SubscriptionID: c.SubscriptionID},
		contactEmail: email,
		contactName:  strings.TrimSpace(c.Metadata[billingdomain.MetadataContactName]),
	}, ""
}
