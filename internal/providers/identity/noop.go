package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
)

// NoopSender records invitations in the log only.
type NoopSender struct {
	log *zap.Logger
}

func NewNoopSender(log *zap.Logger) *NoopSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoopSender{log: log.Named("identity.noop")}
}

func (s *NoopSender) SendInvite(_ context.Context, delivery domain.Delivery) error {
	s.log.Info("invite skipped, no identity provider configured",
		zap.String("org_id", delivery.OrgID.String()),
		zap.String("role", delivery.Role),
	)
	return nil
}
