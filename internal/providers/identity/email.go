package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/providers/email"
)

const inviteTemplate = "invite_admin"

// EmailSender mails the invitation directly instead of going through an
// auth server.
type EmailSender struct {
	mail      email.Provider
	acceptURL string
	log       *zap.Logger
}

func NewEmailSender(mail email.Provider, acceptURL string, log *zap.Logger) *EmailSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailSender{mail: mail, acceptURL: acceptURL, log: log.Named("identity.email")}
}

func (s *EmailSender) SendInvite(ctx context.Context, delivery domain.Delivery) error {
	err := s.mail.SendTemplate(ctx, []string{delivery.Email}, inviteTemplate, map[string]any{
		"full_name":   delivery.FullName,
		"org_name":    delivery.OrgName,
		"role":        delivery.Role,
		"permissions": delivery.Permissions,
		"accept_url":  s.acceptURL,
	})
	if err != nil {
		return err
	}
	s.log.Info("invite mailed", zap.String("org_id", delivery.OrgID.String()))
	return nil
}
