package identity

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
	"github.com/smallbiznis/clubhouse/internal/providers/email"
)

var Module = fx.Module("providers.identity",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, mail email.Provider, log *zap.Logger) (domain.Sender, error) {
	switch cfg.Identity.Provider {
	case config.IdentityProviderGoTrue:
		sender, err := NewGoTrueSender(GoTrueConfig{
			URL:            cfg.Identity.URL,
			ServiceRoleKey: cfg.Identity.ServiceRoleKey,
			RedirectURL:    cfg.Identity.RedirectURL,
			MaxRetries:     cfg.Identity.MaxRetries,
			RetryInterval:  cfg.Identity.RetryInterval,
		}, log)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.IdentityProviderSMTP:
		return NewEmailSender(mail, cfg.Identity.RedirectURL, log), nil
	case config.IdentityProviderNoop, "":
		return NewNoopSender(log), nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}
