package billing

import (
	"github.com/smallbiznis/clubhouse/internal/billing/domain"
	"github.com/smallbiznis/clubhouse/internal/billing/stripe"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billing",
	fx.Provide(
		newGateway,
		func(g domain.Gateway) domain.PriceProvisioner { return g },
		func(g domain.Gateway) domain.CheckoutSessionFactory { return g },
		func(g domain.Gateway) domain.EventVerifier { return g },
	),
)

func newGateway(cfg config.Config, log *zap.Logger, m *metrics.Metrics) (domain.Gateway, error) {
	return stripe.New(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		ProductID:     cfg.Stripe.ProductID,
		Currency:      cfg.Stripe.Currency,
		APIURL:        cfg.Stripe.APIURL,
	}, log, m)
}
