package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/clock"
	"github.com/smallbiznis/clubhouse/internal/config"
	"github.com/smallbiznis/clubhouse/internal/migration"
	"github.com/smallbiznis/clubhouse/internal/observability"
	"github.com/smallbiznis/clubhouse/internal/server"
	"github.com/smallbiznis/clubhouse/pkg/db"
	"github.com/smallbiznis/clubhouse/pkg/rls"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Provide(RegisterSnowflake),
		fx.Provide(RegisterServiceCredential),
		db.Module,
		migration.Module,
		clock.Module,

		// Onboarding, webhooks, reconciliation and the HTTP surface
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// RegisterServiceCredential builds the elevated credential that onboarding
// and webhook writes run under.
func RegisterServiceCredential(cfg config.Config) (rls.ServiceCredential, error) {
	return rls.NewServiceCredential(cfg.ServicePrincipal)
}
