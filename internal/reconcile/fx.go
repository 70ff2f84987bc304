package reconcile

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reconcile",
	fx.Provide(ProvideConfig),
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(New),
	fx.Invoke(Schedule),
)

// Schedule registers the sweep with a cron runner tied to the app
// lifecycle. Overlapping runs are skipped.
func Schedule(lc fx.Lifecycle, cfg Config, sweeper *Sweeper, log *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	cronLog := cronLogger{log: log.Named("reconcile.cron")}
	runner := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := runner.AddFunc(cfg.Schedule, func() {
		if _, err := sweeper.RunOnce(ctx); err != nil {
			log.Warn("reconcile run failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runner.Start()
			log.Info("reconcile sweep scheduled", zap.String("schedule", cfg.Schedule))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-runner.Stop().Done():
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return nil
}

type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
