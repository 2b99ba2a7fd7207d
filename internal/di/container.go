package di

import (
	"io"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-guard/internal/adapters/api"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/cron"
	"github.com/mikey/phish-guard/internal/factory"
	"github.com/mikey/phish-guard/internal/logging"
	"github.com/mikey/phish-guard/internal/ports"
	"github.com/mikey/phish-guard/internal/quarantine"
	"github.com/mikey/phish-guard/internal/tracing"
)

// BuildContainer creates and configures the dependency injection container of the daemon
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(config.New); err != nil {
		return nil, err
	}
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}
	if err := providePipeline(container); err != nil {
		return nil, err
	}

	err := provideAll(container,
		func(logger *zap.Logger) (io.Closer, error) {
			return tracing.InitGlobalTracer(logger)
		},
		func(f *factory.FilterFactory, svc *core.DetectionService) *api.Server {
			return f.CreateAPIServer(svc)
		},
		func(f *factory.FilterFactory, svc *core.DetectionService) ports.EmailFilter {
			return f.CreateEmailFilter(svc)
		},
		func(cfg *config.Config, m *quarantine.Manager, svc *core.DetectionService, scorer core.Scorer, logger *zap.Logger) (*cron.CronManager, error) {
			q, err := cfg.GetQuarantine()
			if err != nil {
				return nil, err
			}
			var reloader cron.Reloader
			if _, ok := scorer.(core.ModelReloader); ok {
				reloader = svc
			}
			return cron.NewCronManager(cron.Schedules{
				ExpirySweep: q.ExpirySweep,
				ModelReload: cfg.GetModels().ReloadSchedule,
			}, m, reloader, logger), nil
		},
	)
	if err != nil {
		return nil, err
	}
	return container, nil
}
