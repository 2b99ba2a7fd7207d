package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/phish-guard/internal/analysis"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/factory"
	"github.com/mikey/phish-guard/internal/features"
	"github.com/mikey/phish-guard/internal/fusion"
	"github.com/mikey/phish-guard/internal/quarantine"
	"github.com/mikey/phish-guard/internal/whitelist"
)

// serviceParams collects the detection service dependencies
type serviceParams struct {
	dig.In

	Config         *config.Config
	Logger         *zap.Logger
	Extractor      core.FeatureExtractor
	Parser         core.MessageParser
	Scorer         core.Scorer
	URLAnalyzer    core.URLAnalyzer
	HeaderAnalyzer core.HeaderAnalyzer
	Classifier     core.RiskClassifier
	Quarantine     core.QuarantineManager
	Store          core.Store
	Cache          core.CacheRepository
}

// providePipeline registers everything between the configuration and the
// detection service; callers provide *config.Config and *zap.Logger
func providePipeline(container *dig.Container) error {
	return provideAll(container,
		factory.NewLLMFactory,
		factory.NewCacheFactory,
		factory.NewStoreFactory,
		factory.NewScorerFactory,
		factory.NewEnrichmentFactory,
		factory.NewEventsFactory,
		factory.NewFilterFactory,

		func(f *factory.StoreFactory) (core.Store, error) {
			return f.CreateStore(context.Background())
		},
		func(f *factory.CacheFactory) (core.CacheRepository, error) {
			return f.CreateCacheRepository()
		},
		func(f *factory.EventsFactory) (core.EventPublisher, error) {
			return f.CreatePublisher()
		},
		func(f *factory.ScorerFactory) (core.Scorer, error) {
			return f.CreateScorer(context.Background())
		},

		func(cfg *config.Config, logger *zap.Logger) *whitelist.Checker {
			return whitelist.NewChecker(cfg.GetFeatures().TrustedDomains, logger)
		},
		func(cfg *config.Config, f *factory.EnrichmentFactory, trusted *whitelist.Checker, logger *zap.Logger) (*features.Extractor, error) {
			enr, err := cfg.GetEnrichment()
			if err != nil {
				return nil, err
			}
			domainAge, err := f.CreateDomainAgeLookup()
			if err != nil {
				return nil, err
			}
			spf, err := f.CreateSPFLookup()
			if err != nil {
				return nil, err
			}
			feat := cfg.GetFeatures()
			return features.NewExtractor(features.Options{
				SuspiciousTLDs:    feat.SuspiciousTLDs,
				Shorteners:        feat.Shorteners,
				EnrichmentEnabled: enr.Enabled,
				LookupTimeout:     enr.Timeout,
			}, domainAge, spf, trusted, logger), nil
		},
		func(x *features.Extractor) core.FeatureExtractor { return x },
		func(x *features.Extractor) core.MessageParser { return x },
		func(cfg *config.Config, trusted *whitelist.Checker) core.URLAnalyzer {
			feat := cfg.GetFeatures()
			return analysis.NewURLAnalyzer(feat.SuspiciousTLDs, feat.Shorteners, trusted)
		},
		func(logger *zap.Logger) core.HeaderAnalyzer {
			return analysis.NewHeaderAnalyzer(logger)
		},
		func(cfg *config.Config) (core.RiskClassifier, error) {
			th, err := cfg.GetThresholds()
			if err != nil {
				return nil, err
			}
			return fusion.NewClassifier(th), nil
		},

		func(cfg *config.Config, store core.Store, events core.EventPublisher, scorer core.Scorer, logger *zap.Logger) (*quarantine.Manager, error) {
			q, err := cfg.GetQuarantine()
			if err != nil {
				return nil, err
			}
			return quarantine.NewManager(store, events, logger, quarantine.Options{
				Retention: q.Retention,
				Version:   scorer.Version,
			}), nil
		},
		func(m *quarantine.Manager) core.QuarantineManager { return m },

		func(p serviceParams) (*core.DetectionService, error) {
			cacheCfg, err := p.Config.GetCache()
			if err != nil {
				return nil, err
			}
			return core.NewDetectionService(
				p.Extractor,
				p.Parser,
				p.Scorer,
				p.URLAnalyzer,
				p.HeaderAnalyzer,
				p.Classifier,
				p.Quarantine,
				p.Store,
				p.Cache,
				p.Logger,
				core.ServiceOptions{
					CacheEnabled: cacheCfg.Enabled && p.Cache != nil,
					CacheTTL:     cacheCfg.TTL,
					Workers:      p.Config.GetFeatures().Workers,
				},
			), nil
		},
	)
}

func provideAll(container *dig.Container, constructors ...interface{}) error {
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			return err
		}
	}
	return nil
}
