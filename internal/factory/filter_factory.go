package factory

import (
	"os"

	"github.com/mikey/phish-guard/internal/adapters/api"
	"github.com/mikey/phish-guard/internal/adapters/filter"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/ports"
	"go.uber.org/zap"
)

// FilterFactory creates the mail and REST front ends based on configuration
type FilterFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger) *FilterFactory {
	return &FilterFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateEmailFilter creates the Postfix content filter
func (f *FilterFactory) CreateEmailFilter(classifier ports.Classifier) ports.EmailFilter {
	server := f.cfg.GetServer()
	return filter.NewPostfixFilter(classifier, filter.PostfixOptions{
		ListenAddress:   server.ListenAddress,
		ForwardAddress:  server.ForwardAddress,
		DefaultUserID:   server.DefaultUserID,
		HoldQuarantined: server.HoldQuarantined,
		MaxMessageBytes: server.MaxMessageBytes,
		Headers: filter.HeaderNames{
			Phish:        server.Headers.Phish,
			Score:        server.Headers.Score,
			Threat:       server.Headers.Threat,
			QuarantineID: server.Headers.QuarantineID,
		},
	}, f.logger)
}

// CreateCLIFilter creates the single message command line filter
func (f *FilterFactory) CreateCLIFilter(classifier ports.Classifier, verbose bool) *filter.CliFilter {
	return filter.NewCliFilter(classifier, f.logger, os.Stdout, verbose)
}

// CreateAPIServer creates the REST API server
func (f *FilterFactory) CreateAPIServer(svc api.Service) *api.Server {
	httpCfg := f.cfg.GetHTTP()
	if httpCfg.APIKey == "" {
		f.logger.Warn("http.api_key is empty, every API request will be rejected")
	}
	return api.NewServer(svc, api.ServerOptions{
		ListenAddress: httpCfg.ListenAddress,
		APIKey:        httpCfg.APIKey,
		GinMode:       httpCfg.GinMode,
	}, f.logger)
}
