package factory

import (
	"github.com/mikey/phish-guard/internal/adapters/enrichment"
	"github.com/mikey/phish-guard/internal/config"
	"github.com/mikey/phish-guard/internal/core"
	"go.uber.org/zap"
)

// EnrichmentFactory creates the WHOIS and DNS lookups
type EnrichmentFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEnrichmentFactory creates a new enrichment factory
func NewEnrichmentFactory(cfg *config.Config, logger *zap.Logger) *EnrichmentFactory {
	return &EnrichmentFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDomainAgeLookup returns the WHOIS lookup, or the safe default when enrichment is off
func (f *EnrichmentFactory) CreateDomainAgeLookup() (core.DomainAgeLookup, error) {
	enr, err := f.cfg.GetEnrichment()
	if err != nil {
		return nil, err
	}
	if !enr.Enabled {
		return enrichment.Static{}, nil
	}
	return enrichment.NewWhoisLookup(enr.Timeout, f.logger), nil
}

// CreateSPFLookup returns the DNS SPF resolver, or the safe default when enrichment is off
func (f *EnrichmentFactory) CreateSPFLookup() (core.SPFLookup, error) {
	enr, err := f.cfg.GetEnrichment()
	if err != nil {
		return nil, err
	}
	if !enr.Enabled {
		return enrichment.Static{}, nil
	}
	return enrichment.NewSPFResolver(enr.DNSServer, enr.Timeout), nil
}
