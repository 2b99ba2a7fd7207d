package whitelist

import (
	"strings"

	"go.uber.org/zap"
)

// Checker knows the domains whose links are never counted as external
type Checker struct {
	domains map[string]struct{}
	logger  *zap.Logger
}

// NewChecker creates a new trusted-domain checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make(map[string]struct{}, len(domains))
	for _, domain := range domains {
		d := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if d != "" {
			normalized[d] = struct{}{}
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized trusted domain checker", zap.Int("domains", len(normalized)))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsTrustedDomain checks a host or registered domain, including subdomains of trusted entries
func (c *Checker) IsTrustedDomain(domain string) bool {
	if len(c.domains) == 0 {
		return false
	}
	domain = strings.Trim(strings.ToLower(domain), ".")
	for domain != "" {
		if _, ok := c.domains[domain]; ok {
			if c.logger != nil {
				c.logger.Debug("Domain is trusted", zap.String("domain", domain))
			}
			return true
		}
		i := strings.Index(domain, ".")
		if i < 0 {
			break
		}
		domain = domain[i+1:]
	}
	return false
}

// IsTrustedSender checks the domain of an email address
func (c *Checker) IsTrustedSender(from string) bool {
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return false
	}
	return c.IsTrustedDomain(strings.Trim(from[at+1:], "<> "))
}
