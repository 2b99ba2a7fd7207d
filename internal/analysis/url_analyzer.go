package analysis

import (
	"math"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/features"
	"github.com/mikey/phish-guard/internal/whitelist"
)

const (
	shortenerRisk     = 0.6
	suspiciousTLDRisk = 0.5
	externalLinkRisk  = 0.2
	externalLinkLimit = 5
)

// URLAnalyzer scores links by shortener use, suspicious TLDs and external link count
type URLAnalyzer struct {
	suspiciousTLDs []string
	shorteners     []string
	trusted        *whitelist.Checker
}

// NewURLAnalyzer creates a new URL analyzer; empty lists fall back to the defaults
func NewURLAnalyzer(suspiciousTLDs, shorteners []string, trusted *whitelist.Checker) *URLAnalyzer {
	if len(suspiciousTLDs) == 0 {
		suspiciousTLDs = features.DefaultSuspiciousTLDs
	}
	if len(shorteners) == 0 {
		shorteners = features.DefaultShorteners
	}
	return &URLAnalyzer{
		suspiciousTLDs: suspiciousTLDs,
		shorteners:     shorteners,
		trusted:        trusted,
	}
}

// Analyze returns the aggregate link risk for the sender
func (a *URLAnalyzer) Analyze(urls []string, senderDomain string) core.URLAnalysis {
	result := core.URLAnalysis{SuspiciousURLs: []string{}}
	if len(urls) == 0 {
		return result
	}

	senderRegistered := features.RegisteredDomain(senderDomain)
	var hasShortener, hasSuspiciousTLD bool
	for _, u := range urls {
		host := features.HostOf(u)
		shortener := features.ContainsAny(host, a.shorteners)
		badTLD := features.HasSuffixAny(host, a.suspiciousTLDs)
		hasShortener = hasShortener || shortener
		hasSuspiciousTLD = hasSuspiciousTLD || badTLD
		if shortener || badTLD {
			result.SuspiciousURLs = append(result.SuspiciousURLs, u)
		}
		if a.isExternal(host, senderRegistered) {
			result.ExternalLinks++
		}
	}

	var risk float64
	if hasShortener {
		risk += shortenerRisk
	}
	if hasSuspiciousTLD {
		risk += suspiciousTLDRisk
	}
	if result.ExternalLinks > externalLinkLimit {
		risk += externalLinkRisk
	}
	result.RiskScore = math.Min(risk, 1.0)
	return result
}

func (a *URLAnalyzer) isExternal(host, senderRegistered string) bool {
	registered := features.RegisteredDomain(host)
	if registered == "" || registered == senderRegistered {
		return false
	}
	return a.trusted == nil || !a.trusted.IsTrustedDomain(registered)
}
