package analysis

import (
	"math"
	"net/netip"
	"regexp"
	"strings"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/features"
	"go.uber.org/zap"
)

var (
	spfResultRe   = regexp.MustCompile(`(?i)\bspf=(pass|fail|softfail|neutral|none|temperror|permerror)\b`)
	dkimResultRe  = regexp.MustCompile(`(?i)\bdkim=(pass|fail|none|neutral|temperror|permerror|policy)\b`)
	dmarcResultRe = regexp.MustCompile(`(?i)\bdmarc=(pass|fail|none|temperror|permerror)\b`)

	suspiciousMessageIDs = []string{"localhost", "127.0.0.1", "example.com", "test.com"}
	privateIPPrefixes    = []string{"192.168.", "10.", "172.16.", "127."}
)

const (
	IndicatorDomainMismatch    = "Domain mismatch between Return-Path and From"
	IndicatorExcessiveReceived = "Excessive Received headers (possible forwarding chain)"
	IndicatorMissingReceived   = "Missing Received headers"
	IndicatorSPFFailed         = "SPF check failed"
	IndicatorSPFInconclusive   = "SPF check inconclusive"
	IndicatorDKIMFailed        = "DKIM verification failed"
	IndicatorDKIMInconclusive  = "DKIM verification inconclusive"
	IndicatorDMARCViolation    = "DMARC policy violation"
	IndicatorSuspiciousMsgID   = "Suspicious Message-ID"
	IndicatorPrivateOrigIP     = "Private IP in X-Originating-IP"
)

// HeaderAnalyzer scores authentication results and spoofing hints in headers
type HeaderAnalyzer struct {
	logger *zap.Logger
}

// NewHeaderAnalyzer creates a new header analyzer
func NewHeaderAnalyzer(logger *zap.Logger) *HeaderAnalyzer {
	return &HeaderAnalyzer{logger: logger}
}

// Analyze runs every check whose header is present
func (a *HeaderAnalyzer) Analyze(headers map[string][]string) core.HeaderAnalysis {
	result := core.HeaderAnalysis{Indicators: []string{}}
	if len(headers) == 0 {
		return result
	}

	var risk float64
	flag := func(indicator string, weight float64) {
		result.Indicators = append(result.Indicators, indicator)
		risk += weight
	}

	returnPath, hasReturnPath := features.HeaderValue(headers, "Return-Path")
	from, hasFrom := features.HeaderValue(headers, "From")
	if hasReturnPath && hasFrom {
		result.ChecksPerformed++
		_, rpDomain := features.ParseSender(returnPath)
		_, fromDomain := features.ParseSender(from)
		if rpDomain != "" && fromDomain != "" && rpDomain != fromDomain {
			flag(IndicatorDomainMismatch, 0.3)
		}
	}

	if received, ok := features.HeaderValues(headers, "Received"); ok {
		result.ChecksPerformed++
		switch {
		case len(received) > 10:
			flag(IndicatorExcessiveReceived, 0.2)
		case len(received) == 0:
			flag(IndicatorMissingReceived, 0.1)
		}
	}

	content := joinValues(headers)

	result.ChecksPerformed++
	spf := results(spfResultRe, content)
	if spf["fail"] {
		flag(IndicatorSPFFailed, 0.2)
	} else if !spf["pass"] && len(spf) > 0 {
		flag(IndicatorSPFInconclusive, 0.1)
	}

	result.ChecksPerformed++
	dkim := results(dkimResultRe, content)
	if dkim["fail"] {
		flag(IndicatorDKIMFailed, 0.15)
	} else if !dkim["pass"] && len(dkim) > 0 {
		flag(IndicatorDKIMInconclusive, 0.05)
	}

	result.ChecksPerformed++
	if results(dmarcResultRe, content)["fail"] {
		flag(IndicatorDMARCViolation, 0.25)
	}

	if msgID, ok := features.HeaderValue(headers, "Message-ID"); ok {
		result.ChecksPerformed++
		if features.ContainsAny(strings.ToLower(msgID), suspiciousMessageIDs) {
			flag(IndicatorSuspiciousMsgID, 0.1)
		}
	}

	if origIP, ok := features.HeaderValue(headers, "X-Originating-IP"); ok {
		result.ChecksPerformed++
		if isPrivateIP(origIP) {
			flag(IndicatorPrivateOrigIP, 0.1)
		}
	}

	result.RiskScore = math.Max(0, math.Min(risk, 1.0))
	if a.logger != nil && len(result.Indicators) > 0 {
		a.logger.Debug("Suspicious headers", zap.Strings("indicators", result.Indicators))
	}
	return result
}

func joinValues(headers map[string][]string) string {
	var b strings.Builder
	for _, values := range headers {
		for _, v := range values {
			if v == "" {
				continue
			}
			b.WriteString(strings.ToLower(v))
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// results collects the distinct verdicts of an auth-results pattern
func results(re *regexp.Regexp, content string) map[string]bool {
	found := map[string]bool{}
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		found[strings.ToLower(m[1])] = true
	}
	return found
}

func isPrivateIP(value string) bool {
	raw := strings.Trim(strings.TrimSpace(value), "[]")
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.IsPrivate() || addr.IsLoopback()
	}
	for _, p := range privateIPPrefixes {
		if strings.Contains(raw, p) {
			return true
		}
	}
	return false
}
