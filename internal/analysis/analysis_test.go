package analysis

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mikey/phish-guard/internal/whitelist"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestURLAnalyzer_Empty(t *testing.T) {
	a := NewURLAnalyzer(nil, nil, nil)

	res := a.Analyze(nil, "example.com")

	assert.Zero(t, res.RiskScore)
	assert.Empty(t, res.SuspiciousURLs)
}

func TestURLAnalyzer_ShortenerAndTLD(t *testing.T) {
	// Arrange
	a := NewURLAnalyzer(nil, nil, nil)
	urls := []string{"http://bit.ly/x", "http://login.bank.ru/a", "https://example.com/ok"}

	// Act
	res := a.Analyze(urls, "example.com")

	// Assert
	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, []string{"http://bit.ly/x", "http://login.bank.ru/a"}, res.SuspiciousURLs)
	assert.Equal(t, 2, res.ExternalLinks)
}

func TestURLAnalyzer_ManyExternalLinks(t *testing.T) {
	a := NewURLAnalyzer(nil, nil, whitelist.NewChecker([]string{"partner.org"}, nil))
	var urls []string
	for i := 0; i < 6; i++ {
		urls = append(urls, fmt.Sprintf("https://site%d.com/", i))
	}
	urls = append(urls, "https://partner.org/a", "https://mail.example.com/b")

	res := a.Analyze(urls, "example.com")

	assert.Equal(t, 6, res.ExternalLinks)
	assert.InDelta(t, 0.2, res.RiskScore, 1e-9)
	assert.Empty(t, res.SuspiciousURLs)
}

func TestURLAnalyzer_FiveExternalLinksAddNothing(t *testing.T) {
	a := NewURLAnalyzer(nil, nil, nil)
	var urls []string
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("https://site%d.com/", i))
	}

	res := a.Analyze(urls, "example.com")

	assert.Zero(t, res.RiskScore)
}

func TestHeaderAnalyzer_EmptyPerformsNoChecks(t *testing.T) {
	a := NewHeaderAnalyzer(zap.NewNop())

	res := a.Analyze(map[string][]string{})

	assert.Zero(t, res.ChecksPerformed)
	assert.Zero(t, res.RiskScore)
	assert.Empty(t, res.Indicators)
}

func TestHeaderAnalyzer_SpoofedMessage(t *testing.T) {
	// Arrange
	a := NewHeaderAnalyzer(zap.NewNop())
	headers := map[string][]string{
		"Return-Path":            {"<bounce@evil.ru>"},
		"From":                   {"PayPal <service@paypal.com>"},
		"Authentication-Results": {"mx.example.com; spf=fail smtp.mailfrom=evil.ru; dkim=fail; dmarc=fail"},
		"Message-Id":             {"<123@localhost>"},
		"X-Originating-Ip":       {"[192.168.1.20]"},
		"Received":               {"from a", "from b"},
	}

	// Act
	res := a.Analyze(headers)

	// Assert
	assert.Equal(t, []string{
		IndicatorDomainMismatch,
		IndicatorSPFFailed,
		IndicatorDKIMFailed,
		IndicatorDMARCViolation,
		IndicatorSuspiciousMsgID,
		IndicatorPrivateOrigIP,
	}, res.Indicators)
	assert.Equal(t, 1.0, res.RiskScore)
	assert.Equal(t, 7, res.ChecksPerformed)
}

func TestHeaderAnalyzer_Inconclusive(t *testing.T) {
	a := NewHeaderAnalyzer(nil)
	headers := map[string][]string{
		"Authentication-Results": {"spf=softfail; dkim=none"},
	}

	res := a.Analyze(headers)

	assert.Equal(t, []string{IndicatorSPFInconclusive, IndicatorDKIMInconclusive}, res.Indicators)
	assert.InDelta(t, 0.15, res.RiskScore, 1e-9)
	assert.Equal(t, 3, res.ChecksPerformed)
}

func TestHeaderAnalyzer_PassingAuth(t *testing.T) {
	a := NewHeaderAnalyzer(nil)
	headers := map[string][]string{
		"Authentication-Results": {"spf=pass; dkim=pass; dmarc=pass"},
		"Return-Path":            {"<a@example.com>"},
		"From":                   {"a@example.com"},
	}

	res := a.Analyze(headers)

	assert.Empty(t, res.Indicators)
	assert.Zero(t, res.RiskScore)
	assert.Equal(t, 4, res.ChecksPerformed)
}

func TestHeaderAnalyzer_ReceivedChain(t *testing.T) {
	a := NewHeaderAnalyzer(nil)

	many := make([]string, 11)
	res := a.Analyze(map[string][]string{"Received": many})
	assert.Contains(t, res.Indicators, IndicatorExcessiveReceived)

	res = a.Analyze(map[string][]string{"Received": {}})
	assert.Contains(t, res.Indicators, IndicatorMissingReceived)
	assert.Equal(t, 4, res.ChecksPerformed)
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP("10.1.2.3"))
	assert.True(t, isPrivateIP("[127.0.0.1]"))
	assert.True(t, isPrivateIP("172.20.0.1"))
	assert.False(t, isPrivateIP("8.8.8.8"))
	assert.True(t, isPrivateIP("client 192.168.0.1 via proxy"))
}

func TestProperty_HeaderRiskBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)
	a := NewHeaderAnalyzer(nil)

	names := []string{"From", "Return-Path", "Received", "Message-ID", "X-Originating-IP", "Authentication-Results", "Subject"}
	values := []string{"spf=fail", "dkim=fail", "dmarc=fail", "spf=pass", "a@localhost", "10.0.0.1", "x@y.ru", ""}

	properties.Property("header_risk_in_unit_interval", prop.ForAll(
		func(keys []int, vals []int, repeat int) bool {
			headers := map[string][]string{}
			for i, k := range keys {
				name := names[k%len(names)]
				for r := 0; r <= repeat; r++ {
					headers[name] = append(headers[name], values[vals[i%max(1, len(vals))]%len(values)])
				}
			}
			res := a.Analyze(headers)
			return res.RiskScore >= 0 && res.RiskScore <= 1 && res.ChecksPerformed >= 0
		},
		gen.SliceOf(gen.IntRange(0, 100)),
		gen.SliceOfN(8, gen.IntRange(0, 100)),
		gen.IntRange(0, 12),
	))

	properties.TestingRun(t)
}
