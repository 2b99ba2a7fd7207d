package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// SPFResolver checks for a published SPF policy via a TXT query
type SPFResolver struct {
	client *dns.Client
	server string
}

// NewSPFResolver queries server (host:port) with the given per-query timeout
func NewSPFResolver(server string, timeout time.Duration) *SPFResolver {
	if server == "" {
		server = "8.8.8.8:53"
	}
	return &SPFResolver{
		client: &dns.Client{Timeout: timeout},
		server: server,
	}
}

// HasSPFRecord reports whether domain publishes a v=spf1 TXT record
func (r *SPFResolver) HasSPFRecord(ctx context.Context, domain string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return false, fmt.Errorf("TXT lookup for %s failed: %w", domain, err)
	}
	if resp == nil {
		return false, fmt.Errorf("TXT lookup for %s returned no response", domain)
	}
	if resp.Rcode == dns.RcodeNameError {
		return false, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return false, fmt.Errorf("TXT lookup for %s returned %s", domain, dns.RcodeToString[resp.Rcode])
	}
	return hasSPF(resp.Answer), nil
}

func hasSPF(answer []dns.RR) bool {
	for _, rr := range answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(strings.Join(txt.Txt, "")), "v=spf1") {
			return true
		}
	}
	return false
}
