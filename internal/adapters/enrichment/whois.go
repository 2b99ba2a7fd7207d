package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"go.uber.org/zap"
)

var createdLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.0Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"2006/01/02",
}

// WhoisLookup resolves domain registration age over WHOIS
type WhoisLookup struct {
	client *whois.Client
	logger *zap.Logger
	now    func() time.Time
	query  func(domain string) (string, error)
}

// NewWhoisLookup creates a lookup whose queries give up after timeout
func NewWhoisLookup(timeout time.Duration, logger *zap.Logger) *WhoisLookup {
	client := whois.NewClient()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	w := &WhoisLookup{client: client, logger: logger, now: time.Now}
	w.query = func(domain string) (string, error) { return w.client.Whois(domain) }
	return w
}

// DomainAgeDays returns the days since the domain was registered
func (w *WhoisLookup) DomainAgeDays(ctx context.Context, domain string) (int, error) {
	type answer struct {
		raw string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		raw, err := w.query(domain)
		ch <- answer{raw, err}
	}()

	var a answer
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case a = <-ch:
	}
	if a.err != nil {
		return 0, fmt.Errorf("whois query for %s failed: %w", domain, a.err)
	}

	info, err := whoisparser.Parse(a.raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse whois for %s: %w", domain, err)
	}
	if info.Domain == nil || info.Domain.CreatedDate == "" {
		return 0, fmt.Errorf("whois for %s has no creation date", domain)
	}
	created, err := parseCreated(info.Domain.CreatedDate)
	if err != nil {
		return 0, err
	}

	days := int(w.now().Sub(created).Hours() / 24)
	if days < 0 {
		days = 0
	}
	w.logger.Debug("Resolved domain age", zap.String("domain", domain), zap.Int("days", days))
	return days, nil
}

func parseCreated(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized creation date %q", value)
}
