package features

import (
	"context"
	"math"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/whitelist"
	"go.uber.org/zap"
)

var (
	DefaultSuspiciousTLDs = []string{".ru", ".cn", ".tk", ".xyz"}
	DefaultShorteners     = []string{"bit.ly", "tinyurl", "goo.gl"}

	urgentKeywords    = []string{"urgent", "immediately", "action required", "important"}
	financialKeywords = []string{"invoice", "payment", "bank", "account", "password"}

	attachmentPattern = regexp.MustCompile(`\.(exe|scr|zip|rar|7z)`)
	spaceRemover      = strings.NewReplacer(" ", "", "\t", "", "\n", "")
)

const defaultHour = 12

// Options configures the extractor
type Options struct {
	SuspiciousTLDs    []string
	Shorteners        []string
	EnrichmentEnabled bool
	LookupTimeout     time.Duration
}

// Extractor turns emails into feature vectors
type Extractor struct {
	opts      Options
	domainAge core.DomainAgeLookup
	spf       core.SPFLookup
	trusted   *whitelist.Checker
	logger    *zap.Logger
}

// NewExtractor creates a new feature extractor
func NewExtractor(opts Options, domainAge core.DomainAgeLookup, spf core.SPFLookup, trusted *whitelist.Checker, logger *zap.Logger) *Extractor {
	if len(opts.SuspiciousTLDs) == 0 {
		opts.SuspiciousTLDs = DefaultSuspiciousTLDs
	}
	if len(opts.Shorteners) == 0 {
		opts.Shorteners = DefaultShorteners
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 3 * time.Second
	}
	return &Extractor{
		opts:      opts,
		domainAge: domainAge,
		spf:       spf,
		trusted:   trusted,
		logger:    logger,
	}
}

// Extract computes the feature vector and signals of an email
func (x *Extractor) Extract(ctx context.Context, email *core.Email) (core.FeatureVector, core.Signals, error) {
	if err := ctx.Err(); err != nil {
		return core.FeatureVector{}, core.Signals{}, err
	}

	var f core.FeatureVector
	var sig core.Signals

	body := email.Body
	text := strings.ToLower(body)
	subject := email.Subject

	urls, links := ExtractURLs(body + " " + subject)
	sig.URLs = urls
	sig.Attachments = email.Attachments

	displayName, senderDomain := ParseSender(email.From)
	sig.SenderDomain = senderDomain
	senderRegistered := RegisteredDomain(senderDomain)

	var external int
	for _, u := range urls {
		host := HostOf(u)
		if HasSuffixAny(host, x.opts.SuspiciousTLDs) {
			f.HasSuspiciousTLD = 1
		}
		if ContainsAny(host, x.opts.Shorteners) {
			f.HasShortenedURLs = 1
		}
		if x.IsExternal(host, senderRegistered) {
			external++
		}
	}
	f.NumLinks = float64(links)
	f.NumExternalLinks = float64(external)

	for _, k := range urgentKeywords {
		if strings.Contains(text, k) {
			f.HasUrgentKeywords = 1
			sig.KeywordHits = append(sig.KeywordHits, k)
		}
	}
	for _, k := range financialKeywords {
		if strings.Contains(text, k) {
			f.HasFinancialKeywords = 1
			sig.KeywordHits = append(sig.KeywordHits, k)
		}
	}

	if attachmentPattern.MatchString(text) {
		f.HasSuspiciousAttachments = 1
	}
	for _, name := range email.Attachments {
		if attachmentPattern.MatchString(strings.ToLower(name)) {
			f.HasSuspiciousAttachments = 1
		}
	}

	images, hidden := inspectMarkup(body)
	f.NumImages = float64(images)
	if hidden || strings.Contains(text, "font-size:0") || strings.Contains(text, "color:#fff") {
		f.HasHiddenText = 1
	}

	length := utf8.RuneCountInString(text)
	f.HTMLToTextRatio = math.Round(float64(strings.Count(text, "<"))/float64(max(1, length))*100) / 100
	f.SubjectLength = float64(utf8.RuneCountInString(subject))
	f.BodyLength = float64(utf8.RuneCountInString(body))

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		f.IsReply = 1
	}
	f.TimeOfDay = float64(hourOf(email.Headers))

	if senderDomain != "" && !strings.Contains(strings.ToLower(displayName), senderRegistered) {
		f.HasDisplayNameMismatch = 1
	}

	if _, ok := HeaderValues(email.Headers, "DKIM-Signature"); ok {
		f.HasDKIMPass = 1
	}

	if senderDomain != "" && x.opts.EnrichmentEnabled {
		age, spf, degraded := x.enrich(ctx, senderDomain, senderRegistered)
		f.SenderDomainAge = float64(age)
		if spf {
			f.HasSPFPass = 1
		}
		sig.EnrichmentDegraded = degraded
	}

	return f, sig, nil
}

// IsExternal reports whether host belongs neither to the sender nor to a trusted domain
func (x *Extractor) IsExternal(host, senderRegistered string) bool {
	registered := RegisteredDomain(host)
	if registered == "" {
		return false
	}
	if senderRegistered != "" && registered == senderRegistered {
		return false
	}
	if x.trusted != nil && x.trusted.IsTrustedDomain(registered) {
		return false
	}
	return true
}

// enrich runs the WHOIS and SPF lookups concurrently, each under its own timeout
func (x *Extractor) enrich(ctx context.Context, domain, registered string) (int, bool, []string) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		age      int
		spf      bool
		degraded []string
	)
	note := func(what string, err error) {
		x.logger.Debug("Enrichment lookup failed, using default",
			zap.String("lookup", what),
			zap.String("domain", domain),
			zap.Error(err))
		mu.Lock()
		degraded = append(degraded, what)
		mu.Unlock()
	}

	if x.domainAge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, x.opts.LookupTimeout)
			defer cancel()
			days, err := x.domainAge.DomainAgeDays(lctx, registered)
			if err != nil {
				note("domain_age", err)
				return
			}
			if days > 0 {
				age = days
			}
		}()
	}
	if x.spf != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lctx, cancel := context.WithTimeout(ctx, x.opts.LookupTimeout)
			defer cancel()
			ok, err := x.spf.HasSPFRecord(lctx, domain)
			if err != nil {
				note("spf", err)
				return
			}
			spf = ok
		}()
	}
	wg.Wait()
	return age, spf, degraded
}

// inspectMarkup counts images and looks for inline styles that hide text
func inspectMarkup(body string) (int, bool) {
	if !strings.Contains(body, "<") {
		return 0, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.Count(strings.ToLower(body), "<img"), false
	}
	hidden := false
	doc.Find("[style]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		style = spaceRemover.Replace(strings.ToLower(style))
		if strings.Contains(style, "font-size:0") || strings.Contains(style, "color:#fff") {
			hidden = true
			return false
		}
		return true
	})
	return doc.Find("img").Length(), hidden
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

func hourOf(headers map[string][]string) int {
	value, ok := HeaderValue(headers, "Date")
	if !ok || value == "" {
		return defaultHour
	}
	value = strings.TrimSpace(value)
	if t, err := mail.ParseDate(value); err == nil {
		return t.Hour()
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Hour()
		}
	}
	return defaultHour
}
