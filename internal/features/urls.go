package features

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var (
	schemeURLPattern = regexp.MustCompile(`(?i)https?://(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)
	wwwURLPattern    = regexp.MustCompile(`(?i)www\.(?:[a-zA-Z]|[0-9]|[$-_@.&+]|[!*\(\),])+`)
	domainPattern    = regexp.MustCompile(`(?i)[a-zA-Z0-9][a-zA-Z0-9-]{1,61}[a-zA-Z0-9]\.[a-zA-Z]{2,}`)
)

// ExtractURLs finds links in text in first-seen order. Bare domain tokens that are
// already part of an earlier link are skipped. The second return value counts the
// scheme and www links.
func ExtractURLs(text string) ([]string, int) {
	if text == "" {
		return nil, 0
	}

	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, u := range schemeURLPattern.FindAllString(text, -1) {
		add(u)
	}
	for _, u := range wwwURLPattern.FindAllString(text, -1) {
		if containedIn(u, urls) {
			continue
		}
		add(u)
	}
	links := len(urls)

	for _, d := range domainPattern.FindAllString(text, -1) {
		if containedIn(d, urls) {
			continue
		}
		add(d)
	}
	return urls, links
}

func containedIn(token string, urls []string) bool {
	lower := strings.ToLower(token)
	for _, u := range urls {
		if strings.Contains(strings.ToLower(u), lower) {
			return true
		}
	}
	return false
}

// HostOf returns the lower-cased host of a link, with or without scheme
func HostOf(link string) string {
	raw := strings.TrimSpace(link)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		host := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(link), "https://"), "http://")
		if i := strings.IndexAny(host, "/?#:"); i >= 0 {
			host = host[:i]
		}
		return host
	}
	return strings.ToLower(u.Hostname())
}

// RegisteredDomain returns the eTLD+1 of host, or host itself when it has none
func RegisteredDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// ParseSender splits a From header into display name and lower-cased domain
func ParseSender(from string) (name string, domain string) {
	addr, err := mail.ParseAddress(from)
	if err == nil {
		name = addr.Name
		from = addr.Address
	} else if i := strings.LastIndex(from, "<"); i >= 0 {
		name = strings.Trim(strings.TrimSpace(from[:i]), `"`)
		from = strings.TrimSuffix(from[i+1:], ">")
	}
	at := strings.LastIndex(from, "@")
	if at < 0 {
		return name, ""
	}
	return name, strings.ToLower(strings.Trim(from[at+1:], " >"))
}

// HasSuffixAny reports whether host ends with one of the suffixes
func HasSuffixAny(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if s != "" && strings.HasSuffix(host, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether s contains one of the needles
func ContainsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
