package features

import (
	"bytes"
	"net/textproto"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/mikey/phish-guard/internal/core"
)

// ParseRaw decodes an RFC 5322 message. A message enmime cannot read is kept
// as plain text so decoding never fails the pipeline.
func (x *Extractor) ParseRaw(raw []byte) *core.Email {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		x.logger.Debug("Falling back to raw text for undecodable message")
		return parseFallback(raw)
	}

	headers := make(map[string][]string)
	for _, key := range env.GetHeaderKeys() {
		if values := env.GetHeaderValues(key); len(values) > 0 {
			headers[textproto.CanonicalMIMEHeaderKey(key)] = values
		}
	}

	body := env.HTML
	if body == "" {
		body = env.Text
	}

	email := &core.Email{
		From:    env.GetHeader("From"),
		To:      env.GetHeader("To"),
		Subject: env.GetHeader("Subject"),
		Body:    body,
		Headers: headers,
		Raw:     raw,
	}
	for _, part := range env.Attachments {
		if part.FileName != "" {
			email.Attachments = append(email.Attachments, part.FileName)
		}
	}
	for _, part := range env.Inlines {
		if part.FileName != "" {
			email.Attachments = append(email.Attachments, part.FileName)
		}
	}
	return email
}

// parseFallback splits the header block by hand and keeps the rest as body text
func parseFallback(raw []byte) *core.Email {
	text := strings.ToValidUTF8(string(raw), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	headerBlock, body, found := strings.Cut(text, "\n\n")
	if !found {
		return &core.Email{Body: text, Headers: map[string][]string{}, Raw: raw}
	}

	headers := make(map[string][]string)
	var lastKey string
	for _, line := range strings.Split(headerBlock, "\n") {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && lastKey != "" {
			vals := headers[lastKey]
			vals[len(vals)-1] += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			// not a header block after all
			return &core.Email{Body: text, Headers: map[string][]string{}, Raw: raw}
		}
		lastKey = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(key))
		headers[lastKey] = append(headers[lastKey], strings.TrimSpace(value))
	}

	first := func(k string) string {
		if v := headers[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return &core.Email{
		From:    first("From"),
		To:      first("To"),
		Subject: first("Subject"),
		Body:    body,
		Headers: headers,
		Raw:     raw,
	}
}

// HeaderValues returns the values of a header using a case-insensitive name match
func HeaderValues(headers map[string][]string, name string) ([]string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// HeaderValue returns the first value of a header using a case-insensitive name match
func HeaderValue(headers map[string][]string, name string) (string, bool) {
	v, ok := HeaderValues(headers, name)
	if !ok {
		return "", false
	}
	if len(v) == 0 {
		return "", true
	}
	return v[0], true
}
