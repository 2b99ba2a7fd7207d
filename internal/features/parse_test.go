package features

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const multipartMessage = "From: \"Billing\" <billing@invoices.tk>\r\n" +
	"To: victim@example.com\r\n" +
	"Subject: Your invoice\r\n" +
	"Date: Tue, 10 Oct 2023 03:15:00 +0000\r\n" +
	"Received: from a by b\r\n" +
	"Received: from c by d\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Open the attachment now.\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.exe\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"TVqQAAMAAAAEAAAA\r\n" +
	"--XYZ--\r\n"

func TestParseRaw_Multipart(t *testing.T) {
	x := NewExtractor(Options{}, nil, nil, nil, zap.NewNop())

	email := x.ParseRaw([]byte(multipartMessage))

	require.NotNil(t, email)
	assert.Contains(t, email.From, "billing@invoices.tk")
	assert.Equal(t, "victim@example.com", email.To)
	assert.Equal(t, "Your invoice", email.Subject)
	assert.Contains(t, email.Body, "Open the attachment now.")
	assert.Equal(t, []string{"invoice.exe"}, email.Attachments)
	assert.Len(t, email.Headers["Received"], 2)
}

func TestParseFallback_KeepsHeadersAndBody(t *testing.T) {
	raw := "From: a@b.example\nSubject: hi\n there\n\nbody text"

	email := parseFallback([]byte(raw))

	assert.Equal(t, "a@b.example", email.From)
	assert.Equal(t, "hi there", email.Subject)
	assert.Equal(t, "body text", email.Body)
}

func TestParseFallback_NoHeaderBlock(t *testing.T) {
	raw := "just some words\nwithout headers"

	email := parseFallback([]byte(raw))

	assert.Equal(t, raw, email.Body)
	assert.Empty(t, email.Headers)
}

func TestParseFallback_InvalidUTF8(t *testing.T) {
	raw := []byte("Subject: x\n\nbad \xff\xfe bytes")

	email := parseFallback(raw)

	assert.True(t, strings.HasPrefix(email.Body, "bad "))
	assert.NotContains(t, email.Body, "\xff")
}

func TestHeaderValues_CaseInsensitive(t *testing.T) {
	headers := map[string][]string{"Message-Id": {"<1@localhost>"}}

	v, ok := HeaderValue(headers, "Message-ID")
	assert.True(t, ok)
	assert.Equal(t, "<1@localhost>", v)

	_, ok = HeaderValue(headers, "X-Originating-IP")
	assert.False(t, ok)
}
