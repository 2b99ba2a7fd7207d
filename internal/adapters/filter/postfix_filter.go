package filter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/ports"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"
)

const (
	defaultMaxMessageBytes = 30 * 1024 * 1024
	classifyTimeout        = 30 * time.Second

	statusPhish      = "phish"
	statusLegitimate = "legitimate"
	statusError      = "error"
)

// HeaderNames are the headers added to every filtered message
type HeaderNames struct {
	Phish        string
	Score        string
	Threat       string
	QuarantineID string
}

// PostfixOptions configures the content filter
type PostfixOptions struct {
	ListenAddress   string
	ForwardAddress  string
	DefaultUserID   string
	HoldQuarantined bool
	MaxMessageBytes int64
	Headers         HeaderNames
}

// deliverFunc hands a message back to the MTA
type deliverFunc func(sender string, recipients []string, data []byte) error

// PostfixFilter is an SMTP content filter that classifies each message,
// stamps X-Phish headers on it and reinjects it into Postfix. Quarantined
// messages are held instead of reinjected when HoldQuarantined is set.
type PostfixFilter struct {
	classifier ports.Classifier
	opts       PostfixOptions
	logger     *zap.Logger
	server     *smtp.Server
	deliver    deliverFunc
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(classifier ports.Classifier, opts PostfixOptions, logger *zap.Logger) *PostfixFilter {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.Headers.Phish == "" {
		opts.Headers = HeaderNames{
			Phish:        "X-Phish-Status",
			Score:        "X-Phish-Score",
			Threat:       "X-Phish-Threat-Level",
			QuarantineID: "X-Phish-Quarantine-Id",
		}
	}
	f := &PostfixFilter{
		classifier: classifier,
		opts:       opts,
		logger:     logger,
	}
	f.deliver = f.sendToPostfix
	return f
}

// Start starts the SMTP listener
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})
	f.server.Addr = f.opts.ListenAddress
	f.server.Domain = "localhost"
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = f.opts.MaxMessageBytes
	f.server.MaxRecipients = 50

	f.logger.Info("Postfix filter starting",
		zap.String("address", f.opts.ListenAddress),
		zap.String("forward_address", f.opts.ForwardAddress),
		zap.Bool("hold_quarantined", f.opts.HoldQuarantined))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != smtp.ErrServerClosed {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop stops the SMTP listener
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// filter classifies one message and returns the bytes to reinject; nil means hold
func (f *PostfixFilter) filter(ctx context.Context, sender string, recipients []string, raw []byte) []byte {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PostfixFilter.filter")
	defer span.Finish()
	tracing.TagComponentSMTP(span)

	email := &core.Email{
		UserID:       f.opts.DefaultUserID,
		Raw:          raw,
		EnvelopeFrom: sender,
		EnvelopeTo:   strings.Join(recipients, ", "),
	}
	res, err := f.classifier.ClassifyOne(ctx, email, core.ClassifyOptions{})
	if err != nil {
		tracing.TraceErr(span, err)
		f.logger.Error("Failed to classify email, delivering unfiltered",
			zap.Error(err),
			zap.String("sender", sender))
		return stampHeaders(raw, f.opts.Headers, [][2]string{{f.opts.Headers.Phish, statusError}})
	}

	status := statusLegitimate
	if res.Prediction == core.LabelPhish {
		status = statusPhish
	}
	added := [][2]string{
		{f.opts.Headers.Phish, status},
		{f.opts.Headers.Score, fmt.Sprintf("%.4f", res.ConfidenceScore)},
		{f.opts.Headers.Threat, string(res.ThreatLevel)},
	}
	if res.Quarantined {
		added = append(added, [2]string{f.opts.Headers.QuarantineID, res.QuarantineID})
	}

	f.logger.Info("Processed email",
		zap.String("sender", sender),
		zap.String("prediction", res.Prediction),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.String("threat_level", string(res.ThreatLevel)),
		zap.Bool("quarantined", res.Quarantined))

	if res.Quarantined && f.opts.HoldQuarantined {
		f.logger.Info("Holding quarantined email",
			zap.String("quarantine_id", res.QuarantineID),
			zap.String("sender", sender))
		return nil
	}
	return stampHeaders(raw, f.opts.Headers, added)
}

// stampHeaders drops any incoming copies of our headers and prepends the new values
func stampHeaders(raw []byte, names HeaderNames, added [][2]string) []byte {
	own := map[string]bool{}
	for _, n := range []string{names.Phish, names.Score, names.Threat, names.QuarantineID} {
		if n != "" {
			own[strings.ToLower(n)] = true
		}
	}

	var out bytes.Buffer
	for _, h := range added {
		value := strings.NewReplacer("\r", " ", "\n", " ").Replace(h[1])
		fmt.Fprintf(&out, "%s: %s\r\n", h[0], value)
	}

	rest := raw
	skipping := false
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			break
		}
		if trimmed[0] == ' ' || trimmed[0] == '\t' {
			if !skipping {
				out.Write(line)
			}
		} else {
			skipping = false
			if colon := bytes.IndexByte(trimmed, ':'); colon > 0 && own[strings.ToLower(string(bytes.TrimSpace(trimmed[:colon])))] {
				skipping = true
			} else {
				out.Write(line)
			}
		}
		rest = rest[len(line):]
	}
	out.Write(rest)
	return out.Bytes()
}

// sendToPostfix reinjects the processed message on the configured return port
func (f *PostfixFilter) sendToPostfix(sender string, recipients []string, data []byte) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", f.opts.ForwardAddress, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
			continue
		}
		recipientOK = true
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

type smtpBackend struct {
	filter *PostfixFilter
}

func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), classifyTimeout)
	defer cancel()

	out := s.filter.filter(ctx, s.sender, s.recipients, raw)
	if out == nil {
		return nil
	}
	if err := s.filter.deliver(s.sender, s.recipients, out); err != nil {
		s.filter.logger.Error("Failed to send email back to Postfix",
			zap.Error(err),
			zap.String("sender", s.sender))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure reinjecting message",
		}
	}
	return nil
}

func (s *smtpSession) Logout() error {
	return nil
}
