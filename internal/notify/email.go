package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/driftwatch/internal/config"
	"github.com/good-yellow-bee/driftwatch/internal/logger"
)

// EmailSender delivers alert notifications over SMTP.
type EmailSender struct {
	smtp      config.SMTPConfig
	templates *Templates
	artifacts ArtifactProvider
	log       zerolog.Logger
}

// NewEmailSender creates an email sender. A nil artifacts provider
// disables attachments.
func NewEmailSender(smtpCfg config.SMTPConfig, templates *Templates, artifacts ArtifactProvider) *EmailSender {
	if artifacts == nil {
		artifacts = NoArtifacts{}
	}
	return &EmailSender{
		smtp:      smtpCfg,
		templates: templates,
		artifacts: artifacts,
		log:       logger.WithComponent("notify.email"),
	}
}

// Send renders and delivers the notification to the recipients. A
// misconfigured channel (no recipients, no SMTP host) is a soft skip:
// logged, delivered=false, no error. Attachment failures downgrade to a
// body-only send. Transport errors are returned and mark the event
// failed upstream.
func (e *EmailSender) Send(ctx context.Context, n *Notification, recipients []string, attachPDF bool) (bool, error) {
	if len(recipients) == 0 {
		e.log.Warn().Str("event_id", n.Event.ID).Msg("email channel has no recipients, skipping")
		return false, nil
	}
	if e.smtp.Host == "" || e.smtp.From == "" {
		e.log.Warn().Str("event_id", n.Event.ID).Msg("smtp is not configured, skipping email channel")
		return false, nil
	}

	htmlBody, err := e.templates.RenderHTML(n.Data)
	if err != nil {
		return false, fmt.Errorf("rendering html body: %w", err)
	}
	plainBody, err := e.templates.RenderPlain(n.Data)
	if err != nil {
		return false, fmt.Errorf("rendering plain body: %w", err)
	}

	var attachment *Artifact
	if attachPDF {
		attachment, err = e.artifacts.EvidencePDF(ctx, n.Event)
		if err != nil {
			if err != ErrNoArtifact {
				e.log.Warn().Err(err).Str("event_id", n.Event.ID).Msg("evidence attachment failed, sending without it")
			}
			attachment = nil
		}
	}

	subject := fmt.Sprintf("[%s] DriftWatch Alert: %s", strings.ToUpper(n.Data.Severity), n.Data.RuleName)
	msg := buildMIMEMessage(e.smtp.From, recipients, subject, plainBody, htmlBody, attachment)

	if err := e.sendMail(ctx, recipients, msg); err != nil {
		return false, err
	}
	return true, nil
}

// buildMIMEMessage assembles a multipart message: alternative text/html
// parts, wrapped in multipart/mixed when an attachment is present.
func buildMIMEMessage(from string, recipients []string, subject, plainBody, htmlBody string, attachment *Artifact) []byte {
	altBoundary := fmt.Sprintf("----=_Alt_%d", time.Now().UnixNano())

	var alt strings.Builder
	alt.WriteString(fmt.Sprintf("--%s\r\n", altBoundary))
	alt.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	alt.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	alt.WriteString("\r\n")
	alt.WriteString(plainBody)
	alt.WriteString("\r\n")
	alt.WriteString(fmt.Sprintf("--%s\r\n", altBoundary))
	alt.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	alt.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	alt.WriteString("\r\n")
	alt.WriteString(htmlBody)
	alt.WriteString("\r\n")
	alt.WriteString(fmt.Sprintf("--%s--\r\n", altBoundary))

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(recipients, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if attachment == nil {
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", altBoundary))
		msg.WriteString("\r\n")
		msg.WriteString(alt.String())
		return []byte(msg.String())
	}

	mixedBoundary := fmt.Sprintf("----=_Mixed_%d", time.Now().UnixNano())
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n", mixedBoundary))
	msg.WriteString("\r\n")
	msg.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", altBoundary))
	msg.WriteString("\r\n")
	msg.WriteString(alt.String())
	msg.WriteString("\r\n")
	msg.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	msg.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", attachment.ContentType, attachment.Filename))
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	msg.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n", attachment.Filename))
	msg.WriteString("\r\n")
	msg.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(attachment.Data)))
	msg.WriteString("\r\n")
	msg.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))
	return []byte(msg.String())
}

// wrapBase64 folds base64 text to 76-character lines per RFC 2045.
func wrapBase64(s string) string {
	const lineLen = 76
	var b strings.Builder
	for len(s) > lineLen {
		b.WriteString(s[:lineLen])
		b.WriteString("\r\n")
		s = s[lineLen:]
	}
	b.WriteString(s)
	return b.String()
}

func (e *EmailSender) sendMail(ctx context.Context, recipients []string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", e.smtp.Host, e.smtp.Port)
	tlsConfig := &tls.Config{ServerName: e.smtp.Host}

	var client *smtp.Client
	var err error
	if e.smtp.Port == 465 {
		client, err = e.connectImplicitTLS(addr, tlsConfig)
	} else {
		client, err = e.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if e.smtp.Username != "" && e.smtp.Password != "" {
		auth := smtp.PlainAuth("", e.smtp.Username, e.smtp.Password, e.smtp.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(e.smtp.From)); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("adding recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("starting data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

func (e *EmailSender) connectImplicitTLS(addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return nil, err
	}
	return smtp.NewClient(conn, e.smtp.Host)
}

func (e *EmailSender) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	client, err := smtp.NewClient(conn, e.smtp.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls failed: %w", err)
		}
	}
	return client, nil
}

// extractEmail pulls the bare address from a "Name <email>" string.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
