package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/smtp"
	"strconv"

	"gradewatch/internal/chrono"
	"gradewatch/internal/grades"
	"gradewatch/internal/telemetry"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type EmailConfig struct {
	SMTPServer     string
	SMTPPort       int
	Subject        string
	SenderEmail    string
	SenderPassword string
	ReceiverEmail  string
	// RootCAs verifies the server certificate, nil uses the system pool.
	RootCAs *x509.CertPool
}

// Configured reports whether every field needed to send is present.
func (c EmailConfig) Configured() bool {
	return c.SMTPServer != "" &&
		c.SMTPPort > 0 &&
		c.SenderEmail != "" &&
		c.SenderPassword != "" &&
		c.ReceiverEmail != ""
}

// SendFunc delivers a composed message over implicit TLS.
type SendFunc func(mail *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config) error

func sendWithTLS(mail *email.Email, addr string, auth smtp.Auth, tlsConfig *tls.Config) error {
	return mail.SendWithTLS(addr, auth, tlsConfig)
}

type Email struct {
	config EmailConfig
	clock  chrono.TimeAPI
	send   SendFunc
	tel    telemetry.API
}

func NewEmail(config EmailConfig, clock chrono.TimeAPI, tel telemetry.API) Email {
	return NewEmailWithSender(config, clock, sendWithTLS, tel)
}

func NewEmailWithSender(config EmailConfig, clock chrono.TimeAPI, send SendFunc, tel telemetry.API) Email {
	if config.Subject == "" {
		config.Subject = Subject
	}
	return Email{config: config, clock: clock, send: send, tel: tel}
}

const report_email_skip = "email.skip"

// Compose builds the message without sending it.
func (e Email) Compose(changed []grades.Course) *email.Email {
	mail := email.NewEmail()
	mail.From = e.config.SenderEmail
	mail.To = []string{e.config.ReceiverEmail}
	mail.Subject = e.config.Subject
	mail.Text = []byte(MessageBody(e.clock.Now(), changed))
	return mail
}

func (e Email) Notify(ctx context.Context, changed []grades.Course) error {
	if !e.config.Configured() {
		e.tel.ReportWarning(report_email_skip, "email is not configured, fill it in with `gradewatch setup`")
		return nil
	}

	ctx, span := tracer.Start(ctx, "email:notify", trace.WithAttributes(
		attribute.Int("courses", len(changed)),
	))
	defer span.End()

	addr := e.config.SMTPServer + ":" + strconv.Itoa(e.config.SMTPPort)
	err := e.send(
		e.Compose(changed),
		addr,
		smtp.PlainAuth("", e.config.SenderEmail, e.config.SenderPassword, e.config.SMTPServer),
		&tls.Config{ServerName: e.config.SMTPServer, RootCAs: e.config.RootCAs},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return fmt.Errorf("send email to %s: %w", e.config.ReceiverEmail, err)
	}

	e.tel.ReportDebug("email sent", "to", e.config.ReceiverEmail)
	return nil
}
