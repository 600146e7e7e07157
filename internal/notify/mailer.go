package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/config"
	"github.com/spec-kit/account-service/internal/domain"
)

// Notifier sends the account lifecycle emails. Implementations either
// deliver or return an error; there is no retry.
type Notifier interface {
	SendConfirmEmail(ctx context.Context, to domain.EmailAddress, token string) error
	SendPasswordReset(ctx context.Context, to domain.EmailAddress, token string) error
}

// Mailer delivers plain-text emails over SMTP. All settings are injected
// through config; nothing is read from the process environment at send
// time. With an empty SMTP host the mailer logs the would-be delivery and
// reports success, which keeps local runs working without a mail server.
type Mailer struct {
	cfg    config.MailerConfig
	logger *zap.Logger
}

// NewMailer builds a Mailer.
func NewMailer(cfg config.MailerConfig, logger *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, logger: logger}
}

// SendConfirmEmail sends the email-confirmation deep link.
func (m *Mailer) SendConfirmEmail(ctx context.Context, to domain.EmailAddress, token string) error {
	link := fmt.Sprintf("%s/confirmedEmail?token=%s", m.cfg.FrontendBaseURL, token)
	body := fmt.Sprintf("You registered an account. Click the link to confirm your email: %s", link)
	return m.send(ctx, to, "Confirm Email", body)
}

// SendPasswordReset sends the password-reset deep link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to domain.EmailAddress, token string) error {
	link := fmt.Sprintf("%s/resetPassword?token=%s", m.cfg.FrontendBaseURL, token)
	body := fmt.Sprintf("You requested a password reset. Click the link to reset your password: %s", link)
	return m.send(ctx, to, "Password Reset", body)
}

func (m *Mailer) send(_ context.Context, to domain.EmailAddress, subject, body string) error {
	if strings.TrimSpace(m.cfg.SMTPHost) == "" {
		m.logger.Info("smtp host not configured; logging email instead",
			zap.String("to", to.String()),
			zap.String("subject", subject))
		return nil
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		m.cfg.From, to.String(), subject, body)

	addr := m.cfg.SMTPHost + ":" + m.cfg.SMTPPort
	var auth smtp.Auth
	if m.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	}
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to.String()}, []byte(msg)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
