package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"tasktracker/internal/config"

	"gopkg.in/gomail.v2"
)

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier 基于 SMTP 的邮件通知。
type EmailNotifier struct {
	cfg    config.EmailConfig
	dialer dialer
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		logger: logger,
	}
}

// Enabled 检查 SMTP 配置是否完整。
func (n *EmailNotifier) Enabled() bool {
	return n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// SendWelcome 发送注册欢迎邮件。
func (n *EmailNotifier) SendWelcome(ctx context.Context, toEmail, username string) error {
	if !n.Enabled() {
		return fmt.Errorf("email config missing")
	}
	toEmail = strings.TrimSpace(toEmail)
	if toEmail == "" {
		return fmt.Errorf("empty recipient")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[TaskTracker] Welcome aboard")
	m.SetBody("text/html", buildWelcomeBody(username))

	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("welcome email sent", slog.String("to", toEmail))
	return nil
}

func buildWelcomeBody(username string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <div style="max-width: 520px; margin: 0 auto; padding: 16px;">
    <h2>Welcome, %s</h2>
    <p>Your TaskTracker account is ready. Sign in to start adding tasks.</p>
  </div>
</body>
</html>`, html.EscapeString(username))
}
