package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"voltify/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知，destination 为收件人邮箱地址。
//
// 部署无法使用 Telegram 时可通过配置 notify_channel=email 切换。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送邮件通知。ctx 仅用于提前放弃，SMTP 拨号本身不感知取消。
func (n *EmailNotifier) Send(ctx context.Context, destination string, text string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("email config missing, skip notification")
		return nil
	}
	if strings.TrimSpace(destination) == "" {
		n.logger.Warn("email recipient empty, skip notification")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", destination)
	m.SetHeader("Subject", "[Voltify] Task Update")
	m.SetBody("text/plain", text)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("email notification sent", slog.String("to", destination))
	return nil
}
