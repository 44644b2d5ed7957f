package alert

import (
	"context"
	"fmt"

	"github.com/go-mail/mail"

	"quantflow/conf"
	"quantflow/pkg/logger"
)

// SMTP邮件告警，kill switch和EXCEPTION这类需要人看的事件用

type MailNotifier struct {
	cfg    conf.MailConfig
	dialer *mail.Dialer
}

func NewMailNotifier(cfg conf.MailConfig) *MailNotifier {
	return &MailNotifier{
		cfg:    cfg,
		dialer: mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *MailNotifier) Notify(ctx context.Context, subject, body string) {
	if len(m.cfg.To) == 0 {
		return
	}
	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.Sender)
	msg.SetHeader("To", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[quantflow] %s", subject))
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		logger.Warn("alert mail send failed",
			logger.Pair("subject", subject), logger.Pair("err", err.Error()))
	}
}

func (m *MailNotifier) Close() error {
	return nil
}
