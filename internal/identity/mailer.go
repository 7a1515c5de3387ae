package identity

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Mailer 负责投递验证与重置邮件。
type Mailer interface {
	Send(ctx context.Context, to, subject, link string) error
}

// LogMailer 只把链接写入日志，用于开发环境。
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, link string) error {
	log.Info().Str("to", to).Str("subject", subject).Str("link", link).Msg("mail")
	return nil
}
