package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// EmailSender is the interface for sending email messages. The recipient is
// the doctor's ID; resolving it to an address belongs to the transport.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes digests to the log instead of a mail transport.
type LogEmailSender struct {
	logger zerolog.Logger
}

func NewLogEmailSender(logger zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email digest")
	return nil
}
