package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"authgate/internal/platform/logger"
)

// SMSSender is the SMS transport (mfa/sms.SMSLocalClient).
type SMSSender interface {
	SendOTP(ctx context.Context, phone, otp string) error
	SendText(ctx context.Context, phone, message string) error
}

// EmailSender is the email transport.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Deliverer routes a decoded message to its transport. cmd/worker runs it for every record on the topic.
type Deliverer struct {
	sms   SMSSender
	email EmailSender
	log   *zap.Logger
}

// NewDeliverer returns a deliverer. A nil sender makes that channel fail with an error.
func NewDeliverer(sms SMSSender, email EmailSender, l *zap.Logger) *Deliverer {
	return &Deliverer{sms: sms, email: email, log: logger.WithComponent(l, "deliver")}
}

// Deliver sends msg over its channel.
func (d *Deliverer) Deliver(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	switch msg.Channel {
	case ChannelSMS:
		if d.sms == nil {
			return fmt.Errorf("deliver: sms transport not configured")
		}
		if msg.Tag == TagOTP {
			return d.sms.SendOTP(ctx, msg.Recipient, msg.Code)
		}
		return d.sms.SendText(ctx, msg.Recipient, msg.Body)
	case ChannelEmail:
		if d.email == nil {
			return fmt.Errorf("deliver: email transport not configured")
		}
		return d.email.SendEmail(ctx, msg.Recipient, msg.Subject, msg.Body)
	default:
		return fmt.Errorf("deliver: unknown channel %q", msg.Channel)
	}
}

// LogEmailSender stands in for an SMTP relay: it logs the envelope and drops the body.
type LogEmailSender struct {
	log *zap.Logger
}

// NewLogEmailSender returns an EmailSender that logs to l.
func NewLogEmailSender(l *zap.Logger) *LogEmailSender {
	return &LogEmailSender{log: logger.WithComponent(l, "email")}
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.log.Info("email sent", zap.String("to", MaskRecipient(to)), zap.String("subject", subject))
	return nil
}
