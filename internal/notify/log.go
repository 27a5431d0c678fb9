package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"authgate/internal/platform/logger"
)

// LogNotifier writes a line per message. The OTP and body are never logged.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a notifier that logs to l.
func NewLogNotifier(l *zap.Logger) *LogNotifier {
	return &LogNotifier{log: logger.WithComponent(l, "notify")}
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info("notification",
		zap.String("id", msg.ID),
		zap.String("channel", string(msg.Channel)),
		zap.String("recipient", MaskRecipient(msg.Recipient)),
		zap.String("tag", msg.Tag),
		zap.String("user_id", msg.UserID),
	)
	return nil
}

// MaskRecipient keeps the first character and the domain of an email, or the last four digits of a phone.
func MaskRecipient(r string) string {
	if r == "" {
		return ""
	}
	if at := strings.LastIndex(r, "@"); at > 0 {
		return r[:1] + "***" + r[at:]
	}
	if len(r) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(r)-4) + r[len(r)-4:]
}
