// Package notify hands OTPs and session-security notices to a delivery channel.
// Sending is fire-and-forget from the caller's point of view: failures are logged, never
// used to unwind state that was already committed.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Channel is the delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Message tags.
const (
	TagOTP             = "otp"
	TagSessionEvicted  = "session_evicted"
	TagSessionReplaced = "session_replaced"
)

// Message is one outbound notification. Code is set only for OTP messages.
type Message struct {
	ID        string    `json:"id"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Code      string    `json:"code,omitempty"`
	Tag       string    `json:"tag"`
	UserID    string    `json:"user_id"`
	Factor    string    `json:"factor,omitempty"`
	Context   string    `json:"context,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNoRecipient is returned when a message has no recipient address.
var ErrNoRecipient = errors.New("notify: message has no recipient")

// Notifier sends a message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, Message) error { return nil }

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}

// Stamp fills ID and CreatedAt when unset.
func Stamp(msg Message, now time.Time) Message {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	return msg
}
