package notify

import (
	"context"

	"authgate/internal/devotp"
)

// DevNotifier records OTP codes in the dev store so DevService GetOTP can return them.
// Non-OTP messages are ignored. Wire it only outside production.
type DevNotifier struct {
	store devotp.Store
}

// NewDevNotifier returns a notifier writing to store.
func NewDevNotifier(store devotp.Store) *DevNotifier {
	return &DevNotifier{store: store}
}

func (d *DevNotifier) Send(ctx context.Context, msg Message) error {
	if d == nil || d.store == nil || msg.Tag != TagOTP || msg.Code == "" {
		return nil
	}
	d.store.Put(ctx, devotp.Key{UserID: msg.UserID, Factor: msg.Factor, Context: msg.Context}, msg.Code, msg.ExpiresAt)
	return nil
}
