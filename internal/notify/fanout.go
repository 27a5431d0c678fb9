package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"authgate/internal/platform/logger"
	"authgate/internal/platform/metrics"
)

// sendTimeout bounds one asynchronous send.
const sendTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before closing notifiers,
// so in-flight async sends have time to complete. Must be >= sendTimeout.
const ShutdownDrainDuration = sendTimeout

// Fanout sends each message to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async wraps a Notifier so Send returns immediately. The send runs in a goroutine on a fresh
// context with sendTimeout, so request cancellation does not abort it. Failures are logged and counted.
type Async struct {
	next    Notifier
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewAsync returns an asynchronous wrapper around next. l and m may be nil.
func NewAsync(next Notifier, l *zap.Logger, m *metrics.Metrics) *Async {
	return &Async{next: OrNop(next), log: logger.WithComponent(l, "notify"), metrics: m}
}

func (a *Async) Send(_ context.Context, msg Message) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.next.Send(ctx, msg); err != nil {
			a.metrics.NotificationFailed(string(msg.Channel))
			a.log.Warn("async send failed", zap.String("id", msg.ID), zap.String("tag", msg.Tag), zap.Error(err))
		}
	}()
	return nil
}
