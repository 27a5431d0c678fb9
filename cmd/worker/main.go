// Worker consumes notification messages from Kafka and delivers them over SMS or email.
// Set KAFKA_BROKERS, NOTIFY_KAFKA_TOPIC, KAFKA_GROUP_ID and SMS_LOCAL_API_KEY.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"authgate/internal/config"
	"authgate/internal/mfa/sms"
	"authgate/internal/notify"
	"authgate/internal/platform/logger"
)

const deliverTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	log = logger.WithComponent(log, "worker")
	defer func() { _ = log.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	var smsSender notify.SMSSender
	if cfg.SMSLocalAPIKey != "" {
		smsSender = sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender)
	} else {
		log.Warn("SMS_LOCAL_API_KEY not set; SMS messages will fail")
	}
	deliverer := notify.NewDeliverer(smsSender, notify.NewLogEmailSender(log), log)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.NotifyKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("consuming", zap.String("topic", cfg.NotifyKafkaTopic), zap.String("group", cfg.KafkaGroupID))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("stopped")
				return
			}
			log.Warn("kafka read error", zap.Error(err))
			continue
		}
		m, err := notify.Decode(msg.Value)
		if err != nil {
			log.Warn("dropping undecodable message", zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		// Expired codes are useless to the recipient.
		if m.Tag == notify.TagOTP && !m.ExpiresAt.IsZero() && time.Now().After(m.ExpiresAt) {
			log.Info("dropping expired otp", zap.String("id", m.ID))
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		if err := deliverer.Deliver(dctx, m); err != nil {
			log.Warn("delivery failed", zap.String("id", m.ID), zap.String("channel", string(m.Channel)), zap.Error(err))
		}
		cancel()
	}
}
