package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// ConsumerConfig contains configuration for the payment callback consumer
type ConsumerConfig struct {
	Brokers              []string
	GroupID              string
	Topics               []string
	SessionTimeoutMs     int
	HeartbeatMs          int
	RetryBackoffMs       int
	MaxProcessingTime    time.Duration
	OffsetOldest         bool
	MaxRetries           int
	RetryBackoffDuration time.Duration
}

func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:              []string{"localhost:9092"},
		GroupID:              "zomestay-payment-reconciler",
		Topics:               []string{"payment-callbacks"},
		SessionTimeoutMs:     30000,
		HeartbeatMs:          3000,
		RetryBackoffMs:       100,
		MaxProcessingTime:    time.Minute,
		OffsetOldest:         true,
		MaxRetries:           3,
		RetryBackoffDuration: time.Second,
	}
}

// CallbackHandler is what the consumer feeds; Reconciler satisfies it.
type CallbackHandler interface {
	OnCallback(ctx context.Context, cb Callback) (Outcome, error)
}

// CallbackConsumer reads payment results relayed onto Kafka by gateway
// bridges and reconciles them exactly like webhook deliveries.
type CallbackConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        *ConsumerConfig
	handler       CallbackHandler
	log           *logger.Logger
	wg            sync.WaitGroup
}

func NewCallbackConsumer(config *ConsumerConfig, handler CallbackHandler) (*CallbackConsumer, error) {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMs) * time.Millisecond
	saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatMs) * time.Millisecond
	saramaConfig.Consumer.Retry.Backoff = time.Duration(config.RetryBackoffMs) * time.Millisecond
	saramaConfig.Consumer.MaxProcessingTime = config.MaxProcessingTime
	saramaConfig.Consumer.Return.Errors = true

	if config.OffsetOldest {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	// Offsets are committed only after a message was reconciled.
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Second

	consumerGroup, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &CallbackConsumer{
		consumerGroup: consumerGroup,
		config:        config,
		handler:       handler,
		log:           logger.GetDefault().WithComponent("payment-consumer"),
	}, nil
}

func (cc *CallbackConsumer) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	cc.log.Info("Starting payment callback consumers",
		slog.Int("workers", numWorkers),
		slog.Any("topics", cc.config.Topics),
	)

	go cc.handleErrors()

	for i := 0; i < numWorkers; i++ {
		cc.wg.Add(1)
		go func(workerID int) {
			defer cc.wg.Done()
			cc.runWorker(ctx, workerID)
		}(i)
	}
}

func (cc *CallbackConsumer) runWorker(ctx context.Context, workerID int) {
	handler := &consumerGroupHandler{consumer: cc, workerID: workerID}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := cc.consumerGroup.Consume(ctx, cc.config.Topics, handler); err != nil {
				cc.log.Error("error consuming payment callbacks",
					slog.Int("worker", workerID), slog.String("error", err.Error()))
				time.Sleep(time.Second)
			}
		}
	}
}

func (cc *CallbackConsumer) handleErrors() {
	for err := range cc.consumerGroup.Errors() {
		cc.log.Error("consumer group error", slog.String("error", err.Error()))
	}
}

// Stop closes the group and waits for the workers; cancel the Start
// context first.
func (cc *CallbackConsumer) Stop() error {
	if err := cc.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	cc.wg.Wait()
	cc.log.Info("Payment callback consumer stopped")
	return nil
}

type consumerGroupHandler struct {
	consumer *CallbackConsumer
	workerID int
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}
			if err := h.consumer.processMessage(session.Context(), message); err != nil {
				h.consumer.log.Error("payment callback not processed",
					slog.Int("worker", h.workerID),
					slog.Int64("offset", message.Offset),
					slog.String("error", err.Error()),
				)
				// Leave the offset unmarked; the next session redelivers.
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (cc *CallbackConsumer) processMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var cb Callback
	if err := json.Unmarshal(message.Value, &cb); err != nil {
		// A poison message would block the partition forever.
		cc.log.Warn("dropping undecodable payment callback",
			slog.String("topic", message.Topic),
			slog.Int64("offset", message.Offset),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if cb.Reference == "" && len(message.Key) > 0 {
		cb.Reference = string(message.Key)
	}
	if cb.ReceivedAt.IsZero() {
		cb.ReceivedAt = message.Timestamp
	}
	return cc.executeWithRetry(ctx, cb)
}

func (cc *CallbackConsumer) executeWithRetry(ctx context.Context, cb Callback) error {
	maxRetries := cc.config.MaxRetries
	backoff := cc.config.RetryBackoffDuration

	for attempt := 0; ; attempt++ {
		_, err := cc.handler.OnCallback(ctx, cb)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		delay := backoff * time.Duration(1<<attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
