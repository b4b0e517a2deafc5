package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ConsumerGroup is the consumer group name for delivery workers.
	ConsumerGroup = "lccn-workers"

	// DefaultWorkerCount is the default number of worker goroutines.
	DefaultWorkerCount = 10

	// DefaultHTTPTimeout is the default HTTP client timeout.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultMaxRetries is the default maximum number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default base backoff duration for retries.
	DefaultRetryBackoff = 1 * time.Second

	// DefaultMaxBackoff is the default maximum backoff duration.
	DefaultMaxBackoff = 5 * time.Minute
)

// Worker delivers lifecycle notifications from the Redis stream to
// subscriber callback endpoints.
type Worker struct {
	client redis.UniversalClient
	logger *zap.Logger

	// HTTPClient is the client used for callback delivery. Exported so
	// tests can substitute transports.
	HTTPClient *http.Client

	WorkerCount int
	MaxRetries  int

	retryBackoff time.Duration
	maxBackoff   time.Duration

	// hmacSecret signs delivery payloads when non-empty.
	hmacSecret string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WorkerConfig holds configuration for creating a Worker.
type WorkerConfig struct {
	// RedisClient is used for stream operations.
	RedisClient redis.UniversalClient

	// Logger is the logger to use.
	Logger *zap.Logger

	// WorkerCount is the number of worker goroutines (default: 10).
	WorkerCount int

	// Timeout is the HTTP client timeout (default: 10s).
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts (default: 3).
	MaxRetries int

	// RetryBackoff is the base backoff duration for retries (default: 1s).
	RetryBackoff time.Duration

	// MaxBackoff is the maximum backoff duration (default: 5m).
	MaxBackoff time.Duration

	// HMACSecret is the secret key for HMAC signature generation.
	HMACSecret string
}

// NewWorker creates a new delivery Worker.
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.RedisClient == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	workerCount := cfg.WorkerCount
	if workerCount == 0 {
		workerCount = DefaultWorkerCount
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = DefaultRetryBackoff
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff == 0 {
		maxBackoff = DefaultMaxBackoff
	}

	return &Worker{
		client:       cfg.RedisClient,
		HTTPClient:   &http.Client{Timeout: timeout},
		logger:       cfg.Logger,
		WorkerCount:  workerCount,
		MaxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		maxBackoff:   maxBackoff,
		hmacSecret:   cfg.HMACSecret,
		stopCh:       make(chan struct{}),
	}, nil
}

// Start starts the worker and blocks until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting notification worker",
		zap.Int("worker_count", w.WorkerCount))

	if err := w.CreateConsumerGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for i := 0; i < w.WorkerCount; i++ {
		w.wg.Add(1)
		consumerName := fmt.Sprintf("worker-%d", i)
		go w.processMessages(ctx, consumerName)
	}

	ActiveWorkersGauge.Set(float64(w.WorkerCount))

	w.logger.Info("notification worker started successfully")

	<-ctx.Done()

	return w.Stop()
}

// Stop stops the worker and waits for all goroutines to finish. Safe to
// call more than once.
func (w *Worker) Stop() error {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping notification worker")

		close(w.stopCh)
		w.wg.Wait()

		ActiveWorkersGauge.Set(0)

		w.logger.Info("notification worker stopped")
	})
	return nil
}

// CreateConsumerGroup creates the Redis Stream consumer group.
func (w *Worker) CreateConsumerGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, NotificationStream, ConsumerGroup, "0").Err()
	if err != nil {
		// Ignore error if group already exists
		if err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
		w.logger.Debug("consumer group already exists")
	} else {
		w.logger.Info("consumer group created")
	}
	return nil
}

func (w *Worker) processMessages(ctx context.Context, name string) {
	defer w.wg.Done()

	w.logger.Info("worker started",
		zap.String("consumer", name))

	for {
		select {
		case <-w.stopCh:
			w.logger.Info("worker stopping",
				zap.String("consumer", name))
			return
		case <-ctx.Done():
			w.logger.Info("worker context canceled",
				zap.String("consumer", name))
			return
		default:
			if err := w.ProcessNextMessage(ctx, name); err != nil {
				w.logger.Error("failed to process message",
					zap.String("consumer", name),
					zap.Error(err))
				// Brief sleep to avoid a tight loop on persistent errors
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// ProcessNextMessage reads and processes the next message from the stream.
func (w *Worker) ProcessNextMessage(ctx context.Context, consumerName string) error {
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: consumerName,
		Streams:  []string{NotificationStream, ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()

	if err != nil {
		// Timeout is expected when no messages are available
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := w.HandleMessage(ctx, message); err != nil {
				w.logger.Error("failed to handle message",
					zap.String("message_id", message.ID),
					zap.Error(err))
				// Continue processing other messages
			}
		}
	}

	return nil
}

// HandleMessage processes a single message from the stream.
func (w *Worker) HandleMessage(ctx context.Context, msg redis.XMessage) error {
	data, ok := msg.Values["notification"].(string)
	if !ok {
		w.logger.Error("invalid notification data in message")
		// Acknowledge invalid message to remove it from pending
		return w.AcknowledgeMessage(ctx, msg.ID)
	}

	var n Notification
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		w.logger.Error("failed to unmarshal notification",
			zap.Error(err))
		return w.AcknowledgeMessage(ctx, msg.ID)
	}

	// Callback URI rides the stream envelope, not the payload.
	callback, _ := msg.Values["callback"].(string)
	if callback == "" {
		w.logger.Error("message has no callback URI",
			zap.String("notification_id", n.ID))
		return w.AcknowledgeMessage(ctx, msg.ID)
	}
	n.CallbackURI = callback

	startTime := time.Now()
	if err := w.DeliverWithRetries(ctx, &n); err != nil {
		w.logger.Error("failed to deliver notification after retries",
			zap.String("subscription", n.SubscriptionID),
			zap.Error(err))

		DeliveriesTotal.WithLabelValues(n.SubscriptionID, "failed").Inc()

		if err := w.MoveToDLQ(ctx, &n, msg.ID); err != nil {
			w.logger.Error("failed to move to DLQ",
				zap.Error(err))
		}
	} else {
		DeliveriesTotal.WithLabelValues(n.SubscriptionID, "success").Inc()
		DeliveryLatency.WithLabelValues(n.SubscriptionID).Observe(time.Since(startTime).Seconds())
	}

	return w.AcknowledgeMessage(ctx, msg.ID)
}

// DeliverWithRetries attempts delivery with exponential backoff.
func (w *Worker) DeliverWithRetries(ctx context.Context, n *Notification) error {
	var lastErr error

	for attempt := 0; attempt <= w.MaxRetries; attempt++ {
		if attempt > 0 {
			// #nosec G115 - attempt is bounded by maxRetries
			backoff := w.retryBackoff * time.Duration(1<<uint(attempt-1))
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}

			w.logger.Info("retrying notification delivery",
				zap.String("subscription", n.SubscriptionID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			RetriesTotal.WithLabelValues(n.SubscriptionID, fmt.Sprintf("%d", attempt)).Inc()

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context canceled during retry: %w", ctx.Err())
			}
		}

		if err := w.Deliver(ctx, n); err != nil {
			lastErr = err
			w.logger.Warn("notification delivery failed",
				zap.String("subscription", n.SubscriptionID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		w.logger.Info("notification delivered",
			zap.String("subscription", n.SubscriptionID),
			zap.Int("attempts", attempt+1))
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Deliver delivers a notification via HTTP POST to the callback URI.
func (w *Worker) Deliver(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.CallbackURI, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Vnfm-Notification-Id", n.ID)
	req.Header.Set("X-Vnfm-Subscription-Id", n.SubscriptionID)

	if w.hmacSecret != "" {
		req.Header.Set("X-Vnfm-Signature", w.GenerateHMAC(payload))
	}

	resp, err := w.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			w.logger.Warn("failed to close response body",
				zap.Error(closeErr))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-2xx status: %d, body: %s",
			resp.StatusCode, string(respBody))
	}

	return nil
}

// GenerateHMAC generates an HMAC-SHA256 signature for the payload.
func (w *Worker) GenerateHMAC(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(w.hmacSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// AcknowledgeMessage acknowledges a message to remove it from pending.
func (w *Worker) AcknowledgeMessage(ctx context.Context, messageID string) error {
	if err := w.client.XAck(ctx, NotificationStream, ConsumerGroup, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// MoveToDLQ moves a failed notification to the dead letter queue.
func (w *Worker) MoveToDLQ(ctx context.Context, n *Notification, messageID string) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: NotificationDLQStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"notification":    string(data),
			"callback":        n.CallbackURI,
			"original_id":     messageID,
			"failed_at":       time.Now().Format(time.RFC3339),
			"subscription_id": n.SubscriptionID,
		},
	}

	if _, err := w.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to DLQ: %w", err)
	}

	DLQTotal.WithLabelValues(n.SubscriptionID).Inc()

	w.logger.Info("notification moved to DLQ",
		zap.String("subscription", n.SubscriptionID),
		zap.String("message_id", messageID))

	return nil
}
