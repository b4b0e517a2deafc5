package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/models"
)

// Redis stream keys for notification delivery.
const (
	NotificationStream    = "vnfm:notifications"
	NotificationDLQStream = "vnfm:notifications:dlq"

	// StreamMaxLen bounds the delivery stream so a dead consumer cannot
	// grow it without limit.
	StreamMaxLen = 100000
)

// Dispatcher fans lifecycle state changes out to matching subscriptions by
// enqueueing delivery jobs on a Redis stream. Enqueueing is fire and forget:
// a delivery failure never blocks or fails the lifecycle operation that
// triggered it.
type Dispatcher struct {
	subs   SubscriptionStore
	client redis.UniversalClient
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(subs SubscriptionStore, client redis.UniversalClient, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		subs:   subs,
		client: client,
		logger: logger,
	}
}

// OperationStateChanged enqueues one notification per matching subscription.
func (d *Dispatcher) OperationStateChanged(inst *models.VnfInstance, occ *models.LcmOpOcc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	subs, err := d.subs.List(ctx)
	if err != nil {
		DispatchErrorsTotal.WithLabelValues("list_subscriptions").Inc()
		d.logger.Error("Failed to list subscriptions for notification",
			zap.String("op_occ_id", occ.ID),
			zap.Error(err))
		return
	}

	for _, sub := range subs {
		if !sub.Matches(occ) {
			continue
		}

		n := &Notification{
			ID:               uuid.NewString(),
			NotificationType: NotificationTypeLcmOpOcc,
			SubscriptionID:   sub.ID,
			CallbackURI:      sub.CallbackURI,
			TimeStamp:        time.Now().UTC(),
			VnfInstanceID:    occ.VnfInstanceID,
			LcmOpOccID:       occ.ID,
			Operation:        occ.Operation,
			OperationState:   occ.OperationState,
			Error:            occ.Error,
		}
		if err := d.enqueue(ctx, n); err != nil {
			DispatchErrorsTotal.WithLabelValues("enqueue").Inc()
			d.logger.Error("Failed to enqueue notification",
				zap.String("notification_id", n.ID),
				zap.String("subscription_id", sub.ID),
				zap.Error(err))
			continue
		}
		NotificationsEnqueuedTotal.WithLabelValues(string(occ.Operation), string(occ.OperationState)).Inc()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	return d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: NotificationStream,
		MaxLen: StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"notification":    string(payload),
			"callback":        n.CallbackURI,
			"subscription_id": n.SubscriptionID,
		},
	}).Err()
}
