// Package notify implements lifecycle change notifications: subscription
// management, a Redis Stream dispatch queue, and webhook delivery workers.
// Dispatch is fire-and-forget; a delivery failure never blocks or rolls back
// the operation state machine.
package notify

import (
	"time"

	"github.com/piwi3910/vnfweave/internal/models"
)

// NotificationTypeLcmOpOcc is the notification type emitted for operation
// state changes, per SOL003 LCCN.
const NotificationTypeLcmOpOcc = "VnfLcmOperationOccurrenceNotification"

// SubscriptionFilter narrows which operation events a subscriber receives.
// Empty slices match everything.
type SubscriptionFilter struct {
	// VnfInstanceIDs restricts to specific instances.
	VnfInstanceIDs []string `json:"vnfInstanceIds,omitempty"`

	// OperationTypes restricts to specific operations.
	OperationTypes []models.LcmOperation `json:"operationTypes,omitempty"`

	// OperationStates restricts to specific occurrence states.
	OperationStates []models.OperationState `json:"operationStates,omitempty"`
}

// Subscription is one registered notification endpoint.
type Subscription struct {
	// ID is the UUID of the subscription.
	ID string `json:"id"`

	// CallbackURI receives notification POSTs.
	CallbackURI string `json:"callbackUri"`

	// Filter narrows the delivered events.
	Filter SubscriptionFilter `json:"filter,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether an occurrence event passes the subscription
// filter.
func (s *Subscription) Matches(occ *models.LcmOpOcc) bool {
	if len(s.Filter.VnfInstanceIDs) > 0 && !containsString(s.Filter.VnfInstanceIDs, occ.VnfInstanceID) {
		return false
	}
	if len(s.Filter.OperationTypes) > 0 {
		found := false
		for _, op := range s.Filter.OperationTypes {
			if op == occ.Operation {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Filter.OperationStates) > 0 {
		found := false
		for _, st := range s.Filter.OperationStates {
			if st == occ.OperationState {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Notification is the payload POSTed to subscriber callbacks.
type Notification struct {
	// ID is the UUID of this notification.
	ID string `json:"id"`

	// NotificationType is always NotificationTypeLcmOpOcc.
	NotificationType string `json:"notificationType"`

	// SubscriptionID is the subscription this delivery belongs to.
	SubscriptionID string `json:"subscriptionId"`

	// CallbackURI is the delivery target, carried so workers need no
	// subscription lookup.
	CallbackURI string `json:"-"`

	TimeStamp time.Time `json:"timeStamp"`

	VnfInstanceID  string                 `json:"vnfInstanceId"`
	LcmOpOccID     string                 `json:"vnfLcmOpOccId"`
	Operation      models.LcmOperation    `json:"operation"`
	OperationState models.OperationState  `json:"operationState"`
	Error          *models.ProblemDetails `json:"error,omitempty"`
}
