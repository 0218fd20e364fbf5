package ws

import (
	"encoding/json"
	"time"

	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/payment"
)

// StatusPublisher pushes payment status transitions to subscribed
// browsers, typically the confirmation page waiting on the webhook.
type StatusPublisher struct {
	hub *Hub
	now func() time.Time
}

func NewStatusPublisher(hub *Hub) *StatusPublisher {
	return &StatusPublisher{hub: hub, now: func() time.Time { return time.Now().UTC() }}
}

func (p *StatusPublisher) PublishStatus(transactionID string, status payment.Status, message string) {
	payload, _ := json.Marshal(map[string]any{
		"event": "payment_status_changed",
		"data": map[string]any{
			"transaction_id": transactionID,
			"status":         status,
			"message":        message,
			"at":             p.now().Format(time.RFC3339),
		},
	})
	p.hub.Publish("payment:status:"+transactionID, payload)
}
