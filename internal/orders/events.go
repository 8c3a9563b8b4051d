package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced             = "OrderPlaced"
	EventOrderNotificationFailed = "OrderNotificationFailed"
)

const eventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	OptionID  int64     `json:"option_id"`
	Quantity  int       `json:"quantity"`
	OrderedAt time.Time `json:"ordered_at"`
}

type NotificationFailedPayload struct {
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	Cause   string `json:"cause"` // transport | timeout | remote_rejected | malformed_response
	Reason  string `json:"reason"`
}
