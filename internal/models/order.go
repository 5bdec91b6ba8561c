package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// ValidOrderStatus reports whether status is one operators may set.
func ValidOrderStatus(status string) bool {
	switch status {
	case OrderPending, OrderProcessing, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

type Order struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	ServiceID  int64           `json:"service_id"`
	Link       string          `json:"link"`
	Quantity   int64           `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}
