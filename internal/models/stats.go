package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Statistics struct {
	TotalUsers    int64           `json:"total_users"`
	TotalDeposits decimal.Decimal `json:"total_deposits"`
	TotalOrders   int64           `json:"total_orders"`
	TodayUsers    int64           `json:"today_users"`
	TodayOrders   int64           `json:"today_orders"`
}

type BroadcastLog struct {
	ID          int64     `json:"id"`
	AdminID     int64     `json:"admin_id"`
	MessageType string    `json:"message_type"`
	UsersCount  int       `json:"users_count"`
	SentAt      time.Time `json:"sent_at"`
}

type BroadcastRequest struct {
	Text string `json:"text"`
}
