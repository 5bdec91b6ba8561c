package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending  DepositStatus = "pending"
	DepositApproved DepositStatus = "approved"
	DepositRejected DepositStatus = "rejected"
)

type Deposit struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method,omitempty"`
	TransactionID string          `json:"transaction_id"`
	Status        DepositStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	DecidedBy     *int64          `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
}

// Pending reports whether no operator has decided the deposit yet.
func (d Deposit) Pending() bool {
	return d.Status == DepositPending
}
