package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID               int64           `json:"id"`
	Username         string          `json:"username"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Balance          decimal.Decimal `json:"balance"`
	TotalOrders      int64           `json:"total_orders"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	Referrals        int64           `json:"referrals"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	ReferredBy       *int64          `json:"referred_by,omitempty"`
	Banned           bool            `json:"banned"`
	JoinedAt         time.Time       `json:"joined_at"`
}

// DisplayName prefers the chat username and falls back to the first name.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

type UserBalance struct {
	UserID  int64           `json:"user_id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

type AdjustBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}
