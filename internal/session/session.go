// Package session keeps the per-user dialog state between messages.
package session

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"smmpanel/internal/models"
)

type State string

const (
	Idle                     State = ""
	AwaitingDepositAmount    State = "awaiting_deposit_amount"
	AwaitingDepositReference State = "awaiting_deposit_reference"
	AwaitingOrderLink        State = "awaiting_order_link"
	AwaitingOrderQuantity    State = "awaiting_order_quantity"
)

// Session is the tagged dialog state plus its step-scoped scratch data. Only
// the fields of the active dialog are meaningful.
type Session struct {
	State State `json:"state"`

	// Deposit dialog
	Amount decimal.Decimal `json:"amount"`

	// Order dialog; Service is frozen at selection time.
	Service *models.Service `json:"service,omitempty"`
	Link    string          `json:"link,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (s Session) Active() bool {
	return s.State != Idle
}

// Store holds sessions keyed by user id. Get on an unknown or expired user
// returns an Idle session.
type Store interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Put(ctx context.Context, userID int64, s Session) error
	Clear(ctx context.Context, userID int64) error
}
