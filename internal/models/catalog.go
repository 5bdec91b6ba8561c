package models

import "github.com/shopspring/decimal"

// PriceUnit is the quantity a service price is quoted for.
const PriceUnit = 1000

// MoneyScale is the number of decimal places balances are kept at.
const MoneyScale = 2

type Service struct {
	ID          int64           `json:"id"`
	Category    string          `json:"category"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	MinQuantity int64           `json:"min_quantity"`
	MaxQuantity int64           `json:"max_quantity"`
	Active      bool            `json:"active"`
}

// Cost returns price * quantity / PriceUnit, rounded up to MoneyScale.
func (s Service) Cost(quantity int64) decimal.Decimal {
	return s.Price.Mul(decimal.NewFromInt(quantity)).Div(decimal.NewFromInt(PriceUnit)).RoundUp(MoneyScale)
}

// FitsMoneyScale reports whether d has at most MoneyScale decimal places.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// Accepts reports whether quantity lies within the service's order bounds.
func (s Service) Accepts(quantity int64) bool {
	return quantity >= s.MinQuantity && quantity <= s.MaxQuantity
}
