// Package settings exposes the runtime-editable storefront configuration as
// an immutable snapshot read once per handled event.
package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"smmpanel/internal/apperr"
	"smmpanel/internal/models"
)

const (
	KeyWelcomeMessage      = "welcome_message"
	KeyBotName             = "bot_name"
	KeySupportUsername     = "support_username"
	KeyInviteBonus         = "invite_bonus"
	KeyDepositMinimum      = "deposit_minimum"
	KeyCurrency            = "currency"
	KeyFooterText          = "footer_text"
	KeyThemeEmoji          = "theme_emoji"
	KeyButtonBalance       = "button_balance"
	KeyButtonServices      = "button_services"
	KeyButtonPrices        = "button_prices"
	KeyButtonDeposit       = "button_deposit"
	KeyButtonInvite        = "button_invite"
	KeyButtonSupport       = "button_support"
	KeyButtonStats         = "button_stats"
	KeyDepositInstructions = "deposit_instructions"
	KeyPaymentNumbers      = "payment_numbers"
	KeyGroupCheck          = "group_check"
	KeyGroupLink           = "group_link"
	KeyGroupMessage        = "group_message"
	KeyVerifyButton        = "verify_button"
)

// Defaults are seeded into an empty settings table and back any key that is
// missing from the store.
var Defaults = map[string]string{
	KeyWelcomeMessage:      "🚀 Welcome to SMM Panel Bot!\n\nUse the buttons below to navigate.",
	KeyBotName:             "SMM Panel Bot",
	KeySupportUsername:     "@SMMSupport",
	KeyInviteBonus:         "10",
	KeyDepositMinimum:      "50",
	KeyCurrency:            "৳",
	KeyFooterText:          "© 2024 SMM Panel Bot",
	KeyThemeEmoji:          "🎨",
	KeyButtonBalance:       "💰 Balance",
	KeyButtonServices:      "🛒 Get Service",
	KeyButtonPrices:        "📊 Price & Info",
	KeyButtonDeposit:       "💳 Deposit",
	KeyButtonInvite:        "👥 Invite",
	KeyButtonSupport:       "🆘 Support",
	KeyButtonStats:         "📈 Statistics",
	KeyDepositInstructions: "Send money to:\n📱 bKash: 01XXXXXXXXX\n📱 Nagad: 01XXXXXXXXX\n📱 Rocket: 01XXXXXXXXX\n\nAfter sending, submit transaction ID.",
	KeyPaymentNumbers:      `{"bkash":"01XXXXXXXXX","nagad":"01XXXXXXXXX","rocket":"01XXXXXXXXX"}`,
	KeyGroupCheck:          "1",
	KeyGroupLink:           "https://t.me/yourgroup",
	KeyGroupMessage:        "🔗 Join our group to use the bot:\n👉 https://t.me/yourgroup",
	KeyVerifyButton:        "✅ I Have Joined",
}

// Source is the subset of the Data Store the loader needs.
type Source interface {
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Snapshot is a read-only view of the settings table. The zero value serves
// Defaults.
type Snapshot struct {
	values map[string]string
}

// Load reads every setting once and overlays it on Defaults.
func Load(ctx context.Context, src Source) (Snapshot, error) {
	stored, err := src.ListSettings(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return FromMap(stored), nil
}

func FromMap(stored map[string]string) Snapshot {
	values := make(map[string]string, len(Defaults)+len(stored))
	for k, v := range Defaults {
		values[k] = v
	}
	for k, v := range stored {
		values[k] = v
	}
	return Snapshot{values: values}
}

// Get returns the raw value for key, falling back to Defaults.
func (s Snapshot) Get(key string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return Defaults[key]
}

// Decimal parses key as a decimal, returning the default on a malformed value.
func (s Snapshot) Decimal(key string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s.Get(key)))
	if err != nil {
		d, _ = decimal.NewFromString(Defaults[key])
	}
	return d
}

func (s Snapshot) DepositMinimum() decimal.Decimal { return s.Decimal(KeyDepositMinimum) }
func (s Snapshot) InviteBonus() decimal.Decimal    { return s.Decimal(KeyInviteBonus) }
func (s Snapshot) Currency() string                { return s.Get(KeyCurrency) }

// GroupCheck reports whether users must join the group before using the bot.
func (s Snapshot) GroupCheck() bool {
	return strings.TrimSpace(s.Get(KeyGroupCheck)) == "1"
}

// PaymentMethod is one entry of the payment_numbers JSON object.
type PaymentMethod struct {
	Method string
	Number string
}

// PaymentNumbers returns the payment methods in document order. Invalid JSON
// yields nil.
func (s Snapshot) PaymentNumbers() []PaymentMethod {
	raw := s.Get(KeyPaymentNumbers)
	if !gjson.Valid(raw) {
		return nil
	}
	var out []PaymentMethod
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		out = append(out, PaymentMethod{Method: key.String(), Number: value.String()})
		return true
	})
	return out
}

// All returns a copy of every effective value.
func (s Snapshot) All() map[string]string {
	out := make(map[string]string, len(Defaults))
	for k, v := range Defaults {
		out[k] = v
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Validate checks value before it is stored under key.
func Validate(key, value string) error {
	if !Known(key) {
		return fmt.Errorf("setting %q: %w", key, apperr.ErrNotFound)
	}
	switch key {
	case KeyInviteBonus, KeyDepositMinimum:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || d.IsNegative() {
			return fmt.Errorf("setting %q needs a non-negative number: %w", key, apperr.ErrValidation)
		}
		if !models.FitsMoneyScale(d) {
			return fmt.Errorf("setting %q allows at most %d decimal places: %w", key, models.MoneyScale, apperr.ErrValidation)
		}
	case KeyPaymentNumbers:
		if !gjson.Valid(value) || !gjson.Parse(value).IsObject() {
			return fmt.Errorf("setting %q needs a JSON object: %w", key, apperr.ErrValidation)
		}
	case KeyGroupCheck:
		if value != "0" && value != "1" {
			return fmt.Errorf("setting %q must be 0 or 1: %w", key, apperr.ErrValidation)
		}
	}
	return nil
}

// Known reports whether key is a recognised setting.
func Known(key string) bool {
	_, ok := Defaults[key]
	return ok
}
