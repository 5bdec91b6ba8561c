// Package menu renders the read-only storefront screens.
package menu

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smmpanel/internal/apperr"
	"smmpanel/internal/gateway"
	"smmpanel/internal/models"
	"smmpanel/internal/settings"
)

// Menu choice payloads.
const (
	ChoiceMainMenu = "main_menu"
	ChoiceBalance  = "balance"
	ChoiceServices = "services"
	ChoicePrices   = "prices"
	ChoiceDeposit  = "deposit"
	ChoiceInvite   = "invite"
	ChoiceSupport  = "support"
	ChoiceStats    = "stats"
	ChoiceCheck    = "check_join"
	ChoiceCancel   = "cancel"

	CategoryPrefix = "category_"
	ServicePrefix  = "service_"

	AdminPanel         = "admin_panel"
	AdminPending       = "admin_pending"
	AdminStatistics    = "admin_statistics"
	AdminGroupSettings = "admin_group_settings"
	AdminToggleGroup   = "toggle_group_check"
)

const (
	BannedText       = "🚫 You are banned from using this bot."
	AccessDeniedText = "❌ Access denied!"
	pendingPageSize  = 10
)

type Screen struct {
	Text     string
	Keyboard gateway.Keyboard
}

type Store interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	ListCategories(ctx context.Context) ([]string, error)
	ListServicesByCategory(ctx context.Context, category string) ([]models.Service, error)
	ListServices(ctx context.Context, activeOnly bool) ([]models.Service, error)
	Statistics(ctx context.Context, since time.Time) (models.Statistics, error)
}

type Menu struct {
	store       Store
	botUsername string
	now         func() time.Time
}

func New(store Store, botUsername string) *Menu {
	return &Menu{store: store, botUsername: botUsername, now: time.Now}
}

func MainKeyboard(snap settings.Snapshot) gateway.Keyboard {
	b := func(key, data string) gateway.Choice {
		return gateway.Choice{Label: snap.Get(key), Data: data}
	}
	return gateway.Keyboard{
		gateway.Row(b(settings.KeyButtonBalance, ChoiceBalance), b(settings.KeyButtonServices, ChoiceServices)),
		gateway.Row(b(settings.KeyButtonPrices, ChoicePrices), b(settings.KeyButtonDeposit, ChoiceDeposit)),
		gateway.Row(b(settings.KeyButtonInvite, ChoiceInvite), b(settings.KeyButtonSupport, ChoiceSupport)),
		gateway.Row(b(settings.KeyButtonStats, ChoiceStats)),
	}
}

func BackToMain() gateway.Keyboard {
	return gateway.Keyboard{gateway.Row(gateway.Choice{Label: "🔙 Back to Main Menu", Data: ChoiceMainMenu})}
}

func back(data string) gateway.Keyboard {
	return gateway.Keyboard{gateway.Row(gateway.Choice{Label: "🔙 Back", Data: data})}
}

func (m *Menu) Welcome(snap settings.Snapshot) Screen {
	return Screen{
		Text:     fmt.Sprintf("👋 Welcome to %s\n\n%s", snap.Get(settings.KeyBotName), snap.Get(settings.KeyWelcomeMessage)),
		Keyboard: MainKeyboard(snap),
	}
}

// GroupGate asks the user to join the group before anything else.
func (m *Menu) GroupGate(snap settings.Snapshot) Screen {
	return Screen{
		Text: snap.Get(settings.KeyGroupMessage),
		Keyboard: gateway.Keyboard{
			gateway.Row(gateway.Choice{Label: "🔗 Join", URL: snap.Get(settings.KeyGroupLink)}),
			gateway.Row(gateway.Choice{Label: snap.Get(settings.KeyVerifyButton), Data: ChoiceCheck}),
		},
	}
}

// Show renders the screen behind a menu choice. Unknown choices return
// ErrNotFound.
func (m *Menu) Show(ctx context.Context, snap settings.Snapshot, userID int64, choice string) (Screen, error) {
	switch {
	case choice == ChoiceMainMenu:
		return m.Welcome(snap), nil
	case choice == ChoiceBalance:
		return m.balance(ctx, snap, userID)
	case choice == ChoiceServices:
		return m.categories(ctx)
	case strings.HasPrefix(choice, CategoryPrefix):
		return m.categoryServices(ctx, snap, strings.TrimPrefix(choice, CategoryPrefix))
	case choice == ChoicePrices:
		return m.prices(ctx, snap)
	case choice == ChoiceInvite:
		return m.invite(ctx, snap, userID)
	case choice == ChoiceSupport:
		return m.support(snap), nil
	case choice == ChoiceStats:
		return m.statistics(ctx, snap, false)
	}
	return Screen{}, fmt.Errorf("menu choice %q: %w", choice, apperr.ErrNotFound)
}

func (m *Menu) balance(ctx context.Context, snap settings.Snapshot, userID int64) (Screen, error) {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return Screen{}, err
	}
	cur := snap.Currency()
	text := fmt.Sprintf("💰 Your Balance\n\nCurrent Balance: %s %s\nTotal Orders: %d\nTotal Deposits: %s %s",
		u.Balance.StringFixed(2), cur, u.TotalOrders, u.TotalDeposits.StringFixed(2), cur)
	return Screen{Text: text, Keyboard: BackToMain()}, nil
}

func (m *Menu) categories(ctx context.Context) (Screen, error) {
	cats, err := m.store.ListCategories(ctx)
	if err != nil {
		return Screen{}, err
	}
	if len(cats) == 0 {
		return Screen{Text: "📭 No services available at the moment.", Keyboard: BackToMain()}, nil
	}

	kb := make(gateway.Keyboard, 0, len(cats)+1)
	for _, c := range cats {
		kb = append(kb, gateway.Row(gateway.Choice{Label: c + " Services", Data: CategoryPrefix + c}))
	}
	kb = append(kb, back(ChoiceMainMenu)...)
	return Screen{Text: "🛒 Select Service Category", Keyboard: kb}, nil
}

func (m *Menu) categoryServices(ctx context.Context, snap settings.Snapshot, category string) (Screen, error) {
	svcs, err := m.store.ListServicesByCategory(ctx, category)
	if err != nil {
		return Screen{}, err
	}
	if len(svcs) == 0 {
		return Screen{Text: fmt.Sprintf("📭 No services available in %s category.", category), Keyboard: BackToMain()}, nil
	}

	kb := make(gateway.Keyboard, 0, len(svcs)+1)
	for _, s := range svcs {
		kb = append(kb, gateway.Row(gateway.Choice{
			Label: fmt.Sprintf("%s - %s%s", s.Name, s.Price.String(), snap.Currency()),
			Data:  fmt.Sprintf("%s%d", ServicePrefix, s.ID),
		}))
	}
	kb = append(kb, back(ChoiceServices)...)
	return Screen{Text: fmt.Sprintf("📦 %s Services", category), Keyboard: kb}, nil
}

func (m *Menu) prices(ctx context.Context, snap settings.Snapshot) (Screen, error) {
	svcs, err := m.store.ListServices(ctx, true)
	if err != nil {
		return Screen{}, err
	}
	if len(svcs) == 0 {
		return Screen{Text: "📭 No services available at the moment.", Keyboard: BackToMain()}, nil
	}

	var b strings.Builder
	b.WriteString("📊 Price & Info\n")
	category := ""
	for _, s := range svcs {
		if s.Category != category {
			category = s.Category
			fmt.Fprintf(&b, "\n%s\n", category)
		}
		fmt.Fprintf(&b, "• %s: %s%s per %d (min %d, max %d)\n",
			s.Name, s.Price.String(), snap.Currency(), models.PriceUnit, s.MinQuantity, s.MaxQuantity)
	}
	return Screen{Text: b.String(), Keyboard: BackToMain()}, nil
}

// ReferralLink is the deep link that registers the opener under userID.
func (m *Menu) ReferralLink(userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%d", m.botUsername, userID)
}

func (m *Menu) invite(ctx context.Context, snap settings.Snapshot, userID int64) (Screen, error) {
	u, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return Screen{}, err
	}
	cur := snap.Currency()
	text := fmt.Sprintf("👥 Invite Friends & Earn\n\nInvite your friends and get %s%s for each referral!\n\n"+
		"Your referral link:\n%s\n\nTotal Referrals: %d\nEarned from referrals: %s%s",
		snap.InviteBonus().String(), cur, m.ReferralLink(userID), u.Referrals, u.ReferralEarnings.String(), cur)
	return Screen{Text: text, Keyboard: back(ChoiceMainMenu)}, nil
}

func (m *Menu) support(snap settings.Snapshot) Screen {
	text := fmt.Sprintf("🆘 Support\n\nContact our support team: %s\n\nWe're here to help you 24/7!",
		snap.Get(settings.KeySupportUsername))
	return Screen{Text: text, Keyboard: back(ChoiceMainMenu)}
}

// StartOfDay returns local midnight of t, the cut-off for "today" counters.
func StartOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

func (m *Menu) statistics(ctx context.Context, snap settings.Snapshot, admin bool) (Screen, error) {
	st, err := m.store.Statistics(ctx, StartOfDay(m.now()))
	if err != nil {
		return Screen{}, err
	}
	text := fmt.Sprintf("📈 Bot Statistics\n\n👥 Total Users: %d\n💰 Total Deposits: %s%s\n📦 Total Orders: %d\n"+
		"🆕 Today's Users: %d\n📊 Today's Orders: %d",
		st.TotalUsers, st.TotalDeposits.String(), snap.Currency(), st.TotalOrders, st.TodayUsers, st.TodayOrders)
	kb := back(ChoiceMainMenu)
	if admin {
		kb = adminBack()
	}
	return Screen{Text: text, Keyboard: kb}, nil
}
