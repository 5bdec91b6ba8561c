package menu

import (
	"context"
	"fmt"
	"strings"

	"smmpanel/internal/gateway"
	"smmpanel/internal/models"
	"smmpanel/internal/settings"
)

func adminBack() gateway.Keyboard {
	return back(AdminPanel)
}

// IsAdminChoice reports whether a choice belongs to the operator panel.
func IsAdminChoice(choice string) bool {
	return strings.HasPrefix(choice, "admin_") || choice == AdminToggleGroup
}

func (m *Menu) Panel() Screen {
	return Screen{
		Text: "⚙️ Admin Panel\n\nSelect an option to manage:",
		Keyboard: gateway.Keyboard{
			gateway.Row(gateway.Choice{Label: "📥 Pending Deposits", Data: AdminPending}),
			gateway.Row(gateway.Choice{Label: "🔗 Group Settings", Data: AdminGroupSettings}),
			gateway.Row(gateway.Choice{Label: "📊 Statistics", Data: AdminStatistics}),
		},
	}
}

// PendingDeposits lists the oldest pending deposits with decision buttons.
func (m *Menu) PendingDeposits(snap settings.Snapshot, deposits []models.Deposit, keyboard func(int64) gateway.Keyboard) Screen {
	if len(deposits) == 0 {
		return Screen{Text: "📭 No pending deposits.", Keyboard: adminBack()}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📥 Pending Deposits (%d)\n", len(deposits))
	var kb gateway.Keyboard
	for i, d := range deposits {
		if i == pendingPageSize {
			fmt.Fprintf(&b, "\n…and %d more", len(deposits)-pendingPageSize)
			break
		}
		fmt.Fprintf(&b, "\n#%d user %d: %s%s, TRX %s", d.ID, d.UserID, d.Amount.String(), snap.Currency(), d.TransactionID)
		kb = append(kb, keyboard(d.ID)...)
	}
	kb = append(kb, adminBack()...)
	return Screen{Text: b.String(), Keyboard: kb}
}

func (m *Menu) GroupSettings(snap settings.Snapshot) Screen {
	status, toggle := "❌ Disabled", "Enable"
	if snap.GroupCheck() {
		status, toggle = "✅ Enabled", "Disable"
	}
	text := fmt.Sprintf("🔗 Group Settings\n\nStatus: %s\nGroup Link: %s\nMessage:\n%s",
		status, snap.Get(settings.KeyGroupLink), snap.Get(settings.KeyGroupMessage))
	kb := gateway.Keyboard{gateway.Row(gateway.Choice{Label: toggle, Data: AdminToggleGroup})}
	kb = append(kb, adminBack()...)
	return Screen{Text: text, Keyboard: kb}
}

func (m *Menu) AdminStatistics(ctx context.Context, snap settings.Snapshot) (Screen, error) {
	return m.statistics(ctx, snap, true)
}
